package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// StateVersionFinder はセッション状態の更新時刻を取得するインターフェース。
// repository.PostgresSessionRepoが実装する。
type StateVersionFinder interface {
	// FindStateVersion はセッションと参加者を合わせた最終更新時刻を返す。
	FindStateVersion(ctx context.Context, sessionID string) (time.Time, error)
}

// Poller は固定間隔ポーリングによる通知チャネル。
// 暗殺チェーン系のゲームで使用する。プッシュより遅延するが実装が単純で、
// 配送保証の観点ではプッシュ型と等価に扱える（どちらもベストエフォート）。
type Poller struct {
	finder   StateVersionFinder
	interval time.Duration
	logger   *slog.Logger
}

// NewPoller はPollerを生成する。
// intervalが0以下の場合はデフォルト値3秒を使用する。
func NewPoller(finder StateVersionFinder, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Poller{
		finder:   finder,
		interval: interval,
		logger:   logger,
	}
}

// Publish は何もしない。ポーリング型は配信側の協力を必要としない。
func (p *Poller) Publish(ctx context.Context, event Event) error {
	return nil
}

// Subscribe は固定間隔でセッションの更新時刻を確認し、
// 変化を検出したらイベントを発行するストリームを開始する。
// ctxのキャンセルまたはキャンセル関数の呼び出しでポーリングループは停止する。
func (p *Poller) Subscribe(ctx context.Context, sessionID string) (<-chan Event, func(), error) {
	ch := make(chan Event, subscriberBuffer)
	pollCtx, stop := context.WithCancel(ctx)

	var once sync.Once
	cancel := func() {
		once.Do(stop)
	}

	go func() {
		defer close(ch)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		lastSeen, err := p.finder.FindStateVersion(pollCtx, sessionID)
		if err != nil {
			p.logger.Warn("failed to read initial state version",
				slog.String("session_id", sessionID),
				slog.String("error", err.Error()),
			)
		}

		for {
			select {
			case <-pollCtx.Done():
				return
			case <-ticker.C:
				version, err := p.finder.FindStateVersion(pollCtx, sessionID)
				if err != nil {
					// 一時的な失敗は次のティックで再試行する
					p.logger.Warn("failed to poll state version",
						slog.String("session_id", sessionID),
						slog.String("error", err.Error()),
					)
					continue
				}
				if version.After(lastSeen) {
					lastSeen = version
					select {
					case ch <- Event{SessionID: sessionID, Kind: KindChanged}:
					default:
					}
				}
			}
		}
	}()

	return ch, cancel, nil
}

// compile-time interface check
var _ Notifier = (*Poller)(nil)
