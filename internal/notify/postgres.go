package notify

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/lib/pq"
)

// notifyChannel はLISTEN/NOTIFYで使用するPostgreSQLチャネル名。
const notifyChannel = "session_events"

// subscriberBuffer は購読者ごとのイベントバッファサイズ。
// 溢れた分は破棄される（クライアントはどのみち全状態を再フェッチする）。
const subscriberBuffer = 8

// PostgresNotifier はPostgreSQLのLISTEN/NOTIFYを使ったプッシュ型通知チャネル。
// 複数のハンドラーインスタンスが並行稼働しても、どのインスタンスが書き込んだ
// 変更も全インスタンスの購読者に届く。
type PostgresNotifier struct {
	db       *sql.DB
	listener *pq.Listener
	logger   *slog.Logger
	stats    Stats

	mu      sync.Mutex
	nextID  int
	subs    map[string]map[int]chan Event // sessionID -> subscriberID -> channel
	closed  bool
}

// NewPostgresNotifier はPostgresNotifierを生成する。
// listenerは通知用の専用接続を持つpq.Listenerを渡す。
// statsがnilの場合はメトリクスを記録しない。
func NewPostgresNotifier(db *sql.DB, listener *pq.Listener, logger *slog.Logger, stats Stats) *PostgresNotifier {
	if stats == nil {
		stats = nopStats{}
	}
	return &PostgresNotifier{
		db:       db,
		listener: listener,
		logger:   logger,
		stats:    stats,
		subs:     make(map[string]map[int]chan Event),
	}
}

// Start はLISTENを開始し、通知の配送ループを起動する。
// ctxがキャンセルされるとリスナーを閉じ、全購読チャネルを閉じる。
func (n *PostgresNotifier) Start(ctx context.Context) error {
	if err := n.listener.Listen(notifyChannel); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", notifyChannel, err)
	}

	go n.run(ctx)
	return nil
}

// run は通知を受信して購読者に配送するループ。
func (n *PostgresNotifier) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			n.shutdown()
			return
		case notification := <-n.listener.Notify:
			// 再接続時にはnilが届く。取りこぼしはポーリング/再フェッチで自己回復するため
			// 特別な追い付き処理は行わない。
			if notification == nil {
				n.logger.Warn("notify listener reconnected; events may have been missed")
				continue
			}
			event, ok := parsePayload(notification.Extra)
			if !ok {
				n.logger.Warn("invalid notify payload",
					slog.String("payload", notification.Extra),
				)
				continue
			}
			n.dispatch(event)
		}
	}
}

// dispatch はイベントを該当セッションの購読者にノンブロッキングで配送する。
// バッファが満杯の購読者への配送は破棄する。
func (n *PostgresNotifier) dispatch(event Event) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, ch := range n.subs[event.SessionID] {
		select {
		case ch <- event:
		default:
			n.stats.RecordEventDropped()
		}
	}
}

// shutdown は全購読チャネルを閉じてリスナーを停止する。
func (n *PostgresNotifier) shutdown() {
	n.mu.Lock()
	n.closed = true
	for _, subs := range n.subs {
		for _, ch := range subs {
			close(ch)
		}
	}
	n.subs = make(map[string]map[int]chan Event)
	n.mu.Unlock()

	if err := n.listener.Close(); err != nil {
		n.logger.Error("failed to close notify listener",
			slog.String("error", err.Error()),
		)
	}
}

// Publish はpg_notifyでイベントを配信する。
// 同一チャネルをLISTENしている全インスタンスに届く。
func (n *PostgresNotifier) Publish(ctx context.Context, event Event) error {
	_, err := n.db.ExecContext(ctx,
		`SELECT pg_notify($1, $2)`,
		notifyChannel, formatPayload(event),
	)
	if err != nil {
		return fmt.Errorf("failed to publish notify event: %w", err)
	}
	n.stats.RecordEventPublished(event.Kind)
	return nil
}

// Subscribe は指定セッションのイベントストリームを開始する。
func (n *PostgresNotifier) Subscribe(ctx context.Context, sessionID string) (<-chan Event, func(), error) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil, nil, fmt.Errorf("notifier is closed")
	}

	n.nextID++
	id := n.nextID
	ch := make(chan Event, subscriberBuffer)
	if n.subs[sessionID] == nil {
		n.subs[sessionID] = make(map[int]chan Event)
	}
	n.subs[sessionID][id] = ch
	n.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			if n.closed {
				return
			}
			if subs, ok := n.subs[sessionID]; ok {
				if sub, ok := subs[id]; ok {
					delete(subs, id)
					close(sub)
				}
				if len(subs) == 0 {
					delete(n.subs, sessionID)
				}
			}
		})
	}

	// クライアント切断（ctxキャンセル）で購読リソースを速やかに解放する
	go func() {
		<-ctx.Done()
		cancel()
	}()

	return ch, cancel, nil
}

// formatPayload はイベントをNOTIFYペイロード文字列にする。
func formatPayload(event Event) string {
	return event.SessionID + "|" + event.Kind
}

// parsePayload はNOTIFYペイロード文字列をイベントに戻す。
func parsePayload(payload string) (Event, bool) {
	sessionID, kind, ok := strings.Cut(payload, "|")
	if !ok || sessionID == "" || kind == "" {
		return Event{}, false
	}
	return Event{SessionID: sessionID, Kind: kind}, true
}

// compile-time interface check
var _ Notifier = (*PostgresNotifier)(nil)
