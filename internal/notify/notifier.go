// Package notify はセッション変更の通知チャネルを提供する。
//
// 通知はベストエフォートのat-most-once配送で、取りこぼしは次回のフェッチや
// ポーリングで自己回復する。イベントはセッションIDと種別タグのみの最小ペイロードを持ち、
// 受信したクライアントは全状態を再フェッチする。
// プッシュ型（PostgreSQL LISTEN/NOTIFY）とポーリング型の2実装があり、
// 呼び出し側はNotifierインターフェースのみに依存する。
package notify

import "context"

// イベント種別タグ。クライアントは種別に関わらず再フェッチすればよい。
const (
	KindJoined      = "joined"
	KindStarted     = "started"
	KindPhase       = "phase"
	KindAction      = "action"
	KindVote        = "vote"
	KindElimination = "elimination"
	KindChanged     = "changed"
)

// Event はセッション変更イベントを表す。
// ペイロードはセッションIDと種別タグのみ。状態そのものは運ばない。
type Event struct {
	SessionID string
	Kind      string
}

// Notifier は変更通知チャネルのインターフェース。
type Notifier interface {
	// Publish はセッション変更イベントを配信する。
	// 配送はベストエフォートで、失敗してもゲーム状態の永続化には影響しない。
	Publish(ctx context.Context, event Event) error

	// Subscribe は指定セッションのイベントストリームを開始する。
	// 戻り値のキャンセル関数を呼ぶか、ctxがキャンセルされると購読は速やかに
	// 解放される。購読者が遅い場合イベントは黙って破棄される（at-most-once）。
	Subscribe(ctx context.Context, sessionID string) (<-chan Event, func(), error)
}

// Stats は通知チャネルの配送メトリクス記録用インターフェース。
type Stats interface {
	// RecordEventPublished はイベント配信を記録する。
	RecordEventPublished(kind string)
	// RecordEventDropped は購読者バッファ溢れによる破棄を記録する。
	RecordEventDropped()
}

// nopStats はStats未設定時のゼロ実装。
type nopStats struct{}

func (nopStats) RecordEventPublished(kind string) {}
func (nopStats) RecordEventDropped()              {}
