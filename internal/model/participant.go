// Package model はドメインモデルを定義する。
package model

import "time"

// ActionKind は未解決アクションの種類を表す。
// サーバーは内容を検証しない（UIが制約する）。対象の正当性チェックは意図的に行わない。
type ActionKind string

// PendingAction は参加者のフェーズ内未解決アクションを表す。
// フェーズ境界（advance/resolve）で必ずクリアされる。
type PendingAction struct {
	TargetParticipantID string
	Kind                ActionKind
}

// Participant はセッション内のひとりのプレイヤーを表す。
// Identityは端末ごとの不透明トークンで、サーバーは構造を検査しない。
type Participant struct {
	ID          string
	SessionID   string
	Identity    string
	DisplayName string
	Role        string // 開始前は空文字列
	IsOwner     bool
	IsAlive     bool
	Pending     *PendingAction
	// TargetParticipantID は暗殺チェーンにおける現在のターゲット。
	// チェーン未構築または脱落後は空文字列。
	TargetParticipantID string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// HasWon は暗殺チェーンにおける勝利条件（自分自身がターゲット）を判定する。
func (p *Participant) HasWon() bool {
	return p.IsAlive && p.TargetParticipantID == p.ID
}
