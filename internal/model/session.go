// Package model はドメインモデルを定義する。
package model

import "time"

// GameKind はセッションで遊ぶゲームの種類を表す。
type GameKind string

const (
	// GameKindJinro は人狼系（夜/昼/投票サイクル）のゲーム。
	GameKindJinro GameKind = "jinro"
	// GameKindMurder は暗殺チェーン系（ターゲットの輪）のゲーム。
	GameKindMurder GameKind = "murder"
)

// CodeLength はゲーム種類ごとの合言葉コードの長さを返す。
// 人狼系は6文字、暗殺チェーン系は4文字。
func (k GameKind) CodeLength() int {
	if k == GameKindMurder {
		return 4
	}
	return 6
}

// Valid はサポートされているゲーム種類かを判定する。
func (k GameKind) Valid() bool {
	return k == GameKindJinro || k == GameKindMurder
}

// Status はセッションの粗い粒度のライフサイクル状態を表す。
// lobby → in_progress → finished の一方向にのみ遷移する。
type Status string

const (
	// StatusLobby は参加受付中の状態。
	StatusLobby Status = "lobby"
	// StatusInProgress はゲーム進行中の状態。
	StatusInProgress Status = "in_progress"
	// StatusFinished はゲーム終了後の状態。
	StatusFinished Status = "finished"
)

// Phase は進行中セッション内の細かい粒度の状態を表す。
type Phase string

const (
	// PhaseNight は夜フェーズ（役職ごとの行動）。
	PhaseNight Phase = "night"
	// PhaseDay は昼フェーズ（議論）。
	PhaseDay Phase = "day"
	// PhaseVoting は投票フェーズ。
	PhaseVoting Phase = "voting"
)

// phaseTransitions はフェーズの固定巡回遷移表。
var phaseTransitions = map[Phase]Phase{
	PhaseNight:  PhaseDay,
	PhaseDay:    PhaseVoting,
	PhaseVoting: PhaseNight,
}

// Next は固定サイクル（night→day→voting→night…）における次フェーズを返す。
// 未知のフェーズの場合はfalseを返す。
func (p Phase) Next() (Phase, bool) {
	next, ok := phaseTransitions[p]
	return next, ok
}

// InitialPhase はゲーム開始直後のフェーズ。
const InitialPhase = PhaseNight

// RoleConfig は役職名から必要人数へのマッピングを表す。
// lobby状態でのみ変更可能で、開始時に参加者数と厳密に一致する必要がある。
type RoleConfig map[string]int

// 必須役職。開始時にそれぞれ1人以上が構成に含まれていなければならない。
const (
	RoleWolf     = "wolf"
	RoleVillager = "villager"
)

// Total は構成された役職人数の合計を返す。
func (c RoleConfig) Total() int {
	sum := 0
	for _, n := range c {
		sum += n
	}
	return sum
}

// MinParticipants はゲーム開始に必要な最小参加者数。
const MinParticipants = 4

// Session はひとつのゲームセッションを表す。
// IDは人間が入力する合言葉コードを兼ねる（大文字英字、固定長）。
type Session struct {
	ID         string
	GameKind   GameKind
	Status     Status
	Phase      Phase
	RoleConfig RoleConfig
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
