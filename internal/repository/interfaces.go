// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/asobiba/internal/model"
)

// リポジトリ層の分岐用センチネルエラー。
// サービス層はerrors.Isで判定し、ユーザー向けのAPIErrorに変換する。
var (
	// ErrCodeTaken は合言葉コードの衝突（sessions主キー違反）を表す。
	ErrCodeTaken = errors.New("session code already taken")
	// ErrNameTaken は表示名の重複（大文字小文字を区別しない一意制約違反）を表す。
	ErrNameTaken = errors.New("display name already taken in session")
	// ErrIdentityTaken は同一identityの参加者がすでに存在することを表す。
	ErrIdentityTaken = errors.New("identity already joined session")
	// ErrNotInLobby は条件付き更新がlobby状態でないため適用されなかったことを表す。
	ErrNotInLobby = errors.New("session is not in lobby status")
	// ErrSerializationConflict は直列化可能トランザクションの競合を表す。
	ErrSerializationConflict = errors.New("serializable transaction conflict")
)

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// FindByCode は指定コードのセッションを取得する。見つからない場合はnilを返す。
	// コードは呼び出し側で大文字に正規化されていること。
	FindByCode(ctx context.Context, code string) (*model.Session, error)

	// CreateWithOwner はセッションとオーナー参加者を同一トランザクションで作成する。
	// コードが衝突した場合はErrCodeTakenを返す。
	CreateWithOwner(ctx context.Context, session *model.Session, owner *model.Participant) error

	// Start はセッションをlobbyからin_progressへ遷移させ、役職割当を適用する。
	// 状態更新と全参加者への役職書き込みを同一トランザクションで行う。
	// statusがlobbyでない場合は何も変更せずErrNotInLobbyを返す。
	Start(ctx context.Context, sessionID string, config model.RoleConfig, phase model.Phase, roleByParticipant map[string]string) error

	// AdvancePhase はセッションのフェーズを更新し、全参加者の未解決アクションを
	// 同一トランザクションでクリアする。
	AdvancePhase(ctx context.Context, sessionID string, phase model.Phase) error

	// ResolveVote は投票結果を適用する。eliminatedIDが空でなければその参加者を
	// 脱落させ、フェーズをphaseに戻し、全参加者の未解決アクションをクリアする。
	// すべて同一トランザクションで行う。
	ResolveVote(ctx context.Context, sessionID, eliminatedID string, phase model.Phase) error

	// DeleteExpired は保持期限を過ぎたセッションを削除し、削除件数を返す。
	// finishedBefore以前に更新された終了済みセッションと、
	// anyBefore以前に作成されたすべてのセッションが対象。
	DeleteExpired(ctx context.Context, finishedBefore, anyBefore time.Time) (int64, error)
}

// ParticipantRepository は参加者データの永続化インターフェース。
type ParticipantRepository interface {
	// FindByID は指定IDの参加者を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Participant, error)

	// FindBySessionAndIdentity はセッション内でidentityに紐付く参加者を検索する。
	// 見つからない場合はnilを返す。
	FindBySessionAndIdentity(ctx context.Context, sessionID, identity string) (*model.Participant, error)

	// NameExists はセッション内に同名（大文字小文字を区別しない）の参加者が
	// 存在するかを返す。
	NameExists(ctx context.Context, sessionID, displayName string) (bool, error)

	// ListBySession はセッションの参加者一覧を参加順で返す。
	ListBySession(ctx context.Context, sessionID string) ([]*model.Participant, error)

	// Create は参加者を作成する。
	// 表示名の衝突はErrNameTaken、identityの衝突はErrIdentityTakenを返す。
	Create(ctx context.Context, p *model.Participant) error

	// UpdatePendingAction は参加者の未解決アクションを上書きする（last-write-wins）。
	UpdatePendingAction(ctx context.Context, participantID string, action model.PendingAction) error
}

// ChainRepository は暗殺チェーン（ターゲットの輪）の永続化インターフェース。
type ChainRepository interface {
	// AssignTargets はチェーンのターゲット割当を同一トランザクションで書き込む。
	// targetsは参加者ID→ターゲット参加者IDのマッピング。
	AssignTargets(ctx context.Context, sessionID string, targets map[string]string) error

	// RecordElimination は脱落処理を直列化可能分離レベルのトランザクションで実行する。
	// 前任者のターゲットを脱落者の旧ターゲットに付け替え、脱落者のターゲットを
	// クリアして脱落させる。付け替え後に自己ループが成立した場合は勝者のIDを返し、
	// セッションをfinishedに遷移させる。
	// 競合した場合はErrSerializationConflictを返す（呼び出し側でリトライする）。
	RecordElimination(ctx context.Context, sessionID, eliminatedID string) (winnerID string, err error)
}
