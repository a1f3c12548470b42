package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/hitoshi/asobiba/internal/model"
)

// PostgresParticipantRepo はPostgreSQLを使用した参加者リポジトリ。
type PostgresParticipantRepo struct {
	db *sql.DB
}

// NewPostgresParticipantRepo はPostgresParticipantRepoを生成する。
func NewPostgresParticipantRepo(db *sql.DB) *PostgresParticipantRepo {
	return &PostgresParticipantRepo{db: db}
}

const participantColumns = `id, session_id, identity, display_name, role, is_owner, is_alive,
	pending_target_id, pending_action_kind, target_participant_id, created_at, updated_at`

// rowScanner は*sql.Rowと*sql.Rowsの共通Scanインターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// scanParticipant は1行をmodel.Participantに読み取る。
func scanParticipant(row rowScanner) (*model.Participant, error) {
	p := &model.Participant{}
	var pendingTarget, pendingKind, chainTarget sql.NullString

	err := row.Scan(
		&p.ID, &p.SessionID, &p.Identity, &p.DisplayName, &p.Role, &p.IsOwner, &p.IsAlive,
		&pendingTarget, &pendingKind, &chainTarget, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if pendingKind.Valid {
		p.Pending = &model.PendingAction{
			TargetParticipantID: pendingTarget.String,
			Kind:                model.ActionKind(pendingKind.String),
		}
	}
	if chainTarget.Valid {
		p.TargetParticipantID = chainTarget.String
	}

	return p, nil
}

// FindByID は指定IDの参加者を取得する。見つからない場合はnilを返す。
// IDはクライアント入力がそのまま届くため、UUIDでない文字列はクエリに
// 渡さず未発見として扱う（UUID型カラムとの比較は22P02になる）。
func (r *PostgresParticipantRepo) FindByID(ctx context.Context, id string) (*model.Participant, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	row := r.db.QueryRowContext(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE id = $1`,
		id,
	)
	p, err := scanParticipant(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find participant by ID: %w", err)
	}
	return p, nil
}

// FindBySessionAndIdentity はセッション内でidentityに紐付く参加者を検索する。
// 見つからない場合はnilを返す。
func (r *PostgresParticipantRepo) FindBySessionAndIdentity(ctx context.Context, sessionID, identity string) (*model.Participant, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+participantColumns+` FROM participants
		 WHERE session_id = $1 AND identity = $2`,
		sessionID, identity,
	)
	p, err := scanParticipant(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find participant by identity: %w", err)
	}
	return p, nil
}

// NameExists はセッション内に同名（大文字小文字を区別しない）の参加者が存在するかを返す。
func (r *PostgresParticipantRepo) NameExists(ctx context.Context, sessionID, displayName string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM participants
			WHERE session_id = $1 AND lower(display_name) = lower($2)
		)`,
		sessionID, displayName,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check display name: %w", err)
	}
	return exists, nil
}

// ListBySession はセッションの参加者一覧を参加順で返す。
func (r *PostgresParticipantRepo) ListBySession(ctx context.Context, sessionID string) ([]*model.Participant, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+participantColumns+` FROM participants
		 WHERE session_id = $1 ORDER BY created_at, id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	var participants []*model.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate participants: %w", err)
	}

	return participants, nil
}

// Create は参加者を作成する。
// 一意制約違反はどのインデックスに当たったかでErrNameTaken / ErrIdentityTakenに変換する。
func (r *PostgresParticipantRepo) Create(ctx context.Context, p *model.Participant) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO participants (id, session_id, identity, display_name, is_owner, is_alive, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, TRUE, $6, $7)`,
		p.ID, p.SessionID, p.Identity, p.DisplayName, p.IsOwner, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := pqErrorCode(err, pqUniqueViolation); ok {
			if strings.Contains(pqErr.Constraint, "name") {
				return ErrNameTaken
			}
			return ErrIdentityTaken
		}
		return fmt.Errorf("failed to insert participant: %w", err)
	}
	return nil
}

// UpdatePendingAction は参加者の未解決アクションを上書きする（last-write-wins）。
func (r *PostgresParticipantRepo) UpdatePendingAction(ctx context.Context, participantID string, action model.PendingAction) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE participants
		 SET pending_target_id = $1, pending_action_kind = $2, updated_at = now()
		 WHERE id = $3`,
		action.TargetParticipantID, string(action.Kind), participantID,
	)
	if err != nil {
		return fmt.Errorf("failed to update pending action: %w", err)
	}
	return nil
}

// compile-time interface check
var _ ParticipantRepository = (*PostgresParticipantRepo)(nil)
