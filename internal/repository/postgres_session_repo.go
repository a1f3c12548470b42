package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/asobiba/internal/model"
)

// pqErrorCode はエラーがPostgreSQLの指定SQLSTATEコードかを判定する。
func pqErrorCode(err error, code pq.ErrorCode) (*pq.Error, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == code {
		return pqErr, true
	}
	return nil, false
}

// PostgreSQLのSQLSTATEコード。
const (
	pqUniqueViolation      = pq.ErrorCode("23505")
	pqSerializationFailure = pq.ErrorCode("40001")
)

// PostgresSessionRepo はPostgreSQLを使用したセッションリポジトリ。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

// scanSession は1行をmodel.Sessionに読み取る。
func scanSession(row *sql.Row) (*model.Session, error) {
	s := &model.Session{}
	var phase sql.NullString
	var configJSON []byte

	err := row.Scan(&s.ID, &s.GameKind, &s.Status, &phase, &configJSON, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}

	if phase.Valid {
		s.Phase = model.Phase(phase.String)
	}
	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &s.RoleConfig); err != nil {
			return nil, fmt.Errorf("failed to unmarshal role config: %w", err)
		}
	}

	return s, nil
}

// FindByCode は指定コードのセッションを取得する。見つからない場合はnilを返す。
func (r *PostgresSessionRepo) FindByCode(ctx context.Context, code string) (*model.Session, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, game_kind, status, phase, role_config, created_at, updated_at
		 FROM sessions WHERE id = $1`,
		code,
	)
	return scanSession(row)
}

// CreateWithOwner はセッションとオーナー参加者を同一トランザクションで作成する。
// コードが衝突した場合はErrCodeTakenを返す。
func (r *PostgresSessionRepo) CreateWithOwner(ctx context.Context, session *model.Session, owner *model.Participant) error {
	configJSON, err := json.Marshal(session.RoleConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal role config: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// セッションを作成
	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, game_kind, status, phase, role_config, created_at, updated_at)
		 VALUES ($1, $2, $3, NULL, $4, $5, $6)`,
		session.ID, session.GameKind, session.Status, configJSON, session.CreatedAt, session.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := pqErrorCode(err, pqUniqueViolation); ok && pqErr.Constraint == "sessions_pkey" {
			return ErrCodeTaken
		}
		return fmt.Errorf("failed to insert session: %w", err)
	}

	// オーナー参加者を作成
	_, err = tx.ExecContext(ctx,
		`INSERT INTO participants (id, session_id, identity, display_name, is_owner, is_alive, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, TRUE, TRUE, $5, $6)`,
		owner.ID, owner.SessionID, owner.Identity, owner.DisplayName, owner.CreatedAt, owner.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert owner participant: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Start はセッションをlobbyからin_progressへ遷移させ、役職割当を適用する。
// statusの条件付き更新が0行だった場合はErrNotInLobbyを返す。
func (r *PostgresSessionRepo) Start(ctx context.Context, sessionID string, config model.RoleConfig, phase model.Phase, roleByParticipant map[string]string) error {
	configJSON, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal role config: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 条件付き更新: lobby状態のときだけ開始できる（monotonicなstatus遷移の担保）
	result, err := tx.ExecContext(ctx,
		`UPDATE sessions
		 SET status = $1, phase = $2, role_config = $3, updated_at = now()
		 WHERE id = $4 AND status = $5`,
		model.StatusInProgress, phase, configJSON, sessionID, model.StatusLobby,
	)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotInLobby
	}

	for participantID, role := range roleByParticipant {
		_, err = tx.ExecContext(ctx,
			`UPDATE participants SET role = $1, updated_at = now()
			 WHERE id = $2 AND session_id = $3`,
			role, participantID, sessionID,
		)
		if err != nil {
			return fmt.Errorf("failed to assign role: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// AdvancePhase はフェーズを更新し、全参加者の未解決アクションをクリアする。
func (r *PostgresSessionRepo) AdvancePhase(ctx context.Context, sessionID string, phase model.Phase) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE sessions SET phase = $1, updated_at = now() WHERE id = $2`,
		phase, sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to update phase: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE participants
		 SET pending_target_id = NULL, pending_action_kind = NULL, updated_at = now()
		 WHERE session_id = $1 AND pending_action_kind IS NOT NULL`,
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to clear pending actions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// ResolveVote は投票結果を適用する。脱落・フェーズ復帰・未解決アクションのクリアを
// 同一トランザクションで行う。
func (r *PostgresSessionRepo) ResolveVote(ctx context.Context, sessionID, eliminatedID string, phase model.Phase) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if eliminatedID != "" {
		// 復活はない: is_aliveはfalse→trueに戻らない
		_, err = tx.ExecContext(ctx,
			`UPDATE participants SET is_alive = FALSE, updated_at = now()
			 WHERE id = $1 AND session_id = $2`,
			eliminatedID, sessionID,
		)
		if err != nil {
			return fmt.Errorf("failed to eliminate participant: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE sessions SET phase = $1, updated_at = now() WHERE id = $2`,
		phase, sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to update phase: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE participants
		 SET pending_target_id = NULL, pending_action_kind = NULL, updated_at = now()
		 WHERE session_id = $1 AND pending_action_kind IS NOT NULL`,
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to clear pending actions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// DeleteExpired は保持期限を過ぎたセッションを削除し、削除件数を返す。
// 参加者はON DELETE CASCADEで一緒に削除される。
func (r *PostgresSessionRepo) DeleteExpired(ctx context.Context, finishedBefore, anyBefore time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions
		 WHERE (status = $1 AND updated_at < $2) OR created_at < $3`,
		model.StatusFinished, finishedBefore, anyBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}

// FindStateVersion はセッションと参加者を合わせた最終更新時刻を返す。
// ポーリング型の通知チャネル（notify.Poller）が変更検出に使用する。
func (r *PostgresSessionRepo) FindStateVersion(ctx context.Context, sessionID string) (time.Time, error) {
	var version time.Time
	err := r.db.QueryRowContext(ctx,
		`SELECT GREATEST(s.updated_at, COALESCE(MAX(p.updated_at), s.updated_at))
		 FROM sessions s
		 LEFT JOIN participants p ON p.session_id = s.id
		 WHERE s.id = $1
		 GROUP BY s.updated_at`,
		sessionID,
	).Scan(&version)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to find state version: %w", err)
	}
	return version, nil
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)
