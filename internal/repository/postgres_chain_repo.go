package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/asobiba/internal/model"
)

// PostgresChainRepo はPostgreSQLを使用した暗殺チェーンリポジトリ。
// チェーンの付け替えは直列化可能分離レベルで実行し、同時脱落による
// 輪の分断（二重適用でのサブサイクル化）を防ぐ。
type PostgresChainRepo struct {
	db *sql.DB
}

// NewPostgresChainRepo はPostgresChainRepoを生成する。
func NewPostgresChainRepo(db *sql.DB) *PostgresChainRepo {
	return &PostgresChainRepo{db: db}
}

// AssignTargets はチェーンのターゲット割当を同一トランザクションで書き込む。
func (r *PostgresChainRepo) AssignTargets(ctx context.Context, sessionID string, targets map[string]string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for participantID, targetID := range targets {
		_, err = tx.ExecContext(ctx,
			`UPDATE participants SET target_participant_id = $1, updated_at = now()
			 WHERE id = $2 AND session_id = $3`,
			targetID, participantID, sessionID,
		)
		if err != nil {
			return fmt.Errorf("failed to assign target: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// RecordElimination は脱落処理を直列化可能トランザクションで実行する。
// 手順: 脱落者と前任者（脱落者をターゲットにしている生存者）を読み取り、
// 前任者のターゲットを脱落者の旧ターゲットに付け替え、脱落者を脱落させる。
// 付け替え後に前任者のターゲットが自分自身になった場合は勝者として返し、
// 同一トランザクション内でセッションをfinishedに遷移させる。
func (r *PostgresChainRepo) RecordElimination(ctx context.Context, sessionID, eliminatedID string) (string, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return "", fmt.Errorf("failed to begin serializable transaction: %w", err)
	}
	defer tx.Rollback()

	// 脱落者の現在のターゲットを読み取る
	var eliminatedTarget sql.NullString
	var isAlive bool
	err = tx.QueryRowContext(ctx,
		`SELECT target_participant_id, is_alive FROM participants
		 WHERE id = $1 AND session_id = $2`,
		eliminatedID, sessionID,
	).Scan(&eliminatedTarget, &isAlive)
	if err == sql.ErrNoRows {
		return "", sql.ErrNoRows
	}
	if err != nil {
		return "", r.wrapTxError("failed to read eliminated participant", err)
	}
	if !isAlive || !eliminatedTarget.Valid {
		// すでに別のトランザクションで脱落済み。二重適用はしない。
		return "", ErrSerializationConflict
	}
	if eliminatedTarget.String == eliminatedID {
		// 自己ループ = 最後の生存者。前任者クエリが脱落者自身を前任者として
		// 拾い、勝者を殺しながら勝者として報告してしまうため、適用しない。
		return "", ErrSerializationConflict
	}

	// 前任者（脱落者をターゲットにしている生存者）を読み取る
	var predecessorID string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM participants
		 WHERE session_id = $1 AND target_participant_id = $2 AND is_alive = TRUE`,
		sessionID, eliminatedID,
	).Scan(&predecessorID)
	if err != nil {
		return "", r.wrapTxError("failed to read predecessor", err)
	}

	// 前任者が脱落者の旧ターゲットを引き継ぐ
	newTarget := eliminatedTarget.String
	_, err = tx.ExecContext(ctx,
		`UPDATE participants SET target_participant_id = $1, updated_at = now()
		 WHERE id = $2 AND session_id = $3`,
		newTarget, predecessorID, sessionID,
	)
	if err != nil {
		return "", r.wrapTxError("failed to relink predecessor", err)
	}

	// 脱落者のターゲットをクリアして脱落させる
	_, err = tx.ExecContext(ctx,
		`UPDATE participants
		 SET is_alive = FALSE, target_participant_id = NULL, updated_at = now()
		 WHERE id = $1 AND session_id = $2`,
		eliminatedID, sessionID,
	)
	if err != nil {
		return "", r.wrapTxError("failed to eliminate participant", err)
	}

	// 自己ループ = 最後の生存者。チェーンが輪として成立しなくなったのでゲーム終了。
	winnerID := ""
	if newTarget == predecessorID {
		winnerID = predecessorID
		_, err = tx.ExecContext(ctx,
			`UPDATE sessions SET status = $1, updated_at = now() WHERE id = $2`,
			model.StatusFinished, sessionID,
		)
		if err != nil {
			return "", r.wrapTxError("failed to finish session", err)
		}
	}

	if err := tx.Commit(); err != nil {
		if _, ok := pqErrorCode(err, pqSerializationFailure); ok {
			return "", ErrSerializationConflict
		}
		return "", fmt.Errorf("failed to commit transaction: %w", err)
	}

	return winnerID, nil
}

// wrapTxError は直列化競合をセンチネルに変換し、それ以外はメッセージ付きでラップする。
func (r *PostgresChainRepo) wrapTxError(msg string, err error) error {
	if _, ok := pqErrorCode(err, pqSerializationFailure); ok {
		return ErrSerializationConflict
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// compile-time interface check
var _ ChainRepository = (*PostgresChainRepo)(nil)
