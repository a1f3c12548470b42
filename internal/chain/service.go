// Package chain は暗殺チェーン（ターゲットの輪）の脱落処理を提供する。
package chain

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/asobiba/internal/model"
	"github.com/hitoshi/asobiba/internal/notify"
	"github.com/hitoshi/asobiba/internal/repository"
	"github.com/hitoshi/asobiba/internal/session"
)

// Stats は脱落処理のメトリクス記録用インターフェース。
type Stats interface {
	// RecordElimination は脱落の適用を記録する。
	RecordElimination()
	// RecordConflictRetry は直列化競合による内部リトライを記録する。
	RecordConflictRetry()
}

// nopStats はStats未設定時のゼロ実装。
type nopStats struct{}

func (nopStats) RecordElimination()   {}
func (nopStats) RecordConflictRetry() {}

// Service は暗殺チェーンのサービス層。
type Service struct {
	sessionRepo     repository.SessionRepository
	participantRepo repository.ParticipantRepository
	chainRepo       repository.ChainRepository
	notifier        notify.Notifier
	stats           Stats
}

// NewService はServiceの新しいインスタンスを生成する。statsはnilでもよい。
func NewService(
	sessionRepo repository.SessionRepository,
	participantRepo repository.ParticipantRepository,
	chainRepo repository.ChainRepository,
	notifier notify.Notifier,
	stats Stats,
) *Service {
	if stats == nil {
		stats = nopStats{}
	}
	return &Service{
		sessionRepo:     sessionRepo,
		participantRepo: participantRepo,
		chainRepo:       chainRepo,
		notifier:        notifier,
		stats:           stats,
	}
}

// RecordElimination は脱落を記録し、チェーンを付け替える。
//
// 前任者（脱落者をターゲットにしていた参加者）のターゲットは脱落者の旧ターゲットに
// 引き継がれる。付け替えは直列化可能トランザクションで行われ、競合した場合は
// 1回だけ内部でリトライする。それでも競合した場合はELIMINATION_CONFLICTを返す。
// 付け替えの結果、生存者が自分自身をターゲットにしたらその参加者が勝者となり、
// セッションは終了する。勝者がいない場合は空文字列を返す。
func (s *Service) RecordElimination(ctx context.Context, code, identity, eliminatedID string) (winnerID string, err error) {
	sess, err := s.sessionRepo.FindByCode(ctx, session.NormalizeCode(code))
	if err != nil {
		return "", fmt.Errorf("セッションの取得に失敗しました: %w", err)
	}
	if sess == nil {
		return "", model.NewSessionNotFoundError(code)
	}
	if sess.GameKind != model.GameKindMurder {
		return "", model.NewInvalidGameKindError(string(sess.GameKind))
	}
	if sess.Status != model.StatusInProgress {
		return "", model.NewNotStartedError()
	}

	caller, err := s.participantRepo.FindBySessionAndIdentity(ctx, sess.ID, identity)
	if err != nil {
		return "", fmt.Errorf("参加者の検索に失敗しました: %w", err)
	}
	if caller == nil {
		return "", model.NewUnauthorizedError()
	}

	eliminated, err := s.participantRepo.FindByID(ctx, eliminatedID)
	if err != nil {
		return "", fmt.Errorf("参加者の検索に失敗しました: %w", err)
	}
	if eliminated == nil || eliminated.SessionID != sess.ID {
		return "", model.NewParticipantNotFoundError(eliminatedID)
	}
	if eliminated.TargetParticipantID == eliminated.ID {
		// 自己ループ = すでに最後の生存者（勝者）。脱落の対象にはならない。
		return "", model.NewEliminationConflictError()
	}

	// 直列化競合は1回だけ内部でリトライする。2回目も競合したら
	// クライアントに最新状態の再取得を促す。
	for attempt := 0; attempt < 2; attempt++ {
		winnerID, err = s.chainRepo.RecordElimination(ctx, sess.ID, eliminatedID)
		if errors.Is(err, repository.ErrSerializationConflict) {
			if attempt == 0 {
				s.stats.RecordConflictRetry()
				slog.Info("脱落処理が競合したためリトライします",
					slog.String("session_id", sess.ID),
					slog.String("eliminated_id", eliminatedID),
				)
				continue
			}
			return "", model.NewEliminationConflictError()
		}
		if errors.Is(err, sql.ErrNoRows) {
			return "", model.NewParticipantNotFoundError(eliminatedID)
		}
		if err != nil {
			return "", fmt.Errorf("脱落処理に失敗しました: %w", err)
		}
		break
	}

	s.stats.RecordElimination()
	slog.Info("脱落を記録しました",
		slog.String("session_id", sess.ID),
		slog.String("eliminated_id", eliminatedID),
		slog.String("winner_id", winnerID),
	)

	if err := s.notifier.Publish(ctx, notify.Event{SessionID: sess.ID, Kind: notify.KindElimination}); err != nil {
		slog.Warn("脱落イベントの通知に失敗しました",
			slog.String("session_id", sess.ID),
			slog.String("error", err.Error()),
		)
	}

	return winnerID, nil
}
