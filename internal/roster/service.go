// Package roster はセッションへの参加（ロスター管理）のドメインロジックを提供する。
package roster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/asobiba/internal/model"
	"github.com/hitoshi/asobiba/internal/notify"
	"github.com/hitoshi/asobiba/internal/repository"
	"github.com/hitoshi/asobiba/internal/security"
	"github.com/hitoshi/asobiba/internal/session"
)

// Stats は参加のメトリクス記録用インターフェース。
type Stats interface {
	// RecordJoin は新規参加を記録する。冪等な再参加は記録しない。
	RecordJoin()
}

// nopStats はStats未設定時のゼロ実装。
type nopStats struct{}

func (nopStats) RecordJoin() {}

// Service はセッション参加のサービス層。
type Service struct {
	sessionRepo     repository.SessionRepository
	participantRepo repository.ParticipantRepository
	sanitizer       security.NameSanitizerService
	notifier        notify.Notifier
	stats           Stats
}

// NewService はServiceの新しいインスタンスを生成する。statsはnilでもよい。
func NewService(
	sessionRepo repository.SessionRepository,
	participantRepo repository.ParticipantRepository,
	sanitizer security.NameSanitizerService,
	notifier notify.Notifier,
	stats Stats,
) *Service {
	if stats == nil {
		stats = nopStats{}
	}
	return &Service{
		sessionRepo:     sessionRepo,
		participantRepo: participantRepo,
		sanitizer:       sanitizer,
		notifier:        notifier,
		stats:           stats,
	}
}

// Join はセッションに参加者を追加する。
//
// 同一identityによる再送は冪等で、既存の参加者をそのまま返す（新しい行は作らない）。
// 開始後の新規参加はゲーム種類ごとのポリシーに従う:
// 人狼は途中参加を拒否し、暗殺チェーン系はidentityによる復帰のみ許可する。
// 表示名はセッション内で大文字小文字を区別せず一意でなければならない。
func (s *Service) Join(ctx context.Context, code, rawName, identity string) (*model.Session, *model.Participant, error) {
	sess, err := s.sessionRepo.FindByCode(ctx, session.NormalizeCode(code))
	if err != nil {
		return nil, nil, fmt.Errorf("セッションの取得に失敗しました: %w", err)
	}
	if sess == nil {
		return nil, nil, model.NewSessionNotFoundError(code)
	}

	// 冪等性: 同一identityがすでに参加済みなら既存の参加者を返す。
	// 開始後の復帰（reconnect）もこの経路で成立する。
	existing, err := s.participantRepo.FindBySessionAndIdentity(ctx, sess.ID, identity)
	if err != nil {
		return nil, nil, fmt.Errorf("参加者の検索に失敗しました: %w", err)
	}
	if existing != nil {
		return sess, existing, nil
	}

	// 新規参加はロビー中のみ。開始後はゲーム種類に関わらず新規の席は作らない。
	if sess.Status != model.StatusLobby {
		return nil, nil, model.NewAlreadyStartedError()
	}

	name := s.sanitizer.Sanitize(rawName)
	if name == "" {
		return nil, nil, model.NewInvalidNameError()
	}

	// 事前チェック。競合した場合はCreateの一意制約違反で最終防衛する。
	taken, err := s.participantRepo.NameExists(ctx, sess.ID, name)
	if err != nil {
		return nil, nil, fmt.Errorf("表示名の重複確認に失敗しました: %w", err)
	}
	if taken {
		return nil, nil, model.NewDuplicateNameError(name)
	}

	now := time.Now()
	participant := &model.Participant{
		ID:          uuid.NewString(),
		SessionID:   sess.ID,
		Identity:    identity,
		DisplayName: name,
		IsAlive:     true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = s.participantRepo.Create(ctx, participant)
	if errors.Is(err, repository.ErrNameTaken) {
		return nil, nil, model.NewDuplicateNameError(name)
	}
	if errors.Is(err, repository.ErrIdentityTaken) {
		// 同一identityの同時リクエストに負けた場合。勝った方の行を返して冪等にする。
		existing, ferr := s.participantRepo.FindBySessionAndIdentity(ctx, sess.ID, identity)
		if ferr != nil || existing == nil {
			return nil, nil, fmt.Errorf("参加者の再取得に失敗しました: %w", err)
		}
		return sess, existing, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("参加者の作成に失敗しました: %w", err)
	}

	s.stats.RecordJoin()
	slog.Info("参加者が加わりました",
		slog.String("session_id", sess.ID),
		slog.String("participant_id", participant.ID),
	)

	// 通知はベストエフォート。失敗しても参加自体は成立している。
	if err := s.notifier.Publish(ctx, notify.Event{SessionID: sess.ID, Kind: notify.KindJoined}); err != nil {
		slog.Warn("参加イベントの通知に失敗しました",
			slog.String("session_id", sess.ID),
			slog.String("error", err.Error()),
		)
	}

	return sess, participant, nil
}
