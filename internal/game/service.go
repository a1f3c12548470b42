// Package game はゲーム進行（開始・フェーズ遷移・アクション・投票）の
// 状態機械を提供する。
package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/hitoshi/asobiba/internal/model"
	"github.com/hitoshi/asobiba/internal/notify"
	"github.com/hitoshi/asobiba/internal/repository"
	"github.com/hitoshi/asobiba/internal/session"
	"github.com/hitoshi/asobiba/internal/shuffle"
)

// Stats はゲーム進行のメトリクス記録用インターフェース。
type Stats interface {
	// RecordSessionStarted はゲーム開始を記録する。
	RecordSessionStarted(kind string)
	// RecordPhaseAdvanced はフェーズ遷移を記録する。
	RecordPhaseAdvanced()
	// RecordVoteResolved は投票解決を記録する。
	RecordVoteResolved()
}

// nopStats はStats未設定時のゼロ実装。
type nopStats struct{}

func (nopStats) RecordSessionStarted(kind string) {}
func (nopStats) RecordPhaseAdvanced()             {}
func (nopStats) RecordVoteResolved()              {}

// Service はゲーム進行のサービス層。
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

// findSession は正規化した合言葉でセッションを取得する。
func (s *Service) findSession(ctx context.Context, code string) (*model.Session, error) {
	sess, err := s.sessionRepo.FindByCode(ctx, session.NormalizeCode(code))
	if err != nil {
		return nil, fmt.Errorf("セッションの取得に失敗しました: %w", err)
	}
	if sess == nil {
		return nil, model.NewSessionNotFoundError(code)
	}
	return sess, nil
}

// findOwner は呼び出し元identityがセッションのオーナーであることを検証する。
func (s *Service) findOwner(ctx context.Context, sess *model.Session, identity string) (*model.Participant, error) {
	p, err := s.participantRepo.FindBySessionAndIdentity(ctx, sess.ID, identity)
	if err != nil {
		return nil, fmt.Errorf("参加者の検索に失敗しました: %w", err)
	}
	if p == nil || !p.IsOwner {
		return nil, model.NewUnauthorizedError()
	}
	return p, nil
}

// Start はセッションをロビーから進行中へ遷移させる。
//
// オーナーのみが実行できる。参加者は最低人数以上必要で、人狼系では役職構成の
// 合計が参加者数と一致し、必須役職（wolf/villager）を各1人以上含まなければ
// ならない。役職は一様ランダムに割り当てる。暗殺チェーン系では役職の代わりに
// 全参加者を単一の輪で覆うターゲット割当を構築する。
func (s *Service) Start(ctx context.Context, code, identity string, config model.RoleConfig) error {
	sess, err := s.findSession(ctx, code)
	if err != nil {
		return err
	}
	if _, err := s.findOwner(ctx, sess, identity); err != nil {
		return err
	}
	if sess.Status != model.StatusLobby {
		return model.NewAlreadyStartedError()
	}

	participants, err := s.participantRepo.ListBySession(ctx, sess.ID)
	if err != nil {
		return fmt.Errorf("参加者一覧の取得に失敗しました: %w", err)
	}
	if len(participants) < model.MinParticipants {
		return model.NewInsufficientPlayersError(len(participants))
	}

	ids := make([]string, len(participants))
	for i, p := range participants {
		ids[i] = p.ID
	}

	roleByParticipant := map[string]string{}
	if sess.GameKind == model.GameKindJinro {
		roleByParticipant, err = dealRoles(config, ids)
		if err != nil {
			return err
		}
	}

	err = s.sessionRepo.Start(ctx, sess.ID, config, model.InitialPhase, roleByParticipant)
	if errors.Is(err, repository.ErrNotInLobby) {
		// 事前チェック後に別リクエストが先に開始した場合
		return model.NewAlreadyStartedError()
	}
	if err != nil {
		return fmt.Errorf("ゲームの開始に失敗しました: %w", err)
	}

	if sess.GameKind == model.GameKindMurder {
		targets, err := shuffle.Cycle(ids)
		if err != nil {
			return fmt.Errorf("ターゲットの輪の生成に失敗しました: %w", err)
		}
		if err := s.chainRepo.AssignTargets(ctx, sess.ID, targets); err != nil {
			return fmt.Errorf("ターゲットの割当に失敗しました: %w", err)
		}
	}

	s.stats.RecordSessionStarted(string(sess.GameKind))
	slog.Info("ゲームを開始しました",
		slog.String("session_id", sess.ID),
		slog.String("game_kind", string(sess.GameKind)),
		slog.Int("participants", len(participants)),
	)

	s.publish(ctx, sess.ID, notify.KindStarted)
	return nil
}

// dealRoles は役職構成を検証し、一様ランダムな役職割当を返す。
func dealRoles(config model.RoleConfig, participantIDs []string) (map[string]string, error) {
	if config[model.RoleWolf] < 1 {
		return nil, model.NewMissingRequiredRoleError(model.RoleWolf)
	}
	if config[model.RoleVillager] < 1 {
		return nil, model.NewMissingRequiredRoleError(model.RoleVillager)
	}
	if config.Total() != len(participantIDs) {
		return nil, model.NewRoleCountMismatchError(config.Total(), len(participantIDs))
	}

	roles := make([]string, 0, len(participantIDs))
	for role, count := range config {
		for i := 0; i < count; i++ {
			roles = append(roles, role)
		}
	}
	roles = shuffle.Strings(roles)

	assigned := make(map[string]string, len(participantIDs))
	for i, id := range participantIDs {
		assigned[id] = roles[i]
	}
	return assigned, nil
}

// AdvancePhase はフェーズを固定サイクルの次へ進める。オーナーのみ実行できる。
// フェーズ境界で全参加者の未解決アクションはクリアされる。
// 人狼系専用。暗殺チェーン系にフェーズは存在しない。
func (s *Service) AdvancePhase(ctx context.Context, code, identity string) (model.Phase, error) {
	sess, err := s.findSession(ctx, code)
	if err != nil {
		return "", err
	}
	if sess.GameKind != model.GameKindJinro {
		return "", model.NewInvalidGameKindError(string(sess.GameKind))
	}
	if _, err := s.findOwner(ctx, sess, identity); err != nil {
		return "", err
	}
	if sess.Status != model.StatusInProgress {
		return "", model.NewNotStartedError()
	}

	next, ok := sess.Phase.Next()
	if !ok {
		return "", fmt.Errorf("不正なフェーズからの遷移です: %q", sess.Phase)
	}

	if err := s.sessionRepo.AdvancePhase(ctx, sess.ID, next); err != nil {
		return "", fmt.Errorf("フェーズの更新に失敗しました: %w", err)
	}

	s.stats.RecordPhaseAdvanced()
	slog.Info("フェーズを進めました",
		slog.String("session_id", sess.ID),
		slog.String("phase", string(next)),
	)

	s.publish(ctx, sess.ID, notify.KindPhase)
	return next, nil
}

// SubmitAction は参加者の未解決アクションを記録する。
// 同一フェーズ内の再送信は上書きされる（last-write-wins）。
// ターゲットがIDとして正当な形式であることだけを検証し、ゲーム上の
// 妥当性（役職・生存状態）はサーバーでは検証しない（UIが制約する）。
func (s *Service) SubmitAction(ctx context.Context, code, identity, targetID string, kind model.ActionKind) error {
	sess, err := s.findSession(ctx, code)
	if err != nil {
		return err
	}
	if sess.Status != model.StatusInProgress {
		return model.NewNotStartedError()
	}

	p, err := s.participantRepo.FindBySessionAndIdentity(ctx, sess.ID, identity)
	if err != nil {
		return fmt.Errorf("参加者の検索に失敗しました: %w", err)
	}
	if p == nil {
		return model.NewUnauthorizedError()
	}

	// ターゲットIDはUUID型カラムに入るため、形式不正はクエリに渡さない
	if _, err := uuid.Parse(targetID); err != nil {
		return model.NewParticipantNotFoundError(targetID)
	}

	action := model.PendingAction{TargetParticipantID: targetID, Kind: kind}
	if err := s.participantRepo.UpdatePendingAction(ctx, p.ID, action); err != nil {
		return fmt.Errorf("アクションの記録に失敗しました: %w", err)
	}

	s.publish(ctx, sess.ID, notify.KindAction)
	return nil
}

// ResolveVote は投票結果を適用する。オーナーのみ実行できる。
// eliminatedIDが空でなければその参加者を永続的に脱落させ、フェーズを夜に戻し、
// 全参加者の未解決アクションをクリアする。脱落者なし（同数などの引き分け）の
// 場合はeliminatedIDを空にして呼ぶ。
// 人狼系専用。暗殺チェーン系の脱落は輪の付け替えを伴うため、投票経由で
// 生存フラグだけを倒すと輪が分断される。
func (s *Service) ResolveVote(ctx context.Context, code, identity, eliminatedID string) error {
	sess, err := s.findSession(ctx, code)
	if err != nil {
		return err
	}
	if sess.GameKind != model.GameKindJinro {
		return model.NewInvalidGameKindError(string(sess.GameKind))
	}
	if _, err := s.findOwner(ctx, sess, identity); err != nil {
		return err
	}
	if sess.Status != model.StatusInProgress {
		return model.NewNotStartedError()
	}

	if eliminatedID != "" {
		target, err := s.participantRepo.FindByID(ctx, eliminatedID)
		if err != nil {
			return fmt.Errorf("参加者の検索に失敗しました: %w", err)
		}
		if target == nil || target.SessionID != sess.ID {
			return model.NewParticipantNotFoundError(eliminatedID)
		}
	}

	if err := s.sessionRepo.ResolveVote(ctx, sess.ID, eliminatedID, model.PhaseNight); err != nil {
		return fmt.Errorf("投票結果の適用に失敗しました: %w", err)
	}

	s.stats.RecordVoteResolved()
	slog.Info("投票結果を適用しました",
		slog.String("session_id", sess.ID),
		slog.String("eliminated_id", eliminatedID),
	)

	s.publish(ctx, sess.ID, notify.KindVote)
	return nil
}

// publish は変更イベントをベストエフォートで配信する。
func (s *Service) publish(ctx context.Context, sessionID, kind string) {
	if err := s.notifier.Publish(ctx, notify.Event{SessionID: sessionID, Kind: kind}); err != nil {
		slog.Warn("変更イベントの通知に失敗しました",
			slog.String("session_id", sessionID),
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
	}
}
