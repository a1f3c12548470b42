// Package session はゲームセッションの登録と検索のドメインロジックを提供する。
package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/asobiba/internal/model"
	"github.com/hitoshi/asobiba/internal/repository"
	"github.com/hitoshi/asobiba/internal/security"
)

// codeAlphabet は合言葉コードに使用する文字集合。
// 口頭や手書きでの伝達を想定し、紛らわしいIとOは除外する。
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ"

// maxCodeAttempts はコード衝突時の再生成の試行上限。
const maxCodeAttempts = 5

// Stats はセッション作成のメトリクス記録用インターフェース。
type Stats interface {
	// RecordSessionCreated はセッション作成を記録する。
	RecordSessionCreated(kind string)
}

// nopStats はStats未設定時のゼロ実装。
type nopStats struct{}

func (nopStats) RecordSessionCreated(kind string) {}

// Registry はセッションの作成と検索のサービス層。
type Registry struct {
	sessionRepo     repository.SessionRepository
	participantRepo repository.ParticipantRepository
	sanitizer       security.NameSanitizerService
	stats           Stats
}

// NewRegistry はRegistryの新しいインスタンスを生成する。statsはnilでもよい。
func NewRegistry(
	sessionRepo repository.SessionRepository,
	participantRepo repository.ParticipantRepository,
	sanitizer security.NameSanitizerService,
	stats Stats,
) *Registry {
	if stats == nil {
		stats = nopStats{}
	}
	return &Registry{
		sessionRepo:     sessionRepo,
		participantRepo: participantRepo,
		sanitizer:       sanitizer,
		stats:           stats,
	}
}

// Create は新しいセッションとオーナー参加者を作成する。
// コードは固定長の大文字英字で、衝突した場合は上限回数まで再生成する。
// 上限まで衝突し続けた場合はCODE_GENERATION_EXHAUSTEDを返す。
func (r *Registry) Create(ctx context.Context, kind model.GameKind, ownerName, identity string) (*model.Session, *model.Participant, error) {
	if !kind.Valid() {
		return nil, nil, model.NewInvalidGameKindError(string(kind))
	}

	name := r.sanitizer.Sanitize(ownerName)
	if name == "" {
		return nil, nil, model.NewInvalidNameError()
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := generateCode(kind.CodeLength())
		if err != nil {
			return nil, nil, fmt.Errorf("コード生成に失敗しました: %w", err)
		}

		now := time.Now()
		session := &model.Session{
			ID:         code,
			GameKind:   kind,
			Status:     model.StatusLobby,
			RoleConfig: model.RoleConfig{},
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		owner := &model.Participant{
			ID:          uuid.NewString(),
			SessionID:   code,
			Identity:    identity,
			DisplayName: name,
			IsOwner:     true,
			IsAlive:     true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		err = r.sessionRepo.CreateWithOwner(ctx, session, owner)
		if errors.Is(err, repository.ErrCodeTaken) {
			slog.Info("合言葉コードが衝突したため再生成します",
				slog.String("code", code),
				slog.Int("attempt", attempt+1),
			)
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("セッションの作成に失敗しました: %w", err)
		}

		r.stats.RecordSessionCreated(string(kind))
		slog.Info("セッションを作成しました",
			slog.String("session_id", code),
			slog.String("game_kind", string(kind)),
		)
		return session, owner, nil
	}

	return nil, nil, model.NewCodeGenerationExhaustedError()
}

// GetByCode は合言葉コードでセッションを検索する。
// コードは大文字に正規化してから照合する。
func (r *Registry) GetByCode(ctx context.Context, code string) (*model.Session, error) {
	session, err := r.sessionRepo.FindByCode(ctx, NormalizeCode(code))
	if err != nil {
		return nil, fmt.Errorf("セッションの取得に失敗しました: %w", err)
	}
	if session == nil {
		return nil, model.NewSessionNotFoundError(code)
	}
	return session, nil
}

// GetState はセッションと参加者一覧をまとめて返す。
// クライアントの「全状態の再フェッチ」に対応する唯一の読み取り操作。
func (r *Registry) GetState(ctx context.Context, code string) (*model.Session, []*model.Participant, error) {
	session, err := r.GetByCode(ctx, code)
	if err != nil {
		return nil, nil, err
	}

	participants, err := r.participantRepo.ListBySession(ctx, session.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("参加者一覧の取得に失敗しました: %w", err)
	}

	return session, participants, nil
}

// NormalizeCode は合言葉コードを保存・照合用の形に正規化する。
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// generateCode は指定長の合言葉コードを暗号論的乱数で生成する。
func generateCode(length int) (string, error) {
	code := make([]byte, length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
		if err != nil {
			return "", err
		}
		code[i] = codeAlphabet[n.Int64()]
	}
	return string(code), nil
}
