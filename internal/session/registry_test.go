package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/asobiba/internal/model"
	"github.com/hitoshi/asobiba/internal/repository"
)

// --- モック ---

type mockSessionRepo struct {
	findByCodeFn      func(ctx context.Context, code string) (*model.Session, error)
	createWithOwnerFn func(ctx context.Context, session *model.Session, owner *model.Participant) error
}

func (m *mockSessionRepo) FindByCode(ctx context.Context, code string) (*model.Session, error) {
	if m.findByCodeFn != nil {
		return m.findByCodeFn(ctx, code)
	}
	return nil, nil
}

func (m *mockSessionRepo) CreateWithOwner(ctx context.Context, session *model.Session, owner *model.Participant) error {
	if m.createWithOwnerFn != nil {
		return m.createWithOwnerFn(ctx, session, owner)
	}
	return nil
}

func (m *mockSessionRepo) Start(ctx context.Context, sessionID string, config model.RoleConfig, phase model.Phase, roleByParticipant map[string]string) error {
	return nil
}

func (m *mockSessionRepo) AdvancePhase(ctx context.Context, sessionID string, phase model.Phase) error {
	return nil
}

func (m *mockSessionRepo) ResolveVote(ctx context.Context, sessionID, eliminatedID string, phase model.Phase) error {
	return nil
}

func (m *mockSessionRepo) DeleteExpired(ctx context.Context, finishedBefore, anyBefore time.Time) (int64, error) {
	return 0, nil
}

type mockParticipantRepo struct {
	listBySessionFn func(ctx context.Context, sessionID string) ([]*model.Participant, error)
}

func (m *mockParticipantRepo) FindByID(ctx context.Context, id string) (*model.Participant, error) {
	return nil, nil
}

func (m *mockParticipantRepo) FindBySessionAndIdentity(ctx context.Context, sessionID, identity string) (*model.Participant, error) {
	return nil, nil
}

func (m *mockParticipantRepo) NameExists(ctx context.Context, sessionID, displayName string) (bool, error) {
	return false, nil
}

func (m *mockParticipantRepo) ListBySession(ctx context.Context, sessionID string) ([]*model.Participant, error) {
	if m.listBySessionFn != nil {
		return m.listBySessionFn(ctx, sessionID)
	}
	return nil, nil
}

func (m *mockParticipantRepo) Create(ctx context.Context, p *model.Participant) error {
	return nil
}

func (m *mockParticipantRepo) UpdatePendingAction(ctx context.Context, participantID string, action model.PendingAction) error {
	return nil
}

type passthroughSanitizer struct{}

func (passthroughSanitizer) Sanitize(rawName string) string { return rawName }

// --- テスト ---

// TestRegistry_Create_Success はセッションとオーナーが作成されることを検証する。
func TestRegistry_Create_Success(t *testing.T) {
	var createdSession *model.Session
	var createdOwner *model.Participant

	repo := &mockSessionRepo{
		createWithOwnerFn: func(ctx context.Context, session *model.Session, owner *model.Participant) error {
			createdSession = session
			createdOwner = owner
			return nil
		},
	}
	r := NewRegistry(repo, &mockParticipantRepo{}, passthroughSanitizer{}, nil)

	session, owner, err := r.Create(context.Background(), model.GameKindJinro, "taro", "identity-1")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if len(session.ID) != 6 {
		t.Errorf("jinro code length = %d, want 6", len(session.ID))
	}
	if session.Status != model.StatusLobby {
		t.Errorf("status = %q, want %q", session.Status, model.StatusLobby)
	}
	if !owner.IsOwner {
		t.Error("owner participant should have IsOwner = true")
	}
	if owner.Identity != "identity-1" {
		t.Errorf("identity = %q, want %q", owner.Identity, "identity-1")
	}
	if createdSession == nil || createdOwner == nil {
		t.Fatal("CreateWithOwner was not called")
	}
	if createdOwner.SessionID != createdSession.ID {
		t.Errorf("owner.SessionID = %q, want %q", createdOwner.SessionID, createdSession.ID)
	}
}

// TestRegistry_Create_MurderUsesShortCode は暗殺チェーン系のコードが
// 4文字であることを検証する。
func TestRegistry_Create_MurderUsesShortCode(t *testing.T) {
	r := NewRegistry(&mockSessionRepo{}, &mockParticipantRepo{}, passthroughSanitizer{}, nil)

	session, _, err := r.Create(context.Background(), model.GameKindMurder, "taro", "identity-1")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if len(session.ID) != 4 {
		t.Errorf("murder code length = %d, want 4", len(session.ID))
	}
}

// TestRegistry_Create_CodeUsesAllowedAlphabet は生成コードが許可文字集合のみで
// 構成されることを検証する。
func TestRegistry_Create_CodeUsesAllowedAlphabet(t *testing.T) {
	r := NewRegistry(&mockSessionRepo{}, &mockParticipantRepo{}, passthroughSanitizer{}, nil)

	for i := 0; i < 20; i++ {
		session, _, err := r.Create(context.Background(), model.GameKindJinro, "taro", "identity-1")
		if err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
		for _, c := range session.ID {
			if c == 'I' || c == 'O' || c < 'A' || c > 'Z' {
				t.Fatalf("code %q contains disallowed character %q", session.ID, c)
			}
		}
	}
}

// TestRegistry_Create_RetriesOnCollision はコード衝突時に再生成して
// 成功することを検証する。
func TestRegistry_Create_RetriesOnCollision(t *testing.T) {
	attempts := 0
	repo := &mockSessionRepo{
		createWithOwnerFn: func(ctx context.Context, session *model.Session, owner *model.Participant) error {
			attempts++
			if attempts < 3 {
				return repository.ErrCodeTaken
			}
			return nil
		},
	}
	r := NewRegistry(repo, &mockParticipantRepo{}, passthroughSanitizer{}, nil)

	_, _, err := r.Create(context.Background(), model.GameKindJinro, "taro", "identity-1")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

// TestRegistry_Create_ExhaustedAfterMaxAttempts は衝突が続いた場合に
// CODE_GENERATION_EXHAUSTEDで失敗することを検証する。
func TestRegistry_Create_ExhaustedAfterMaxAttempts(t *testing.T) {
	attempts := 0
	repo := &mockSessionRepo{
		createWithOwnerFn: func(ctx context.Context, session *model.Session, owner *model.Participant) error {
			attempts++
			return repository.ErrCodeTaken
		},
	}
	r := NewRegistry(repo, &mockParticipantRepo{}, passthroughSanitizer{}, nil)

	_, _, err := r.Create(context.Background(), model.GameKindJinro, "taro", "identity-1")

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeCodeGenExhausted {
		t.Fatalf("expected CODE_GENERATION_EXHAUSTED, got %v", err)
	}
	if attempts != 5 {
		t.Errorf("attempts = %d, want 5", attempts)
	}
}

// TestRegistry_Create_InvalidKind はサポート外のゲーム種類が拒否されることを検証する。
func TestRegistry_Create_InvalidKind(t *testing.T) {
	r := NewRegistry(&mockSessionRepo{}, &mockParticipantRepo{}, passthroughSanitizer{}, nil)

	_, _, err := r.Create(context.Background(), model.GameKind("chess"), "taro", "identity-1")

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInvalidGameKind {
		t.Fatalf("expected INVALID_GAME_KIND, got %v", err)
	}
}

// TestRegistry_Create_EmptyNameRejected はサニタイズ後に空になる表示名が
// 拒否されることを検証する。
func TestRegistry_Create_EmptyNameRejected(t *testing.T) {
	r := NewRegistry(&mockSessionRepo{}, &mockParticipantRepo{}, passthroughSanitizer{}, nil)

	_, _, err := r.Create(context.Background(), model.GameKindJinro, "", "identity-1")

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInvalidName {
		t.Fatalf("expected INVALID_NAME, got %v", err)
	}
}

// TestRegistry_GetByCode_NormalizesCase は小文字コードでも検索できることを検証する。
func TestRegistry_GetByCode_NormalizesCase(t *testing.T) {
	var lookedUp string
	repo := &mockSessionRepo{
		findByCodeFn: func(ctx context.Context, code string) (*model.Session, error) {
			lookedUp = code
			return &model.Session{ID: code, Status: model.StatusLobby}, nil
		},
	}
	r := NewRegistry(repo, &mockParticipantRepo{}, passthroughSanitizer{}, nil)

	session, err := r.GetByCode(context.Background(), " abcdef ")
	if err != nil {
		t.Fatalf("GetByCode returned error: %v", err)
	}
	if lookedUp != "ABCDEF" {
		t.Errorf("looked up code = %q, want %q", lookedUp, "ABCDEF")
	}
	if session.ID != "ABCDEF" {
		t.Errorf("session.ID = %q, want %q", session.ID, "ABCDEF")
	}
}

// TestRegistry_GetByCode_NotFound は未知のコードがSESSION_NOT_FOUNDになることを検証する。
func TestRegistry_GetByCode_NotFound(t *testing.T) {
	r := NewRegistry(&mockSessionRepo{}, &mockParticipantRepo{}, passthroughSanitizer{}, nil)

	_, err := r.GetByCode(context.Background(), "ZZZZ")

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeSessionNotFound {
		t.Fatalf("expected SESSION_NOT_FOUND, got %v", err)
	}
}

// TestRegistry_GetState_ReturnsParticipants は全状態フェッチが参加者一覧を
// 含むことを検証する。
func TestRegistry_GetState_ReturnsParticipants(t *testing.T) {
	sessionRepo := &mockSessionRepo{
		findByCodeFn: func(ctx context.Context, code string) (*model.Session, error) {
			return &model.Session{ID: code, Status: model.StatusLobby}, nil
		},
	}
	participantRepo := &mockParticipantRepo{
		listBySessionFn: func(ctx context.Context, sessionID string) ([]*model.Participant, error) {
			return []*model.Participant{
				{ID: "p1", SessionID: sessionID, DisplayName: "taro"},
				{ID: "p2", SessionID: sessionID, DisplayName: "hanako"},
			}, nil
		},
	}
	r := NewRegistry(sessionRepo, participantRepo, passthroughSanitizer{}, nil)

	session, participants, err := r.GetState(context.Background(), "ABCDEF")
	if err != nil {
		t.Fatalf("GetState returned error: %v", err)
	}
	if session.ID != "ABCDEF" {
		t.Errorf("session.ID = %q, want %q", session.ID, "ABCDEF")
	}
	if len(participants) != 2 {
		t.Errorf("participants = %d, want 2", len(participants))
	}
}
