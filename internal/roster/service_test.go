package roster

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/asobiba/internal/model"
	"github.com/hitoshi/asobiba/internal/notify"
	"github.com/hitoshi/asobiba/internal/repository"
)

// --- モック ---

type mockSessionRepo struct {
	findByCodeFn func(ctx context.Context, code string) (*model.Session, error)
}

func (m *mockSessionRepo) FindByCode(ctx context.Context, code string) (*model.Session, error) {
	if m.findByCodeFn != nil {
		return m.findByCodeFn(ctx, code)
	}
	return nil, nil
}

func (m *mockSessionRepo) CreateWithOwner(ctx context.Context, session *model.Session, owner *model.Participant) error {
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
	findByIdentityFn func(ctx context.Context, sessionID, identity string) (*model.Participant, error)
	nameExistsFn     func(ctx context.Context, sessionID, displayName string) (bool, error)
	createFn         func(ctx context.Context, p *model.Participant) error
}

func (m *mockParticipantRepo) FindByID(ctx context.Context, id string) (*model.Participant, error) {
	return nil, nil
}

func (m *mockParticipantRepo) FindBySessionAndIdentity(ctx context.Context, sessionID, identity string) (*model.Participant, error) {
	if m.findByIdentityFn != nil {
		return m.findByIdentityFn(ctx, sessionID, identity)
	}
	return nil, nil
}

func (m *mockParticipantRepo) NameExists(ctx context.Context, sessionID, displayName string) (bool, error) {
	if m.nameExistsFn != nil {
		return m.nameExistsFn(ctx, sessionID, displayName)
	}
	return false, nil
}

func (m *mockParticipantRepo) ListBySession(ctx context.Context, sessionID string) ([]*model.Participant, error) {
	return nil, nil
}

func (m *mockParticipantRepo) Create(ctx context.Context, p *model.Participant) error {
	if m.createFn != nil {
		return m.createFn(ctx, p)
	}
	return nil
}

func (m *mockParticipantRepo) UpdatePendingAction(ctx context.Context, participantID string, action model.PendingAction) error {
	return nil
}

type passthroughSanitizer struct{}

func (passthroughSanitizer) Sanitize(rawName string) string { return rawName }

type recordingNotifier struct {
	events []notify.Event
	err    error
}

func (n *recordingNotifier) Publish(ctx context.Context, event notify.Event) error {
	n.events = append(n.events, event)
	return n.err
}

func (n *recordingNotifier) Subscribe(ctx context.Context, sessionID string) (<-chan notify.Event, func(), error) {
	return nil, func() {}, nil
}

func lobbySessionRepo(kind model.GameKind) *mockSessionRepo {
	return &mockSessionRepo{
		findByCodeFn: func(ctx context.Context, code string) (*model.Session, error) {
			return &model.Session{ID: code, GameKind: kind, Status: model.StatusLobby}, nil
		},
	}
}

// --- テスト ---

// TestJoin_Success はロビー中のセッションに参加できることを検証する。
func TestJoin_Success(t *testing.T) {
	var created *model.Participant
	participantRepo := &mockParticipantRepo{
		createFn: func(ctx context.Context, p *model.Participant) error {
			created = p
			return nil
		},
	}
	notifier := &recordingNotifier{}
	s := NewService(lobbySessionRepo(model.GameKindJinro), participantRepo, passthroughSanitizer{}, notifier, nil)

	_, participant, err := s.Join(context.Background(), "ABCDEF", "taro", "identity-1")
	if err != nil {
		t.Fatalf("Join returned error: %v", err)
	}

	if created == nil {
		t.Fatal("Create was not called")
	}
	if participant.IsOwner {
		t.Error("joining participant should not be owner")
	}
	if !participant.IsAlive {
		t.Error("joining participant should be alive")
	}
	if len(notifier.events) != 1 || notifier.events[0].Kind != notify.KindJoined {
		t.Errorf("notified events = %+v, want one joined event", notifier.events)
	}
}

// TestJoin_NormalizesCode は小文字の合言葉でも参加できることを検証する。
func TestJoin_NormalizesCode(t *testing.T) {
	var lookedUp string
	sessionRepo := &mockSessionRepo{
		findByCodeFn: func(ctx context.Context, code string) (*model.Session, error) {
			lookedUp = code
			return &model.Session{ID: code, GameKind: model.GameKindJinro, Status: model.StatusLobby}, nil
		},
	}
	s := NewService(sessionRepo, &mockParticipantRepo{}, passthroughSanitizer{}, &recordingNotifier{}, nil)

	_, _, err := s.Join(context.Background(), "abcdef", "taro", "identity-1")
	if err != nil {
		t.Fatalf("Join returned error: %v", err)
	}
	if lookedUp != "ABCDEF" {
		t.Errorf("looked up code = %q, want %q", lookedUp, "ABCDEF")
	}
}

// TestJoin_SessionNotFound は未知の合言葉がSESSION_NOT_FOUNDになることを検証する。
func TestJoin_SessionNotFound(t *testing.T) {
	s := NewService(&mockSessionRepo{}, &mockParticipantRepo{}, passthroughSanitizer{}, &recordingNotifier{}, nil)

	_, _, err := s.Join(context.Background(), "ZZZZZZ", "taro", "identity-1")

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeSessionNotFound {
		t.Fatalf("expected SESSION_NOT_FOUND, got %v", err)
	}
}

// TestJoin_IdempotentByIdentity は同一identityの再送が既存参加者を返し、
// 新しい行を作らないことを検証する。
func TestJoin_IdempotentByIdentity(t *testing.T) {
	existing := &model.Participant{ID: "p1", SessionID: "ABCDEF", Identity: "identity-1", DisplayName: "taro"}
	createCalled := false
	participantRepo := &mockParticipantRepo{
		findByIdentityFn: func(ctx context.Context, sessionID, identity string) (*model.Participant, error) {
			return existing, nil
		},
		createFn: func(ctx context.Context, p *model.Participant) error {
			createCalled = true
			return nil
		},
	}
	notifier := &recordingNotifier{}
	s := NewService(lobbySessionRepo(model.GameKindJinro), participantRepo, passthroughSanitizer{}, notifier, nil)

	_, participant, err := s.Join(context.Background(), "ABCDEF", "different name", "identity-1")
	if err != nil {
		t.Fatalf("Join returned error: %v", err)
	}
	if participant != existing {
		t.Error("expected existing participant to be returned")
	}
	if createCalled {
		t.Error("Create should not be called for an identity that already joined")
	}
	if len(notifier.events) != 0 {
		t.Errorf("no events should be published for idempotent re-join, got %+v", notifier.events)
	}
}

// TestJoin_RejectsNewJoinAfterStart_Jinro は人狼で開始後の新規参加が
// 拒否されることを検証する。
func TestJoin_RejectsNewJoinAfterStart_Jinro(t *testing.T) {
	sessionRepo := &mockSessionRepo{
		findByCodeFn: func(ctx context.Context, code string) (*model.Session, error) {
			return &model.Session{ID: code, GameKind: model.GameKindJinro, Status: model.StatusInProgress}, nil
		},
	}
	s := NewService(sessionRepo, &mockParticipantRepo{}, passthroughSanitizer{}, &recordingNotifier{}, nil)

	_, _, err := s.Join(context.Background(), "ABCDEF", "taro", "identity-new")

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeAlreadyStarted {
		t.Fatalf("expected ALREADY_STARTED, got %v", err)
	}
}

// TestJoin_AllowsRejoinAfterStart_Murder は暗殺チェーン系で開始後も
// 同一identityによる復帰が許可されることを検証する。
func TestJoin_AllowsRejoinAfterStart_Murder(t *testing.T) {
	existing := &model.Participant{ID: "p1", SessionID: "AB12", Identity: "identity-1", DisplayName: "taro"}
	sessionRepo := &mockSessionRepo{
		findByCodeFn: func(ctx context.Context, code string) (*model.Session, error) {
			return &model.Session{ID: code, GameKind: model.GameKindMurder, Status: model.StatusInProgress}, nil
		},
	}
	participantRepo := &mockParticipantRepo{
		findByIdentityFn: func(ctx context.Context, sessionID, identity string) (*model.Participant, error) {
			if identity == "identity-1" {
				return existing, nil
			}
			return nil, nil
		},
	}
	s := NewService(sessionRepo, participantRepo, passthroughSanitizer{}, &recordingNotifier{}, nil)

	// 既存identityは復帰できる
	_, participant, err := s.Join(context.Background(), "AB12", "taro", "identity-1")
	if err != nil {
		t.Fatalf("re-join returned error: %v", err)
	}
	if participant != existing {
		t.Error("expected existing participant to be returned")
	}

	// 新規identityは拒否される
	_, _, err = s.Join(context.Background(), "AB12", "hanako", "identity-new")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeAlreadyStarted {
		t.Fatalf("expected ALREADY_STARTED for new identity, got %v", err)
	}
}

// TestJoin_DuplicateName は表示名の重複（事前チェック）がDUPLICATE_NAMEに
// なることを検証する。
func TestJoin_DuplicateName(t *testing.T) {
	participantRepo := &mockParticipantRepo{
		nameExistsFn: func(ctx context.Context, sessionID, displayName string) (bool, error) {
			return true, nil
		},
	}
	s := NewService(lobbySessionRepo(model.GameKindJinro), participantRepo, passthroughSanitizer{}, &recordingNotifier{}, nil)

	_, _, err := s.Join(context.Background(), "ABCDEF", "taro", "identity-1")

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeDuplicateName {
		t.Fatalf("expected DUPLICATE_NAME, got %v", err)
	}
}

// TestJoin_DuplicateNameRace は事前チェックをすり抜けた一意制約違反も
// DUPLICATE_NAMEに変換されることを検証する。
func TestJoin_DuplicateNameRace(t *testing.T) {
	participantRepo := &mockParticipantRepo{
		createFn: func(ctx context.Context, p *model.Participant) error {
			return repository.ErrNameTaken
		},
	}
	s := NewService(lobbySessionRepo(model.GameKindJinro), participantRepo, passthroughSanitizer{}, &recordingNotifier{}, nil)

	_, _, err := s.Join(context.Background(), "ABCDEF", "taro", "identity-1")

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeDuplicateName {
		t.Fatalf("expected DUPLICATE_NAME, got %v", err)
	}
}

// TestJoin_IdentityRace は同一identityの同時リクエストで負けた側も
// 勝った側の参加者を受け取ることを検証する。
func TestJoin_IdentityRace(t *testing.T) {
	winner := &model.Participant{ID: "p1", SessionID: "ABCDEF", Identity: "identity-1", DisplayName: "taro"}
	lookups := 0
	participantRepo := &mockParticipantRepo{
		findByIdentityFn: func(ctx context.Context, sessionID, identity string) (*model.Participant, error) {
			lookups++
			// 1回目（冪等チェック）はまだ存在しない。2回目（競合後の再取得）で現れる。
			if lookups == 1 {
				return nil, nil
			}
			return winner, nil
		},
		createFn: func(ctx context.Context, p *model.Participant) error {
			return repository.ErrIdentityTaken
		},
	}
	s := NewService(lobbySessionRepo(model.GameKindJinro), participantRepo, passthroughSanitizer{}, &recordingNotifier{}, nil)

	_, participant, err := s.Join(context.Background(), "ABCDEF", "taro", "identity-1")
	if err != nil {
		t.Fatalf("Join returned error: %v", err)
	}
	if participant != winner {
		t.Error("expected winning participant to be returned after identity race")
	}
}

// TestJoin_EmptyNameRejected はサニタイズ後に空になる表示名が拒否されることを検証する。
func TestJoin_EmptyNameRejected(t *testing.T) {
	s := NewService(lobbySessionRepo(model.GameKindJinro), &mockParticipantRepo{}, passthroughSanitizer{}, &recordingNotifier{}, nil)

	_, _, err := s.Join(context.Background(), "ABCDEF", "", "identity-1")

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInvalidName {
		t.Fatalf("expected INVALID_NAME, got %v", err)
	}
}

// TestJoin_NotifyFailureDoesNotFailJoin は通知失敗が参加の成否に
// 影響しないことを検証する。
func TestJoin_NotifyFailureDoesNotFailJoin(t *testing.T) {
	notifier := &recordingNotifier{err: errors.New("listen channel down")}
	s := NewService(lobbySessionRepo(model.GameKindJinro), &mockParticipantRepo{}, passthroughSanitizer{}, notifier, nil)

	_, _, err := s.Join(context.Background(), "ABCDEF", "taro", "identity-1")
	if err != nil {
		t.Fatalf("Join should succeed even if notify fails, got %v", err)
	}
}
