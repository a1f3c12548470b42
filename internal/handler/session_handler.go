package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/asobiba/internal/middleware"
	"github.com/hitoshi/asobiba/internal/model"
)

// SessionRegistryInterface はセッションハンドラーが必要とするサービスインターフェース。
type SessionRegistryInterface interface {
	// Create は新しいセッションとオーナー参加者を作成する。
	Create(ctx context.Context, kind model.GameKind, ownerName, identity string) (*model.Session, *model.Participant, error)
	// GetState はセッションと参加者一覧をまとめて返す。
	GetState(ctx context.Context, code string) (*model.Session, []*model.Participant, error)
}

// RosterServiceInterface は参加ハンドラーが必要とするサービスインターフェース。
type RosterServiceInterface interface {
	// Join はセッションに参加者を追加する。同一identityの再送は冪等。
	Join(ctx context.Context, code, rawName, identity string) (*model.Session, *model.Participant, error)
}

// SessionHandler はセッションの作成・取得・参加のHTTPハンドラー。
type SessionHandler struct {
	registry SessionRegistryInterface
	roster   RosterServiceInterface
}

// NewSessionHandler はSessionHandlerを生成する。
func NewSessionHandler(registry SessionRegistryInterface, roster RosterServiceInterface) *SessionHandler {
	return &SessionHandler{
		registry: registry,
		roster:   roster,
	}
}

// sessionResponse はセッション情報のAPIレスポンス。
// IDは合言葉コードを兼ねるため、クライアント向けにはcodeとして公開する。
type sessionResponse struct {
	Code       string           `json:"code"`
	GameKind   string           `json:"game_kind"`
	Status     string           `json:"status"`
	Phase      string           `json:"phase,omitempty"`
	RoleConfig model.RoleConfig `json:"role_config,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}

// participantResponse は参加者の公開情報のAPIレスポンス。
// 役職とターゲットは本人以外には公開しない。
type participantResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	IsOwner     bool   `json:"is_owner"`
	IsAlive     bool   `json:"is_alive"`
}

// selfResponse は本人にだけ見せる非公開情報を含む参加者レスポンス。
type selfResponse struct {
	participantResponse
	Role                string                 `json:"role,omitempty"`
	TargetParticipantID string                 `json:"target_participant_id,omitempty"`
	Pending             *pendingActionResponse `json:"pending,omitempty"`
}

// pendingActionResponse は未解決アクションのAPIレスポンス。
type pendingActionResponse struct {
	TargetParticipantID string `json:"target_participant_id"`
	Kind                string `json:"kind"`
}

// stateResponse はセッションの全状態フェッチのAPIレスポンス。
type stateResponse struct {
	Session      sessionResponse       `json:"session"`
	Participants []participantResponse `json:"participants"`
	Me           *selfResponse         `json:"me,omitempty"`
}

func toSessionResponse(s *model.Session) sessionResponse {
	return sessionResponse{
		Code:       s.ID,
		GameKind:   string(s.GameKind),
		Status:     string(s.Status),
		Phase:      string(s.Phase),
		RoleConfig: s.RoleConfig,
		CreatedAt:  s.CreatedAt,
	}
}

func toParticipantResponse(p *model.Participant) participantResponse {
	return participantResponse{
		ID:          p.ID,
		DisplayName: p.DisplayName,
		IsOwner:     p.IsOwner,
		IsAlive:     p.IsAlive,
	}
}

func toSelfResponse(p *model.Participant) *selfResponse {
	self := &selfResponse{
		participantResponse: toParticipantResponse(p),
		Role:                p.Role,
		TargetParticipantID: p.TargetParticipantID,
	}
	if p.Pending != nil {
		self.Pending = &pendingActionResponse{
			TargetParticipantID: p.Pending.TargetParticipantID,
			Kind:                string(p.Pending.Kind),
		}
	}
	return self
}

// toStateResponse はセッションと参加者一覧をAPIレスポンスに変換する。
// identityに一致する参加者がいれば本人向けの非公開情報をmeとして含める。
func toStateResponse(s *model.Session, participants []*model.Participant, identity string) stateResponse {
	resp := stateResponse{
		Session:      toSessionResponse(s),
		Participants: make([]participantResponse, len(participants)),
	}
	for i, p := range participants {
		resp.Participants[i] = toParticipantResponse(p)
		if p.Identity == identity {
			resp.Me = toSelfResponse(p)
		}
	}
	return resp
}

// createSessionRequest はセッション作成リクエストのボディ。
type createSessionRequest struct {
	GameKind    string `json:"game_kind"`
	DisplayName string `json:"display_name"`
}

// joinSessionRequest は参加リクエストのボディ。
type joinSessionRequest struct {
	DisplayName string `json:"display_name"`
}

// CreateSession は新しいセッションを作成する。
// POST /api/sessions
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	identity, err := middleware.IdentityFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return
	}

	session, owner, err := h.registry.Create(r.Context(), model.GameKind(req.GameKind), req.DisplayName, identity)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toStateResponse(session, []*model.Participant{owner}, identity))
}

// GetSession はセッションの全状態（セッション＋参加者一覧）を取得する。
// GET /api/sessions/{code}
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.IdentityFromContext(r.Context())
	code := chi.URLParam(r, "code")

	session, participants, err := h.registry.GetState(r.Context(), code)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toStateResponse(session, participants, identity))
}

// JoinSession はセッションに参加する。同一identityの再送は冪等。
// POST /api/sessions/{code}/participants
func (h *SessionHandler) JoinSession(w http.ResponseWriter, r *http.Request) {
	identity, err := middleware.IdentityFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	code := chi.URLParam(r, "code")

	var req joinSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return
	}

	session, participant, err := h.roster.Join(r.Context(), code, req.DisplayName, identity)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toStateResponse(session, []*model.Participant{participant}, identity))
}
