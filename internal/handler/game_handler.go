package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/asobiba/internal/middleware"
	"github.com/hitoshi/asobiba/internal/model"
)

// GameServiceInterface はゲーム進行ハンドラーが必要とするサービスインターフェース。
type GameServiceInterface interface {
	// Start はセッションをロビーから進行中へ遷移させる。
	Start(ctx context.Context, code, identity string, config model.RoleConfig) error
	// AdvancePhase はフェーズを固定サイクルの次へ進める。
	AdvancePhase(ctx context.Context, code, identity string) (model.Phase, error)
	// SubmitAction は参加者の未解決アクションを記録する（last-write-wins）。
	SubmitAction(ctx context.Context, code, identity, targetID string, kind model.ActionKind) error
	// ResolveVote は投票結果を適用する。
	ResolveVote(ctx context.Context, code, identity, eliminatedID string) error
}

// ChainServiceInterface は脱落処理ハンドラーが必要とするサービスインターフェース。
type ChainServiceInterface interface {
	// RecordElimination は脱落を記録し、勝者がいればそのIDを返す。
	RecordElimination(ctx context.Context, code, identity, eliminatedID string) (string, error)
}

// GameHandler はゲーム進行のHTTPハンドラー。
type GameHandler struct {
	game  GameServiceInterface
	chain ChainServiceInterface
}

// NewGameHandler はGameHandlerを生成する。
func NewGameHandler(game GameServiceInterface, chain ChainServiceInterface) *GameHandler {
	return &GameHandler{
		game:  game,
		chain: chain,
	}
}

// startRequest はゲーム開始リクエストのボディ。
type startRequest struct {
	RoleConfig model.RoleConfig `json:"role_config"`
}

// actionRequest はアクション送信リクエストのボディ。
type actionRequest struct {
	TargetParticipantID string `json:"target_participant_id"`
	Kind                string `json:"kind"`
}

// voteRequest は投票解決リクエストのボディ。
// 脱落者なし（引き分け）の場合はeliminated_participant_idを省略する。
type voteRequest struct {
	EliminatedParticipantID string `json:"eliminated_participant_id"`
}

// eliminationRequest は脱落報告リクエストのボディ。
type eliminationRequest struct {
	ParticipantID string `json:"participant_id"`
}

// eliminationResponse は脱落報告のAPIレスポンス。
type eliminationResponse struct {
	WinnerParticipantID string `json:"winner_participant_id,omitempty"`
}

// phaseResponse はフェーズ遷移のAPIレスポンス。
type phaseResponse struct {
	Phase string `json:"phase"`
}

// identityOrReject はコンテキストからidentityを取り出す。なければ401を書き込む。
func identityOrReject(w http.ResponseWriter, r *http.Request) (string, bool) {
	identity, err := middleware.IdentityFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return "", false
	}
	return identity, true
}

// decodeOrReject はリクエストボディをJSONとして読み取る。失敗したら400を書き込む。
func decodeOrReject(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return false
	}
	return true
}

// Start はゲームを開始する。オーナーのみ。
// POST /api/sessions/{code}/start
func (h *GameHandler) Start(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrReject(w, r)
	if !ok {
		return
	}

	var req startRequest
	if !decodeOrReject(w, r, &req) {
		return
	}

	if err := h.game.Start(r.Context(), chi.URLParam(r, "code"), identity, req.RoleConfig); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Advance はフェーズを次へ進める。オーナーのみ。
// POST /api/sessions/{code}/advance
func (h *GameHandler) Advance(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrReject(w, r)
	if !ok {
		return
	}

	phase, err := h.game.AdvancePhase(r.Context(), chi.URLParam(r, "code"), identity)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(phaseResponse{Phase: string(phase)})
}

// SubmitAction はフェーズ内アクションを送信する。再送信は上書き。
// POST /api/sessions/{code}/actions
func (h *GameHandler) SubmitAction(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrReject(w, r)
	if !ok {
		return
	}

	var req actionRequest
	if !decodeOrReject(w, r, &req) {
		return
	}

	err := h.game.SubmitAction(r.Context(), chi.URLParam(r, "code"), identity, req.TargetParticipantID, model.ActionKind(req.Kind))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ResolveVote は投票結果を適用する。オーナーのみ。
// POST /api/sessions/{code}/vote
func (h *GameHandler) ResolveVote(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrReject(w, r)
	if !ok {
		return
	}

	var req voteRequest
	if !decodeOrReject(w, r, &req) {
		return
	}

	if err := h.game.ResolveVote(r.Context(), chi.URLParam(r, "code"), identity, req.EliminatedParticipantID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RecordElimination は暗殺チェーンの脱落を報告する。
// POST /api/sessions/{code}/eliminations
func (h *GameHandler) RecordElimination(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrReject(w, r)
	if !ok {
		return
	}

	var req eliminationRequest
	if !decodeOrReject(w, r, &req) {
		return
	}

	winnerID, err := h.chain.RecordElimination(r.Context(), chi.URLParam(r, "code"), identity, req.ParticipantID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(eliminationResponse{WinnerParticipantID: winnerID})
}
