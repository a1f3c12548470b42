package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/asobiba/internal/middleware"
	"github.com/hitoshi/asobiba/internal/model"
)

// writeAPIErrorResponse は統一エラーフォーマットでレスポンスを書き込む。
// フォーマットの定義はmiddleware側に一本化してある。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// handleServiceError はサービス層のエラーをHTTPレスポンスに変換する。
// APIError以外のエラーは詳細をログに残し、一般的な500レスポンスを返す。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はエラーコードをHTTPステータスコードに対応付ける。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeSessionNotFound, model.ErrCodeParticipantNotFound:
		return http.StatusNotFound
	case model.ErrCodeUnauthorized:
		return http.StatusForbidden
	case model.ErrCodeAlreadyStarted, model.ErrCodeNotStarted, model.ErrCodeDuplicateName, model.ErrCodeEliminationConflict:
		return http.StatusConflict
	case model.ErrCodeInvalidName, model.ErrCodeInvalidGameKind:
		return http.StatusBadRequest
	case model.ErrCodeInsufficientPlayers, model.ErrCodeRoleCountMismatch, model.ErrCodeMissingRequiredRole:
		return http.StatusUnprocessableEntity
	case model.ErrCodeCodeGenExhausted, model.ErrCodeNotifyUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
