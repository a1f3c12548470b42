package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/asobiba/internal/model"
	"github.com/hitoshi/asobiba/internal/notify"
)

// heartbeatInterval はSSE接続維持用のコメント送信間隔。
// プロキシのアイドルタイムアウトより短くしておく。
const heartbeatInterval = 15 * time.Second

// SessionFinder はイベントストリーム開始前のセッション存在確認用インターフェース。
type SessionFinder interface {
	GetByCode(ctx context.Context, code string) (*model.Session, error)
}

// EventsHandler はセッション変更イベントのSSEストリームを提供する。
type EventsHandler struct {
	sessions SessionFinder
	notifier notify.Notifier
}

// NewEventsHandler はEventsHandlerを生成する。
func NewEventsHandler(sessions SessionFinder, notifier notify.Notifier) *EventsHandler {
	return &EventsHandler{
		sessions: sessions,
		notifier: notifier,
	}
}

// Stream はセッションの変更イベントをServer-Sent Eventsとして配信する。
// GET /api/sessions/{code}/events
//
// イベントはセッションIDと種別タグのみの最小ペイロードで、受信したクライアントは
// 全状態を再フェッチする。配送はat-most-onceのベストエフォートで、取りこぼしは
// 次回の再フェッチで自己回復する。クライアント切断で購読は速やかに解放される。
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.GetByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeAPIErrorResponse(w, http.StatusServiceUnavailable, model.NewNotifyUnavailableError())
		return
	}

	events, cancel, err := h.notifier.Subscribe(r.Context(), session.ID)
	if err != nil {
		writeAPIErrorResponse(w, http.StatusServiceUnavailable, model.NewNotifyUnavailableError())
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-events:
			if !open {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: {\"session_id\":%q,\"kind\":%q}\n\n", event.Kind, event.SessionID, event.Kind)
			flusher.Flush()
		case <-heartbeat.C:
			// コメント行で接続を維持する
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}
