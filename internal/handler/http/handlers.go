package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/juju/errors"

	"github.com/webitel/im-forum-delivery/internal/domain/event"
	"github.com/webitel/im-forum-delivery/internal/handler/marshaller"
	"github.com/webitel/im-forum-delivery/internal/service"
)

const maxBodySize = 64 << 10

type emitRequest struct {
	Target struct {
		UserID string `json:"userId"`
	} `json:"target"`
	Event json.RawMessage `json:"event"`
}

type typingRequest struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

func decodeBody(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return errors.NewNotValid(err, "request body")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return errors.NewNotValid(err, "request body")
	}
	return nil
}

// emit is the collaborator entry point: the event is validated, its side
// effects applied and the fan-out report returned.
func (a *API) emit(w http.ResponseWriter, r *http.Request) {
	var req emitRequest
	if err := decodeBody(r, &req); err != nil {
		marshaller.WriteError(w, err)
		return
	}
	if len(req.Event) == 0 {
		marshaller.WriteError(w, errors.NotValidf("missing event"))
		return
	}
	ev, err := event.Decode(req.Event)
	if err != nil {
		marshaller.WriteError(w, err)
		return
	}

	var report *service.Report
	if req.Target.UserID != "" {
		report, err = a.Emitter.EmitToUser(r.Context(), req.Target.UserID, ev)
	} else {
		report, err = a.Emitter.Emit(r.Context(), ev)
	}
	if err != nil {
		marshaller.WriteError(w, err)
		return
	}
	marshaller.WriteJSON(w, http.StatusAccepted, map[string]any{
		"eventId": ev.GetID(),
		"report":  report,
	})
}

func (a *API) typing(w http.ResponseWriter, r *http.Request) {
	var req typingRequest
	if err := decodeBody(r, &req); err != nil {
		marshaller.WriteError(w, err)
		return
	}
	report, err := a.Emitter.Typing(r.Context(), chi.URLParam(r, "forumID"), req.UserID, req.IsTyping)
	if err != nil {
		marshaller.WriteError(w, err)
		return
	}
	marshaller.WriteJSON(w, http.StatusAccepted, map[string]any{"report": report})
}

func (a *API) messages(w http.ResponseWriter, r *http.Request) {
	limit := int64(0)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			marshaller.WriteError(w, errors.NotValidf("limit %q", raw))
			return
		}
		limit = n
	}
	msgs, err := a.History.Recent(r.Context(), chi.URLParam(r, "forumID"), limit)
	if err != nil {
		marshaller.WriteError(w, err)
		return
	}
	marshaller.WriteJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (a *API) presence(w http.ResponseWriter, r *http.Request) {
	p, err := a.Presence.Status(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		marshaller.WriteError(w, err)
		return
	}
	marshaller.WriteJSON(w, http.StatusOK, p)
}

func (a *API) stats(w http.ResponseWriter, r *http.Request) {
	st, err := a.Stats.Stats(r.Context())
	if err != nil {
		marshaller.WriteError(w, err)
		return
	}
	marshaller.WriteJSON(w, http.StatusOK, st)
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	if err := a.Store.Ping(r.Context()); err != nil {
		marshaller.WriteError(w, err)
		return
	}
	marshaller.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
