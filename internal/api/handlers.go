package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/LeventeLantos/scheduled-messaging/internal/contact"
	apperrors "github.com/LeventeLantos/scheduled-messaging/internal/errors"
	"github.com/LeventeLantos/scheduled-messaging/internal/model"
	"github.com/LeventeLantos/scheduled-messaging/internal/service"
)

// OwnerHeader carries the authenticated owner id.
const OwnerHeader = "X-User-ID"

type ctxKey struct{}

type Handler struct {
	sessions   *service.Sessions
	contacts   *contact.Directory
	validate   *validator.Validate
	logger     logrus.FieldLogger
	previewMax int
}

func NewHandler(s *service.Sessions, c *contact.Directory, logger logrus.FieldLogger, previewMax int) *Handler {
	return &Handler{
		sessions:   s,
		contacts:   c,
		validate:   validator.New(),
		logger:     logger,
		previewMax: previewMax,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	m, err := h.sessions.SignIn(r.Context(), r.Header.Get(OwnerHeader))
	if err != nil && !apperrors.IsWarning(err) {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, withWarnings(map[string]any{
		"owner": m.Owner(),
		"sweep": m.SweepStatus(),
	}, err))
}

func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	owner := strings.TrimSpace(r.Header.Get(OwnerHeader))
	writeJSON(w, http.StatusOK, map[string]any{"signedOut": h.sessions.SignOut(owner)})
}

// requireSession resolves the caller's Manager or rejects the request.
func (h *Handler) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := strings.TrimSpace(r.Header.Get(OwnerHeader))
		if owner == "" {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing " + OwnerHeader + " header", Code: "UNAUTHORIZED"})
			return
		}
		m, ok := h.sessions.Get(owner)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "not signed in", Code: "UNAUTHORIZED"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, m)))
	})
}

func manager(r *http.Request) *service.Manager {
	return r.Context().Value(ctxKey{}).(*service.Manager)
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, err := manager(r).List(service.ListQuery{
		Status: model.Status(q.Get("status")),
		Limit:  parseInt(q.Get("limit"), 0),
		Offset: parseInt(q.Get("offset"), 0),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": h.views(r, items)})
}

func (h *Handler) ScheduleMessages(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if !h.decode(w, r, &req) {
		return
	}

	items, err := manager(r).Schedule(r.Context(), service.ScheduleRequest{
		Recipients:  req.Recipients,
		Body:        req.Body,
		DueAt:       *req.DueAt,
		Attachments: req.Attachments,
	})
	if err != nil && !apperrors.IsWarning(err) {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, withWarnings(map[string]any{"items": h.views(r, items)}, err))
}

func (h *Handler) ListSentMessages(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), service.DefaultHistoryLimit)
	offset := parseInt(r.URL.Query().Get("offset"), 0)

	items, err := manager(r).ListSent(r.Context(), limit, offset)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": h.views(r, items)})
}

func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	it, err := manager(r).Get(mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(r, it))
}

func (h *Handler) EditMessage(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if !h.decode(w, r, &req) {
		return
	}

	it, err := manager(r).Edit(r.Context(), mux.Vars(r)["id"], service.EditRequest{
		Recipient: req.Recipient,
		Body:      req.Body,
		DueAt:     *req.DueAt,
	})
	if err != nil && !apperrors.IsWarning(err) {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, withWarnings(map[string]any{"item": h.view(r, it)}, err))
}

func (h *Handler) SendNow(w http.ResponseWriter, r *http.Request) {
	m := manager(r)
	id := mux.Vars(r)["id"]

	err := m.SendNow(r.Context(), id)
	if err != nil && !apperrors.IsWarning(err) {
		h.writeError(w, err)
		return
	}
	h.writeItem(w, r, id, err)
}

func (h *Handler) CancelMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := manager(r).Cancel(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeItem(w, r, id, nil)
}

func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	if err := manager(r).Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) PickContact(w http.ResponseWriter, r *http.Request) {
	c, err := h.contacts.Pick(r.Context(), manager(r).Owner(), r.URL.Query().Get("q"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"contact": c})
}

func (h *Handler) AddContact(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	if !h.decode(w, r, &req) {
		return
	}

	c, err := h.contacts.Add(r.Context(), manager(r).Owner(), req.Name, req.PhoneNumber)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) NotificationPermission(w http.ResponseWriter, r *http.Request) {
	granted, err := manager(r).RequestPermission(r.Context())
	if err != nil {
		h.writeError(w, apperrors.Wrap(err, apperrors.ErrCodeNotification, "permission request failed"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"granted": granted})
}

func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, manager(r).SweepStatus())
}

func (h *Handler) SchedulerStart(w http.ResponseWriter, r *http.Request) {
	m := manager(r)
	m.StartSweep()
	writeJSON(w, http.StatusOK, m.SweepStatus())
}

func (h *Handler) SchedulerStop(w http.ResponseWriter, r *http.Request) {
	m := manager(r)
	m.StopSweep()
	writeJSON(w, http.StatusOK, m.SweepStatus())
}

// writeItem responds with the item's current state, or 204 when it is gone.
func (h *Handler) writeItem(w http.ResponseWriter, r *http.Request, id string, warning error) {
	it, err := manager(r).Get(id)
	if err != nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, withWarnings(map[string]any{"item": h.view(r, it)}, warning))
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.WithError(err).Debug("Failed to decode request body")
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body", Code: string(apperrors.ErrCodeValidationFailed)})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation error: " + err.Error(), Code: string(apperrors.ErrCodeValidationFailed)})
		return false
	}
	return true
}

func (h *Handler) views(r *http.Request, items []model.ScheduledMessage) []messageView {
	out := make([]messageView, 0, len(items))
	for _, it := range items {
		out = append(out, h.view(r, it))
	}
	return out
}

func (h *Handler) view(r *http.Request, it model.ScheduledMessage) messageView {
	v := messageView{ScheduledMessage: it, Preview: model.Preview(it.Body, h.previewMax)}
	if it.Status == model.Sent {
		if at, ok := manager(r).SentAt(r.Context(), it.ID); ok {
			v.SentAt = &at
		}
	}
	return v
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	code := apperrors.GetCode(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		apperrors.Entry(h.logger, err).Error("Request failed")
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: string(code)})
}

func statusFor(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrCodeValidationFailed:
		return http.StatusBadRequest
	case apperrors.ErrCodeNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeInvalidState:
		return http.StatusConflict
	case apperrors.ErrCodeNotification, apperrors.ErrCodeLauncher:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// withWarnings adds a "warnings" list to body when warning is non-nil.
func withWarnings(body map[string]any, warning error) map[string]any {
	if warning == nil {
		return body
	}
	var msgs []string
	if joined, ok := warning.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			msgs = append(msgs, e.Error())
		}
	} else {
		msgs = append(msgs, warning.Error())
	}
	body["warnings"] = msgs
	return body
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
