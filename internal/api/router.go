package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

func Router(h *Handler) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/v1/health", h.Health).Methods(http.MethodGet)

	r.HandleFunc("/v1/session", h.SignIn).Methods(http.MethodPost)
	r.HandleFunc("/v1/session", h.SignOut).Methods(http.MethodDelete)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(h.requireSession)

	v1.HandleFunc("/messages", h.ListMessages).Methods(http.MethodGet)
	v1.HandleFunc("/messages", h.ScheduleMessages).Methods(http.MethodPost)
	v1.HandleFunc("/messages/sent", h.ListSentMessages).Methods(http.MethodGet)
	v1.HandleFunc("/messages/{id}", h.GetMessage).Methods(http.MethodGet)
	v1.HandleFunc("/messages/{id}", h.EditMessage).Methods(http.MethodPatch)
	v1.HandleFunc("/messages/{id}", h.DeleteMessage).Methods(http.MethodDelete)
	v1.HandleFunc("/messages/{id}/send", h.SendNow).Methods(http.MethodPost)
	v1.HandleFunc("/messages/{id}/cancel", h.CancelMessage).Methods(http.MethodPost)

	v1.HandleFunc("/contacts/pick", h.PickContact).Methods(http.MethodGet)
	v1.HandleFunc("/contacts", h.AddContact).Methods(http.MethodPost)

	v1.HandleFunc("/notifications/permission", h.NotificationPermission).Methods(http.MethodGet)

	v1.HandleFunc("/scheduler/status", h.SchedulerStatus).Methods(http.MethodGet)
	v1.HandleFunc("/scheduler/start", h.SchedulerStart).Methods(http.MethodPost)
	v1.HandleFunc("/scheduler/stop", h.SchedulerStop).Methods(http.MethodPost)

	r.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("scheduled-messaging"))
	}).Methods(http.MethodGet)

	return r
}
