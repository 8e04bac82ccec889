package api

import (
	"time"

	"github.com/LeventeLantos/scheduled-messaging/internal/model"
)

type scheduleRequest struct {
	Recipients  model.Recipients   `json:"recipients" validate:"required,min=1"`
	Body        string             `json:"body" validate:"required"`
	DueAt       *time.Time         `json:"dueAt" validate:"required"`
	Attachments []model.Attachment `json:"attachments"`
}

type editRequest struct {
	Recipient *string    `json:"recipient,omitempty"`
	Body      *string    `json:"body,omitempty"`
	DueAt     *time.Time `json:"dueAt" validate:"required"`
}

type contactRequest struct {
	Name        string `json:"name" validate:"required"`
	PhoneNumber string `json:"phoneNumber" validate:"required"`
}

type messageView struct {
	model.ScheduledMessage
	Preview string     `json:"preview"`
	SentAt  *time.Time `json:"sentAt,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
