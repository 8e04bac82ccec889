package model

import (
	"strings"
	"time"
	"unicode/utf8"
)

type Status string

const (
	Pending   Status = "pending"
	Sent      Status = "sent"
	Cancelled Status = "cancelled"
	// Failed is only produced when no backend is configured.
	Failed Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case Pending, Sent, Cancelled, Failed:
		return true
	}
	return false
}

// Terminal reports whether no status transition can leave s.
func (s Status) Terminal() bool {
	return s == Sent || s == Cancelled || s == Failed
}

// CanTransition reports whether moving from s to next is a legal forward step.
func (s Status) CanTransition(next Status) bool {
	return s == Pending && next != Pending && next.Valid()
}

type Attachment struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	SizeBytes int64  `json:"sizeBytes"`
	Handle    string `json:"handle,omitempty"`
}

type ScheduledMessage struct {
	ID          string       `json:"id"`
	Owner       string       `json:"owner"`
	Recipient   string       `json:"recipient"`
	Body        string       `json:"body"`
	DueAt       time.Time    `json:"dueAt"`
	Status      Status       `json:"status"`
	Attachments []Attachment `json:"attachments,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// IsDue reports whether m is pending and its due time is not after now.
func (m ScheduledMessage) IsDue(now time.Time) bool {
	return m.Status == Pending && !m.DueAt.After(now)
}

// Preview shortens body to at most max runes for list display.
func Preview(body string, max int) string {
	if max <= 0 || utf8.RuneCountInString(body) <= max {
		return body
	}
	r := []rune(body)
	return strings.TrimSpace(string(r[:max])) + "…"
}

type Contact struct {
	Owner       string    `json:"-"`
	Name        string    `json:"name"`
	PhoneNumber string    `json:"phoneNumber"`
	CreatedAt   time.Time `json:"createdAt"`
}
