package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"gopkg.in/mail.v2"

	"github.com/LeventeLantos/scheduled-messaging/internal/client"
	"github.com/LeventeLantos/scheduled-messaging/internal/model"
)

// Alerter presents a reminder to the user on one platform.
type Alerter interface {
	Permission(ctx context.Context) (bool, error)
	Alert(ctx context.Context, p Payload) error
}

// LogAlerter stands in for a browser notification on the web platform.
type LogAlerter struct {
	logger  logrus.FieldLogger
	granted bool
}

func NewLogAlerter(logger logrus.FieldLogger, granted bool) *LogAlerter {
	return &LogAlerter{logger: logger, granted: granted}
}

func (a *LogAlerter) Permission(context.Context) (bool, error) {
	return a.granted, nil
}

func (a *LogAlerter) Alert(_ context.Context, p Payload) error {
	a.logger.WithFields(logrus.Fields{
		"item_id":   p.ItemID,
		"recipient": model.MaskPhone(p.Recipient),
	}).Info("Scheduled message is due")
	return nil
}

type deliverer interface {
	Deliver(ctx context.Context, env client.Envelope) (string, error)
}

// WebhookAlerter pushes the reminder to the device gateway.
type WebhookAlerter struct {
	gateway deliverer
}

func NewWebhookAlerter(gateway deliverer) *WebhookAlerter {
	return &WebhookAlerter{gateway: gateway}
}

func (a *WebhookAlerter) Permission(context.Context) (bool, error) {
	return a.gateway != nil, nil
}

func (a *WebhookAlerter) Alert(ctx context.Context, p Payload) error {
	_, err := a.gateway.Deliver(ctx, client.Envelope{
		Kind:        client.KindReminder,
		ItemID:      p.ItemID,
		PhoneNumber: p.Recipient,
		Message:     p.Body,
	})
	if err != nil {
		return fmt.Errorf("push reminder: %w", err)
	}
	return nil
}

type mailDialer interface {
	DialAndSend(m ...*mail.Message) error
}

// EmailAlerter mails the reminder to a fixed address.
type EmailAlerter struct {
	dialer mailDialer
	from   string
	to     string
}

func NewEmailAlerter(host string, port int, username, password, from, to string) *EmailAlerter {
	return &EmailAlerter{
		dialer: mail.NewDialer(host, port, username, password),
		from:   from,
		to:     to,
	}
}

func (a *EmailAlerter) Permission(context.Context) (bool, error) {
	return a.to != "", nil
}

func (a *EmailAlerter) Alert(_ context.Context, p Payload) error {
	return a.dialer.DialAndSend(a.message(p))
}

func (a *EmailAlerter) message(p Payload) *mail.Message {
	m := mail.NewMessage()
	m.SetHeader("From", a.from)
	m.SetHeader("To", a.to)
	m.SetHeader("Subject", "Scheduled message for "+p.Recipient+" is due")
	m.SetBody("text/plain", fmt.Sprintf("To: %s\n\n%s\n\nOpen the app to send it.", p.Recipient, p.Body))
	return m
}

// FanoutAlerter presents through every alerter that has permission.
type FanoutAlerter []Alerter

func (f FanoutAlerter) Permission(ctx context.Context) (bool, error) {
	var errs []error
	for _, a := range f {
		ok, err := a.Permission(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, errors.Join(errs...)
}

func (f FanoutAlerter) Alert(ctx context.Context, p Payload) error {
	var errs []error
	for _, a := range f {
		if ok, err := a.Permission(ctx); err != nil || !ok {
			continue
		}
		if err := a.Alert(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
