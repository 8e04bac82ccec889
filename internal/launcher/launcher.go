// Package launcher opens the third-party messaging app pre-filled with a
// recipient and text. It never sends anything itself.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/LeventeLantos/scheduled-messaging/internal/client"
	"github.com/LeventeLantos/scheduled-messaging/internal/model"
)

const (
	DefaultScheme  = "whatsapp://send"
	DefaultService = "wa.me"
)

var ErrNoDigits = errors.New("recipient has no digits")

type Launcher interface {
	Open(ctx context.Context, recipient, body string) error
}

// Opener hands a built launch URL to whatever can open it on the user's device.
type Opener interface {
	OpenURL(ctx context.Context, recipient, rawURL string) error
}

// URLLauncher builds a launch URL and passes it to an Opener.
type URLLauncher struct {
	build  func(digits, body string) string
	opener Opener
}

// NewNative builds URLs of the form <scheme>?phone=<digits>&text=<body>.
func NewNative(scheme string, opener Opener) *URLLauncher {
	if scheme == "" {
		scheme = DefaultScheme
	}
	return &URLLauncher{
		build: func(digits, body string) string {
			q := url.Values{}
			q.Set("phone", digits)
			q.Set("text", body)
			return scheme + "?" + q.Encode()
		},
		opener: opener,
	}
}

// NewWeb builds URLs of the form https://<service>/<digits>?text=<body>.
func NewWeb(service string, opener Opener) *URLLauncher {
	if service == "" {
		service = DefaultService
	}
	return &URLLauncher{
		build: func(digits, body string) string {
			u := url.URL{
				Scheme:   "https",
				Host:     service,
				Path:     "/" + digits,
				RawQuery: "text=" + url.QueryEscape(body),
			}
			return u.String()
		},
		opener: opener,
	}
}

func (l *URLLauncher) Open(ctx context.Context, recipient, body string) error {
	rawURL, err := l.URL(recipient, body)
	if err != nil {
		return err
	}
	return l.opener.OpenURL(ctx, recipient, rawURL)
}

// URL returns the launch URL without opening it.
func (l *URLLauncher) URL(recipient, body string) (string, error) {
	digits := Digits(recipient)
	if digits == "" {
		return "", fmt.Errorf("%w: %q", ErrNoDigits, recipient)
	}
	return l.build(digits, body), nil
}

// Digits strips everything but 0-9 from a phone number.
func Digits(phone string) string {
	var b strings.Builder
	b.Grow(len(phone))
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

type deliverer interface {
	Deliver(ctx context.Context, env client.Envelope) (string, error)
}

// WebhookOpener asks the device gateway to open the URL on the user's phone.
type WebhookOpener struct {
	gateway deliverer
	logger  logrus.FieldLogger
}

func NewWebhookOpener(gateway deliverer, logger logrus.FieldLogger) *WebhookOpener {
	return &WebhookOpener{gateway: gateway, logger: logger}
}

func (o *WebhookOpener) OpenURL(ctx context.Context, recipient, rawURL string) error {
	id, err := o.gateway.Deliver(ctx, client.Envelope{
		Kind:        client.KindLaunch,
		PhoneNumber: recipient,
		URL:         rawURL,
	})
	if err != nil {
		return fmt.Errorf("open launch url: %w", err)
	}
	o.logger.WithFields(logrus.Fields{
		"recipient":  model.MaskPhone(recipient),
		"gateway_id": id,
	}).Debug("Launch intent accepted by gateway")
	return nil
}

// LogOpener logs the URL for the web client to follow.
type LogOpener struct {
	logger logrus.FieldLogger
}

func NewLogOpener(logger logrus.FieldLogger) *LogOpener {
	return &LogOpener{logger: logger}
}

func (o *LogOpener) OpenURL(_ context.Context, recipient, rawURL string) error {
	o.logger.WithFields(logrus.Fields{
		"recipient": model.MaskPhone(recipient),
		"url":       rawURL,
	}).Info("Opening messaging app")
	return nil
}
