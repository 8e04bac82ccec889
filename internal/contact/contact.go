// Package contact looks up and records an owner's contacts.
package contact

import (
	"context"
	"strings"
	"time"
	"unicode"

	apperrors "github.com/LeventeLantos/scheduled-messaging/internal/errors"
	"github.com/LeventeLantos/scheduled-messaging/internal/model"
	"github.com/LeventeLantos/scheduled-messaging/internal/repo"
)

const (
	MinPhoneDigits = 7
	MaxPhoneDigits = 20
)

// Picker returns the best matching contact for query, or nil when nothing matches.
type Picker interface {
	Pick(ctx context.Context, owner, query string) (*model.Contact, error)
}

type Directory struct {
	repo repo.ContactRepository
	now  func() time.Time
}

func NewDirectory(r repo.ContactRepository) *Directory {
	return &Directory{repo: r, now: time.Now}
}

func (d *Directory) Pick(ctx context.Context, owner, query string) (*model.Contact, error) {
	matches, err := d.Search(ctx, owner, query, 1)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return &matches[0], nil
}

func (d *Directory) Search(ctx context.Context, owner, query string, limit int) ([]model.Contact, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperrors.NewValidationError("query", "cannot be empty")
	}

	found, err := d.repo.FindContacts(ctx, owner, query, limit)
	if err != nil {
		return nil, apperrors.NewPersistenceError("find contacts", err)
	}
	return found, nil
}

// Add stores a contact after normalising its phone number. An existing
// contact with the same number is renamed.
func (d *Directory) Add(ctx context.Context, owner, name, phone string) (model.Contact, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Contact{}, apperrors.NewValidationError("name", "cannot be empty")
	}

	normalized := NormalizePhone(phone)
	if err := ValidatePhone(normalized); err != nil {
		return model.Contact{}, err
	}

	c := model.Contact{
		Owner:       owner,
		Name:        name,
		PhoneNumber: normalized,
		CreatedAt:   d.now().UTC(),
	}
	if err := d.repo.SaveContact(ctx, c); err != nil {
		return model.Contact{}, apperrors.NewPersistenceError("save contact", err)
	}
	return c, nil
}

// NormalizePhone drops whitespace and common separators.
func NormalizePhone(phone string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case unicode.IsSpace(r), r == '-', r == '(', r == ')', r == '.':
			return -1
		}
		return r
	}, strings.TrimSpace(phone))
}

// ValidatePhone accepts an optional leading '+' followed by 7 to 20 digits.
func ValidatePhone(phone string) error {
	if phone == "" {
		return apperrors.NewValidationError("phoneNumber", "cannot be empty")
	}

	digits := strings.TrimPrefix(phone, "+")
	if len(digits) < MinPhoneDigits {
		return apperrors.NewValidationError("phoneNumber", "must have at least 7 digits")
	}
	if len(digits) > MaxPhoneDigits {
		return apperrors.NewValidationError("phoneNumber", "too long (max 20 digits)")
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return apperrors.NewValidationError("phoneNumber", "must contain only digits")
		}
	}
	return nil
}
