package contact

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/LeventeLantos/scheduled-messaging/internal/errors"
	"github.com/LeventeLantos/scheduled-messaging/internal/model"
	"github.com/LeventeLantos/scheduled-messaging/internal/repo"
)

func newDirectory(t *testing.T) *Directory {
	t.Helper()
	d := NewDirectory(repo.NewMemoryMessageRepo())
	d.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return d
}

func TestDirectory_AddAndPick(t *testing.T) {
	d := newDirectory(t)
	ctx := context.Background()

	c, err := d.Add(ctx, "alice", "  Mum ", "+1 (555) 000-1234")
	require.NoError(t, err)
	assert.Equal(t, "Mum", c.Name)
	assert.Equal(t, "+15550001234", c.PhoneNumber)
	assert.Equal(t, "alice", c.Owner)

	got, err := d.Pick(ctx, "alice", "mum")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "+15550001234", got.PhoneNumber)
}

func TestDirectory_PickNoMatchReturnsNil(t *testing.T) {
	d := newDirectory(t)
	ctx := context.Background()

	_, err := d.Add(ctx, "alice", "Mum", "+15550001234")
	require.NoError(t, err)

	got, err := d.Pick(ctx, "alice", "dentist")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = d.Pick(ctx, "bob", "mum")
	require.NoError(t, err)
	assert.Nil(t, got, "contacts are scoped to their owner")
}

func TestDirectory_PickEmptyQuery(t *testing.T) {
	_, err := newDirectory(t).Pick(context.Background(), "alice", "   ")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidationFailed))
}

func TestDirectory_AddValidation(t *testing.T) {
	d := newDirectory(t)
	ctx := context.Background()

	_, err := d.Add(ctx, "alice", "", "+15550001234")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidationFailed))

	_, err = d.Add(ctx, "alice", "Mum", "12345")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidationFailed))
}

type failingContacts struct{}

func (failingContacts) SaveContact(context.Context, model.Contact) error {
	return errors.New("disk full")
}

func (failingContacts) FindContacts(context.Context, string, string, int) ([]model.Contact, error) {
	return nil, errors.New("connection reset")
}

func TestDirectory_PersistenceErrors(t *testing.T) {
	d := NewDirectory(failingContacts{})
	ctx := context.Background()

	_, err := d.Add(ctx, "alice", "Mum", "+15550001234")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodePersistence))

	_, err = d.Pick(ctx, "alice", "mum")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodePersistence))
}

func TestValidatePhone(t *testing.T) {
	tests := []struct {
		phone string
		ok    bool
	}{
		{"+15550001234", true},
		{"15550001234", true},
		{"1234567", true},
		{"123456", false},
		{"+123456789012345678901", false},
		{"+1555abc1234", false},
		{"", false},
		{"++15550001234", false},
	}
	for _, tt := range tests {
		err := ValidatePhone(tt.phone)
		if tt.ok {
			assert.NoError(t, err, tt.phone)
		} else {
			assert.Error(t, err, tt.phone)
		}
	}
}

func TestNormalizePhone(t *testing.T) {
	assert.Equal(t, "+15550001234", NormalizePhone(" +1 (555) 000-1234 "))
	assert.Equal(t, "4420794609", NormalizePhone("44.207.946.09"))
}
