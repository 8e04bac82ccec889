package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/LeventeLantos/scheduled-messaging/internal/model"
)

type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite3"
)

// driverName maps a dialect onto its registered database/sql driver.
func (d Dialect) driverName() string {
	if d == Postgres {
		return "pgx"
	}
	return "sqlite3"
}

// SQLMessageRepo implements MessageRepository and ContactRepository on database/sql.
type SQLMessageRepo struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects to the database and applies the schema.
func Open(ctx context.Context, dialect Dialect, dsn string) (*SQLMessageRepo, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty %s dsn", dialect)
	}

	db, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dialect == SQLite {
		// go-sqlite3 connections do not share an in-process lock.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	r := NewSQLMessageRepo(db, dialect)
	if err := r.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func NewSQLMessageRepo(db *sql.DB, dialect Dialect) *SQLMessageRepo {
	return &SQLMessageRepo{db: db, dialect: dialect}
}

func (r *SQLMessageRepo) Close() error {
	return r.db.Close()
}

func (r *SQLMessageRepo) migrate(ctx context.Context) error {
	schema := sqliteSchema
	if r.dialect == Postgres {
		schema = postgresSchema
	}
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders into $n for Postgres.
func (r *SQLMessageRepo) rebind(query string) string {
	if r.dialect != Postgres {
		return query
	}

	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

func (r *SQLMessageRepo) Insert(ctx context.Context, msgs []model.ScheduledMessage) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	query := r.rebind(`
		INSERT INTO scheduled_messages (
			id, owner_id, recipient, body, due_at, status, attachments, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	for _, m := range msgs {
		attachments, err := encodeAttachments(m.Attachments)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query,
			m.ID,
			m.Owner,
			m.Recipient,
			m.Body,
			m.DueAt.UTC(),
			string(m.Status),
			attachments,
			m.CreatedAt.UTC(),
			m.UpdatedAt.UTC(),
		); err != nil {
			return fmt.Errorf("failed to insert scheduled message %s: %w", m.ID, err)
		}
	}

	return tx.Commit()
}

// Update rewrites the mutable fields of a pending row.
func (r *SQLMessageRepo) Update(ctx context.Context, m model.ScheduledMessage) error {
	attachments, err := encodeAttachments(m.Attachments)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, r.rebind(`
		UPDATE scheduled_messages
		SET recipient = ?, body = ?, due_at = ?, attachments = ?, updated_at = ?
		WHERE id = ? AND owner_id = ? AND status = 'pending'
	`), m.Recipient, m.Body, m.DueAt.UTC(), attachments, m.UpdatedAt.UTC(), m.ID, m.Owner)
	if err != nil {
		return fmt.Errorf("failed to update scheduled message: %w", err)
	}

	return r.checkAffected(ctx, res, m.Owner, m.ID)
}

// UpdateStatus moves a pending row to status.
func (r *SQLMessageRepo) UpdateStatus(ctx context.Context, owner, id string, status model.Status, at time.Time) error {
	res, err := r.db.ExecContext(ctx, r.rebind(`
		UPDATE scheduled_messages
		SET status = ?, updated_at = ?
		WHERE id = ? AND owner_id = ? AND status = 'pending'
	`), string(status), at.UTC(), id, owner)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}

	return r.checkAffected(ctx, res, owner, id)
}

func (r *SQLMessageRepo) checkAffected(ctx context.Context, res sql.Result, owner, id string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}

	var exists int
	err = r.db.QueryRowContext(ctx, r.rebind(`
		SELECT 1 FROM scheduled_messages WHERE id = ? AND owner_id = ?
	`), id, owner).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrStatusConflict
}

func (r *SQLMessageRepo) Delete(ctx context.Context, owner, id string) error {
	res, err := r.db.ExecContext(ctx, r.rebind(`
		DELETE FROM scheduled_messages WHERE id = ? AND owner_id = ?
	`), id, owner)
	if err != nil {
		return fmt.Errorf("failed to delete scheduled message: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLMessageRepo) List(ctx context.Context, owner string, q Query) ([]model.ScheduledMessage, error) {
	var (
		b    strings.Builder
		args = []any{owner}
	)

	b.WriteString(`
		SELECT id, owner_id, recipient, body, due_at, status, attachments, created_at, updated_at
		FROM scheduled_messages
		WHERE owner_id = ?`)

	if q.Status != "" {
		b.WriteString(" AND status = ?")
		args = append(args, string(q.Status))
	}

	switch q.Order {
	case ByUpdatedDesc:
		b.WriteString(" ORDER BY updated_at DESC, id ASC")
	default:
		b.WriteString(" ORDER BY due_at ASC, id ASC")
	}

	if q.Limit > 0 {
		b.WriteString(" LIMIT ? OFFSET ?")
		offset := q.Offset
		if offset < 0 {
			offset = 0
		}
		args = append(args, q.Limit, offset)
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(b.String()), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled messages: %w", err)
	}
	defer rows.Close()

	var out []model.ScheduledMessage
	for rows.Next() {
		var (
			m           model.ScheduledMessage
			status      string
			attachments sql.NullString
		)
		if err := rows.Scan(
			&m.ID,
			&m.Owner,
			&m.Recipient,
			&m.Body,
			&m.DueAt,
			&status,
			&attachments,
			&m.CreatedAt,
			&m.UpdatedAt,
		); err != nil {
			return nil, err
		}

		m.Status = model.Status(status)
		if attachments.Valid {
			if m.Attachments, err = decodeAttachments(attachments.String); err != nil {
				return nil, err
			}
		}
		m.DueAt = m.DueAt.UTC()
		m.CreatedAt = m.CreatedAt.UTC()
		m.UpdatedAt = m.UpdatedAt.UTC()

		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *SQLMessageRepo) SaveContact(ctx context.Context, c model.Contact) error {
	_, err := r.db.ExecContext(ctx, r.rebind(`
		INSERT INTO contacts (owner_id, name, phone_number, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (owner_id, phone_number) DO UPDATE SET name = excluded.name
	`), c.Owner, c.Name, c.PhoneNumber, c.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save contact: %w", err)
	}
	return nil
}

// FindContacts matches query against the contact name (case-insensitive) or phone number.
func (r *SQLMessageRepo) FindContacts(ctx context.Context, owner, query string, limit int) ([]model.Contact, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"

	rows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT owner_id, name, phone_number, created_at
		FROM contacts
		WHERE owner_id = ? AND (LOWER(name) LIKE ? OR phone_number LIKE ?)
		ORDER BY name ASC
		LIMIT ?
	`), owner, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find contacts: %w", err)
	}
	defer rows.Close()

	var out []model.Contact
	for rows.Next() {
		var c model.Contact
		if err := rows.Scan(&c.Owner, &c.Name, &c.PhoneNumber, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func encodeAttachments(a []model.Attachment) (string, error) {
	if len(a) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("failed to encode attachments: %w", err)
	}
	return string(b), nil
}

func decodeAttachments(raw string) ([]model.Attachment, error) {
	if raw == "" || raw == "[]" {
		return nil, nil
	}
	var a []model.Attachment
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return nil, fmt.Errorf("failed to decode attachments: %w", err)
	}
	return a, nil
}
