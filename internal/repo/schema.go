package repo

const postgresSchema = `
CREATE TABLE IF NOT EXISTS scheduled_messages (
    id          TEXT PRIMARY KEY,
    owner_id    TEXT NOT NULL,
    recipient   TEXT NOT NULL,
    body        TEXT NOT NULL,
    due_at      TIMESTAMPTZ NOT NULL,
    status      TEXT NOT NULL DEFAULT 'pending',
    attachments TEXT NOT NULL DEFAULT '[]',
    created_at  TIMESTAMPTZ NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scheduled_messages_owner_due ON scheduled_messages(owner_id, due_at);
CREATE INDEX IF NOT EXISTS idx_scheduled_messages_owner_status ON scheduled_messages(owner_id, status);

CREATE TABLE IF NOT EXISTS contacts (
    owner_id     TEXT NOT NULL,
    name         TEXT NOT NULL,
    phone_number TEXT NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (owner_id, phone_number)
);
`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS scheduled_messages (
    id          TEXT PRIMARY KEY,
    owner_id    TEXT NOT NULL,
    recipient   TEXT NOT NULL,
    body        TEXT NOT NULL,
    due_at      DATETIME NOT NULL,
    status      TEXT NOT NULL DEFAULT 'pending',
    attachments TEXT NOT NULL DEFAULT '[]',
    created_at  DATETIME NOT NULL,
    updated_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scheduled_messages_owner_due ON scheduled_messages(owner_id, due_at);
CREATE INDEX IF NOT EXISTS idx_scheduled_messages_owner_status ON scheduled_messages(owner_id, status);

CREATE TABLE IF NOT EXISTS contacts (
    owner_id     TEXT NOT NULL,
    name         TEXT NOT NULL,
    phone_number TEXT NOT NULL,
    created_at   DATETIME NOT NULL,
    PRIMARY KEY (owner_id, phone_number)
);
`
