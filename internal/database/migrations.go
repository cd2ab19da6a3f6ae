package database

const schema = `
CREATE TABLE IF NOT EXISTS emails (
    id TEXT PRIMARY KEY,
    thread_id TEXT NOT NULL DEFAULT '',
    sender TEXT NOT NULL,
    sender_name TEXT NOT NULL DEFAULT '',
    recipient TEXT NOT NULL DEFAULT '',
    subject TEXT NOT NULL DEFAULT '',
    body TEXT NOT NULL DEFAULT '',
    body_html TEXT NOT NULL DEFAULT '',
    attachments TEXT NOT NULL DEFAULT '[]',
    received_at DATETIME NOT NULL,
    category TEXT,
    status TEXT NOT NULL DEFAULT 'pending',
    ai_response TEXT,
    processed_at DATETIME,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS drafts (
    id TEXT PRIMARY KEY,
    email_id TEXT NOT NULL REFERENCES emails(id) ON DELETE CASCADE,
    provider_draft_id TEXT NOT NULL,
    response TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS retry_queue (
    id TEXT PRIMARY KEY,
    email_id TEXT NOT NULL,
    action TEXT NOT NULL,
    payload TEXT NOT NULL DEFAULT '{}',
    last_error TEXT NOT NULL DEFAULT '',
    attempt_count INTEGER NOT NULL DEFAULT 0,
    max_attempts INTEGER NOT NULL DEFAULT 5,
    next_retry_at DATETIME NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    last_attempt_at DATETIME,
    status TEXT NOT NULL DEFAULT 'pending'
);

CREATE TABLE IF NOT EXISTS settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

-- Search index kept in sync with every email write inside the same transaction.
CREATE TABLE IF NOT EXISTS email_search (
    email_id TEXT PRIMARY KEY REFERENCES emails(id) ON DELETE CASCADE,
    content TEXT NOT NULL
);

CREATE TRIGGER IF NOT EXISTS email_search_insert AFTER INSERT ON emails BEGIN
    INSERT OR REPLACE INTO email_search (email_id, content)
    VALUES (new.id, lower(new.sender || ' ' || new.sender_name || ' ' || new.subject || ' ' || new.body));
END;

CREATE TRIGGER IF NOT EXISTS email_search_update AFTER UPDATE OF sender, sender_name, subject, body ON emails BEGIN
    INSERT OR REPLACE INTO email_search (email_id, content)
    VALUES (new.id, lower(new.sender || ' ' || new.sender_name || ' ' || new.subject || ' ' || new.body));
END;

CREATE TRIGGER IF NOT EXISTS email_search_delete AFTER DELETE ON emails BEGIN
    DELETE FROM email_search WHERE email_id = old.id;
END;

-- At most one live draft per email.
CREATE UNIQUE INDEX IF NOT EXISTS idx_drafts_live_email ON drafts(email_id) WHERE status = 'pending';

CREATE INDEX IF NOT EXISTS idx_emails_status ON emails(status);
CREATE INDEX IF NOT EXISTS idx_emails_received ON emails(received_at);
CREATE INDEX IF NOT EXISTS idx_drafts_email ON drafts(email_id);
CREATE INDEX IF NOT EXISTS idx_retry_due ON retry_queue(status, next_retry_at);

INSERT OR IGNORE INTO settings (key, value)
VALUES ('polling_interval', '3'),
       ('auto_reply_enabled', 'true');
`
