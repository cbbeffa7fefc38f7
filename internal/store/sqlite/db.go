package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Open opens a SQLite database with the given DSN.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return db, nil
}

// Migrate creates the schema. Idempotent CREATE TABLE / CREATE INDEX
// statements only.
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			address VARCHAR(42) PRIMARY KEY,
			nickname VARCHAR(50) NOT NULL DEFAULT '',
			avatar TEXT NOT NULL DEFAULT '',
			bio VARCHAR(200) NOT NULL DEFAULT '',
			public_key TEXT NOT NULL DEFAULT '',
			is_active BOOLEAN NOT NULL DEFAULT 1,
			is_banned BOOLEAN NOT NULL DEFAULT 0,
			last_seen DATETIME DEFAULT CURRENT_TIMESTAMP,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			messages_sent INTEGER NOT NULL DEFAULT 0,
			groups_joined INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS friends (
			address VARCHAR(42) NOT NULL,
			friend VARCHAR(42) NOT NULL,
			PRIMARY KEY (address, friend),
			FOREIGN KEY (address) REFERENCES users(address)
		);`,
		`CREATE TABLE IF NOT EXISTS blocked_users (
			address VARCHAR(42) NOT NULL,
			blocked VARCHAR(42) NOT NULL,
			PRIMARY KEY (address, blocked),
			FOREIGN KEY (address) REFERENCES users(address)
		);`,
		`CREATE TABLE IF NOT EXISTS friend_requests (
			from_address VARCHAR(42) NOT NULL,
			to_address VARCHAR(42) NOT NULL,
			message VARCHAR(200) NOT NULL DEFAULT '',
			status VARCHAR(10) NOT NULL DEFAULT 'pending',
			requested_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (from_address, to_address)
		);`,
		`CREATE TABLE IF NOT EXISTS groups (
			id VARCHAR(36) PRIMARY KEY,
			name VARCHAR(100) NOT NULL,
			description VARCHAR(500) NOT NULL DEFAULT '',
			avatar TEXT NOT NULL DEFAULT '',
			owner VARCHAR(42) NOT NULL,
			mute_all BOOLEAN NOT NULL DEFAULT 0,
			require_approval BOOLEAN NOT NULL DEFAULT 0,
			max_members INTEGER NOT NULL DEFAULT 500,
			announcement VARCHAR(1000),
			announcement_by VARCHAR(42),
			announcement_at DATETIME,
			invite_code VARCHAR(16) UNIQUE,
			invite_expires DATETIME,
			message_count INTEGER NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS group_members (
			group_id VARCHAR(36) NOT NULL,
			address VARCHAR(42) NOT NULL,
			role VARCHAR(10) NOT NULL DEFAULT 'member',
			joined_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			muted_until DATETIME,
			nickname VARCHAR(50) NOT NULL DEFAULT '',
			PRIMARY KEY (group_id, address),
			FOREIGN KEY (group_id) REFERENCES groups(id)
		);`,
		`CREATE TABLE IF NOT EXISTS group_requests (
			group_id VARCHAR(36) NOT NULL,
			address VARCHAR(42) NOT NULL,
			message VARCHAR(200) NOT NULL DEFAULT '',
			requested_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (group_id, address),
			FOREIGN KEY (group_id) REFERENCES groups(id)
		);`,
		// A message is either direct or group-scoped, never both, never neither.
		`CREATE TABLE IF NOT EXISTS messages (
			id VARCHAR(36) PRIMARY KEY,
			sender VARCHAR(42) NOT NULL,
			recipient VARCHAR(42),
			group_id VARCHAR(36),
			type VARCHAR(10) NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			file_url TEXT,
			file_name TEXT,
			file_size INTEGER,
			file_mime_type TEXT,
			duration INTEGER,
			encrypted BOOLEAN NOT NULL DEFAULT 0,
			status VARCHAR(10) NOT NULL DEFAULT 'sent',
			is_read BOOLEAN NOT NULL DEFAULT 0,
			read_at DATETIME,
			reply_to VARCHAR(36),
			pinned BOOLEAN NOT NULL DEFAULT 0,
			edited BOOLEAN NOT NULL DEFAULT 0,
			edited_at DATETIME,
			deleted BOOLEAN NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			CHECK ((recipient IS NULL) <> (group_id IS NULL))
		);`,
		`CREATE TABLE IF NOT EXISTS message_reads (
			message_id VARCHAR(36) NOT NULL,
			reader VARCHAR(42) NOT NULL,
			read_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (message_id, reader),
			FOREIGN KEY (message_id) REFERENCES messages(id)
		);`,
		`CREATE TABLE IF NOT EXISTS message_deletions (
			message_id VARCHAR(36) NOT NULL,
			address VARCHAR(42) NOT NULL,
			PRIMARY KEY (message_id, address),
			FOREIGN KEY (message_id) REFERENCES messages(id)
		);`,
		`CREATE TABLE IF NOT EXISTS message_edits (
			id INTEGER PRIMARY KEY,
			message_id VARCHAR(36) NOT NULL,
			content TEXT NOT NULL,
			edited_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (message_id) REFERENCES messages(id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_users_is_active ON users(is_active);`,
		`CREATE INDEX IF NOT EXISTS idx_friends_friend ON friends(friend);`,
		`CREATE INDEX IF NOT EXISTS idx_friend_requests_to ON friend_requests(to_address, status);`,
		`CREATE INDEX IF NOT EXISTS idx_groups_owner ON groups(owner);`,
		`CREATE INDEX IF NOT EXISTS idx_group_members_address ON group_members(address);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_direct ON messages(sender, recipient, created_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_recipient ON messages(recipient, is_read);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_group ON messages(group_id, created_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_message_edits_message ON message_edits(message_id, id);`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	return nil
}
