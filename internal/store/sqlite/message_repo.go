package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"walletchat/internal/domain"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

// createdAtLayout is a fixed-width UTC text form. Fixed width keeps the
// column's lexicographic order equal to chronological order, which the
// thread queries rely on for sub-second stamps.
const createdAtLayout = "2006-01-02 15:04:05.000000000"

const messageColumns = `id, sender, recipient, group_id, type, content,
	file_url, file_name, file_size, file_mime_type, duration, encrypted,
	status, is_read, read_at, reply_to, pinned, edited, edited_at, deleted, created_at`

func (r *MessageRepo) Create(ctx context.Context, m *domain.Message) error {
	var recipient, groupID *string
	if peer, ok := m.Scope.Peer(); ok {
		recipient = &peer
	}
	if gid, ok := m.Scope.Group(); ok {
		groupID = &gid
	}

	var fileURL, fileName, fileMime *string
	var fileSize *int64
	var duration *int
	if m.File != nil {
		fileURL = &m.File.URL
		if m.File.Name != "" {
			fileName = &m.File.Name
		}
		if m.File.Size > 0 {
			fileSize = &m.File.Size
		}
		if m.File.MimeType != "" {
			fileMime = &m.File.MimeType
		}
		if m.File.Duration > 0 {
			duration = &m.File.Duration
		}
	}

	query := `
		INSERT INTO messages (id, sender, recipient, group_id, type, content,
			file_url, file_name, file_size, file_mime_type, duration, encrypted,
			status, reply_to, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		m.ID,
		m.From,
		recipient,
		groupID,
		m.Type,
		m.Content,
		fileURL,
		fileName,
		fileSize,
		fileMime,
		duration,
		m.Encrypted,
		m.Status,
		m.ReplyTo,
		m.CreatedAt.UTC().Format(createdAtLayout),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r *MessageRepo) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = ?`
	return scanMessage(r.db.QueryRowContext(ctx, query, id))
}

func (r *MessageRepo) Thread(ctx context.Context, viewer, peer string, limit, offset int) ([]*domain.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages m
		WHERE ((sender = ? AND recipient = ?) OR (sender = ? AND recipient = ?))
			AND deleted = 0
			AND NOT EXISTS (SELECT 1 FROM message_deletions d WHERE d.message_id = m.id AND d.address = ?)
		ORDER BY created_at DESC, m.rowid DESC
		LIMIT ? OFFSET ?
	`
	return r.list(ctx, query, viewer, peer, peer, viewer, viewer, limit, offset)
}

func (r *MessageRepo) GroupThread(ctx context.Context, groupID, viewer string, limit, offset int) ([]*domain.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages m
		WHERE group_id = ?
			AND deleted = 0
			AND NOT EXISTS (SELECT 1 FROM message_deletions d WHERE d.message_id = m.id AND d.address = ?)
		ORDER BY created_at DESC, m.rowid DESC
		LIMIT ? OFFSET ?
	`
	return r.list(ctx, query, groupID, viewer, limit, offset)
}

// MarkRead advances a direct message to read. The WHERE clause makes
// re-marking (and marking a terminal message) a no-op rather than an error.
func (r *MessageRepo) MarkRead(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE messages
		SET is_read = 1, read_at = ?, status = 'read'
		WHERE id = ? AND is_read = 0 AND status NOT IN ('read', 'failed')
	`
	if _, err := r.db.ExecContext(ctx, query, at.UTC(), id); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

func (r *MessageRepo) AddReadReceipt(ctx context.Context, id, reader string, at time.Time) error {
	query := `INSERT OR IGNORE INTO message_reads (message_id, reader, read_at) VALUES (?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, id, reader, at.UTC()); err != nil {
		return fmt.Errorf("add read receipt: %w", err)
	}
	return nil
}

func (r *MessageRepo) ReadReceipts(ctx context.Context, id string) ([]domain.ReadReceipt, error) {
	query := `SELECT reader, read_at FROM message_reads WHERE message_id = ? ORDER BY read_at ASC`
	rows, err := r.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("list read receipts: %w", err)
	}
	defer rows.Close()

	var receipts []domain.ReadReceipt
	for rows.Next() {
		var rr domain.ReadReceipt
		if err := rows.Scan(&rr.Reader, &rr.ReadAt); err != nil {
			return nil, fmt.Errorf("scan read receipt: %w", err)
		}
		receipts = append(receipts, rr)
	}
	return receipts, rows.Err()
}

// AddDeleteMarker tombstones the message for actor. The marker insert and the
// mutual-delete test-and-flip run in one transaction so two concurrent
// deletes cannot double-count or miss the transition.
func (r *MessageRepo) AddDeleteMarker(ctx context.Context, id, actor string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin delete tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO message_deletions (message_id, address) VALUES (?, ?)`, id, actor); err != nil {
		return false, fmt.Errorf("insert delete marker: %w", err)
	}

	var sender string
	var recipient *string
	err = tx.QueryRowContext(ctx, `SELECT sender, recipient FROM messages WHERE id = ?`, id).Scan(&sender, &recipient)
	if err != nil {
		return false, fmt.Errorf("load message scope: %w", err)
	}

	// Group messages carry per-viewer markers only; no physical tombstone.
	if recipient == nil {
		return false, tx.Commit()
	}

	var marked int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM message_deletions
		WHERE message_id = ? AND address IN (?, ?)
	`, id, sender, *recipient).Scan(&marked)
	if err != nil {
		return false, fmt.Errorf("count delete markers: %w", err)
	}

	fully := marked >= 2
	if fully {
		if _, err := tx.ExecContext(ctx, `UPDATE messages SET deleted = 1 WHERE id = ?`, id); err != nil {
			return false, fmt.Errorf("flip deleted flag: %w", err)
		}
	}
	return fully, tx.Commit()
}

func (r *MessageRepo) AppendEdit(ctx context.Context, id, previous, next string, at time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin edit tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO message_edits (message_id, content, edited_at) VALUES (?, ?, ?)`, id, previous, at.UTC()); err != nil {
		return fmt.Errorf("insert edit record: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE messages SET content = ?, edited = 1, edited_at = ? WHERE id = ?`, next, at.UTC(), id); err != nil {
		return fmt.Errorf("replace content: %w", err)
	}
	return tx.Commit()
}

func (r *MessageRepo) EditHistory(ctx context.Context, id string) ([]domain.EditRecord, error) {
	query := `SELECT content, edited_at FROM message_edits WHERE message_id = ? ORDER BY id ASC`
	rows, err := r.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("list edit history: %w", err)
	}
	defer rows.Close()

	var records []domain.EditRecord
	for rows.Next() {
		var rec domain.EditRecord
		if err := rows.Scan(&rec.Content, &rec.EditedAt); err != nil {
			return nil, fmt.Errorf("scan edit record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *MessageRepo) SetPinned(ctx context.Context, id string, pinned bool) error {
	query := `UPDATE messages SET pinned = ? WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, pinned, id); err != nil {
		return fmt.Errorf("set pinned: %w", err)
	}
	return nil
}

func (r *MessageRepo) UnreadCount(ctx context.Context, address string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM messages m
		WHERE recipient = ? AND is_read = 0 AND deleted = 0
			AND NOT EXISTS (SELECT 1 FROM message_deletions d WHERE d.message_id = m.id AND d.address = ?)
	`
	var count int
	if err := r.db.QueryRowContext(ctx, query, address, address).Scan(&count); err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}

func (r *MessageRepo) list(ctx context.Context, query string, args ...any) ([]*domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []*domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func scanMessage(row rowScanner) (*domain.Message, error) {
	m := &domain.Message{}
	var recipient, groupID *string
	var fileURL, fileName, fileMime *string
	var fileSize *int64
	var duration *int
	err := row.Scan(
		&m.ID,
		&m.From,
		&recipient,
		&groupID,
		&m.Type,
		&m.Content,
		&fileURL,
		&fileName,
		&fileSize,
		&fileMime,
		&duration,
		&m.Encrypted,
		&m.Status,
		&m.Read,
		&m.ReadAt,
		&m.ReplyTo,
		&m.Pinned,
		&m.Edited,
		&m.EditedAt,
		&m.Deleted,
		&m.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}

	switch {
	case recipient != nil:
		m.Scope = domain.PeerScope(*recipient)
	case groupID != nil:
		m.Scope = domain.GroupScope(*groupID)
	}

	if fileURL != nil {
		m.File = &domain.FileInfo{URL: *fileURL}
		if fileName != nil {
			m.File.Name = *fileName
		}
		if fileSize != nil {
			m.File.Size = *fileSize
		}
		if fileMime != nil {
			m.File.MimeType = *fileMime
		}
		if duration != nil {
			m.File.Duration = *duration
		}
	}
	return m, nil
}
