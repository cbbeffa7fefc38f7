package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"walletchat/internal/domain"
)

type IdentityRepo struct {
	db *sql.DB
}

func NewIdentityRepo(db *sql.DB) *IdentityRepo {
	return &IdentityRepo{db: db}
}

var _ domain.IdentityRepository = (*IdentityRepo)(nil)

const identityColumns = `address, nickname, avatar, bio, public_key, is_active, is_banned, last_seen, created_at, updated_at, messages_sent, groups_joined`

func (r *IdentityRepo) Create(ctx context.Context, id *domain.Identity) error {
	query := `
		INSERT INTO users (address, nickname, avatar, bio, public_key, is_active, is_banned, last_seen, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`
	_, err := r.db.ExecContext(ctx, query,
		id.Address,
		id.Nickname,
		id.Avatar,
		id.Bio,
		id.PublicKey,
		id.IsActive,
		id.IsBanned,
	)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *IdentityRepo) GetByAddress(ctx context.Context, address string) (*domain.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM users WHERE address = ?`
	id := &domain.Identity{}
	err := r.db.QueryRowContext(ctx, query, address).Scan(
		&id.Address,
		&id.Nickname,
		&id.Avatar,
		&id.Bio,
		&id.PublicKey,
		&id.IsActive,
		&id.IsBanned,
		&id.LastSeen,
		&id.CreatedAt,
		&id.UpdatedAt,
		&id.MessagesSent,
		&id.GroupsJoined,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return id, nil
}

func (r *IdentityRepo) Update(ctx context.Context, id *domain.Identity) error {
	query := `
		UPDATE users
		SET nickname = ?, avatar = ?, bio = ?, public_key = ?, is_active = ?, is_banned = ?, updated_at = CURRENT_TIMESTAMP
		WHERE address = ?
	`
	_, err := r.db.ExecContext(ctx, query,
		id.Nickname,
		id.Avatar,
		id.Bio,
		id.PublicKey,
		id.IsActive,
		id.IsBanned,
		id.Address,
	)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

func (r *IdentityRepo) TouchLastSeen(ctx context.Context, address string, at time.Time) error {
	query := `UPDATE users SET last_seen = ? WHERE address = ?`
	if _, err := r.db.ExecContext(ctx, query, at.UTC(), address); err != nil {
		return fmt.Errorf("touch last seen: %w", err)
	}
	return nil
}

func (r *IdentityRepo) IncrementMessagesSent(ctx context.Context, address string) error {
	query := `UPDATE users SET messages_sent = messages_sent + 1 WHERE address = ?`
	if _, err := r.db.ExecContext(ctx, query, address); err != nil {
		return fmt.Errorf("increment messages sent: %w", err)
	}
	return nil
}

func (r *IdentityRepo) IncrementGroupsJoined(ctx context.Context, address string, delta int64) error {
	query := `UPDATE users SET groups_joined = MAX(0, groups_joined + ?) WHERE address = ?`
	if _, err := r.db.ExecContext(ctx, query, delta, address); err != nil {
		return fmt.Errorf("increment groups joined: %w", err)
	}
	return nil
}

func (r *IdentityRepo) Friends(ctx context.Context, address string) ([]string, error) {
	return r.listAddresses(ctx, `SELECT friend FROM friends WHERE address = ? ORDER BY friend`, address)
}

func (r *IdentityRepo) IsFriend(ctx context.Context, address, friend string) (bool, error) {
	return r.exists(ctx, `SELECT 1 FROM friends WHERE address = ? AND friend = ?`, address, friend)
}

func (r *IdentityRepo) AddFriend(ctx context.Context, address, friend string) error {
	query := `INSERT OR IGNORE INTO friends (address, friend) VALUES (?, ?)`
	if _, err := r.db.ExecContext(ctx, query, address, friend); err != nil {
		return fmt.Errorf("add friend: %w", err)
	}
	return nil
}

func (r *IdentityRepo) RemoveFriend(ctx context.Context, address, friend string) error {
	query := `DELETE FROM friends WHERE address = ? AND friend = ?`
	if _, err := r.db.ExecContext(ctx, query, address, friend); err != nil {
		return fmt.Errorf("remove friend: %w", err)
	}
	return nil
}

func (r *IdentityRepo) Blocked(ctx context.Context, address string) ([]string, error) {
	return r.listAddresses(ctx, `SELECT blocked FROM blocked_users WHERE address = ? ORDER BY blocked`, address)
}

func (r *IdentityRepo) IsBlocked(ctx context.Context, owner, target string) (bool, error) {
	return r.exists(ctx, `SELECT 1 FROM blocked_users WHERE address = ? AND blocked = ?`, owner, target)
}

// Block adds target to owner's block set and evicts it from owner's friend
// set in one transaction, so the two sets are never observed overlapping.
func (r *IdentityRepo) Block(ctx context.Context, owner, target string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin block tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO blocked_users (address, blocked) VALUES (?, ?)`, owner, target); err != nil {
		return fmt.Errorf("insert block: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM friends WHERE address = ? AND friend = ?`, owner, target); err != nil {
		return fmt.Errorf("evict friend: %w", err)
	}
	return tx.Commit()
}

func (r *IdentityRepo) Unblock(ctx context.Context, owner, target string) error {
	query := `DELETE FROM blocked_users WHERE address = ? AND blocked = ?`
	if _, err := r.db.ExecContext(ctx, query, owner, target); err != nil {
		return fmt.Errorf("unblock: %w", err)
	}
	return nil
}

func (r *IdentityRepo) CreateFriendRequest(ctx context.Context, req *domain.FriendRequest) error {
	query := `
		INSERT INTO friend_requests (from_address, to_address, message, status, requested_at)
		VALUES (?, ?, ?, 'pending', CURRENT_TIMESTAMP)
		ON CONFLICT (from_address, to_address) DO UPDATE SET message = excluded.message, status = 'pending', requested_at = CURRENT_TIMESTAMP
	`
	if _, err := r.db.ExecContext(ctx, query, req.From, req.To, req.Message); err != nil {
		return fmt.Errorf("insert friend request: %w", err)
	}
	return nil
}

func (r *IdentityRepo) GetFriendRequest(ctx context.Context, from, to string) (*domain.FriendRequest, error) {
	query := `SELECT from_address, to_address, message, status, requested_at FROM friend_requests WHERE from_address = ? AND to_address = ?`
	req := &domain.FriendRequest{}
	err := r.db.QueryRowContext(ctx, query, from, to).Scan(&req.From, &req.To, &req.Message, &req.Status, &req.RequestedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan friend request: %w", err)
	}
	return req, nil
}

func (r *IdentityRepo) PendingFriendRequests(ctx context.Context, to string) ([]*domain.FriendRequest, error) {
	query := `
		SELECT from_address, to_address, message, status, requested_at
		FROM friend_requests
		WHERE to_address = ? AND status = 'pending'
		ORDER BY requested_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, to)
	if err != nil {
		return nil, fmt.Errorf("list friend requests: %w", err)
	}
	defer rows.Close()

	var reqs []*domain.FriendRequest
	for rows.Next() {
		req := &domain.FriendRequest{}
		if err := rows.Scan(&req.From, &req.To, &req.Message, &req.Status, &req.RequestedAt); err != nil {
			return nil, fmt.Errorf("scan friend request: %w", err)
		}
		reqs = append(reqs, req)
	}
	return reqs, rows.Err()
}

// AcceptFriendRequest settles the request and installs both friendship edges
// in one transaction.
func (r *IdentityRepo) AcceptFriendRequest(ctx context.Context, from, to string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin accept tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE friend_requests SET status = 'accepted' WHERE from_address = ? AND to_address = ?`, from, to); err != nil {
		return fmt.Errorf("settle friend request: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO friends (address, friend) VALUES (?, ?), (?, ?)`, from, to, to, from); err != nil {
		return fmt.Errorf("install friendship: %w", err)
	}
	return tx.Commit()
}

func (r *IdentityRepo) RejectFriendRequest(ctx context.Context, from, to string) error {
	query := `UPDATE friend_requests SET status = 'rejected' WHERE from_address = ? AND to_address = ?`
	if _, err := r.db.ExecContext(ctx, query, from, to); err != nil {
		return fmt.Errorf("reject friend request: %w", err)
	}
	return nil
}

func (r *IdentityRepo) listAddresses(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list addresses: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, fmt.Errorf("scan address: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *IdentityRepo) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("exists: %w", err)
	}
	return true, nil
}
