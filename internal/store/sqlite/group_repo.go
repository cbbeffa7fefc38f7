package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"walletchat/internal/domain"
)

type GroupRepo struct {
	db *sql.DB
}

func NewGroupRepo(db *sql.DB) *GroupRepo {
	return &GroupRepo{db: db}
}

var _ domain.GroupRepository = (*GroupRepo)(nil)

const groupColumns = `id, name, description, avatar, owner, mute_all, require_approval, max_members,
	announcement, announcement_by, announcement_at, invite_code, invite_expires,
	message_count, is_active, created_at, updated_at`

func (r *GroupRepo) Create(ctx context.Context, g *domain.Group) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create tx: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO groups (id, name, description, avatar, owner, mute_all, require_approval, max_members, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`
	_, err = tx.ExecContext(ctx, query,
		g.ID,
		g.Name,
		g.Description,
		g.Avatar,
		g.Owner,
		g.Settings.MuteAll,
		g.Settings.RequireApproval,
		g.Settings.MaxMembers,
	)
	if err != nil {
		return fmt.Errorf("insert group: %w", err)
	}

	for _, m := range g.Members {
		if err := insertMember(ctx, tx, g.ID, m); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func insertMember(ctx context.Context, tx *sql.Tx, groupID string, m domain.GroupMember) error {
	query := `
		INSERT OR IGNORE INTO group_members (group_id, address, role, joined_at, muted_until, nickname)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, query, groupID, m.Address, m.Role, m.MutedUntil, m.Nickname); err != nil {
		return fmt.Errorf("insert member: %w", err)
	}
	return nil
}

func touchGroup(ctx context.Context, tx *sql.Tx, groupID string) error {
	if _, err := tx.ExecContext(ctx, `UPDATE groups SET updated_at = CURRENT_TIMESTAMP WHERE id = ?`, groupID); err != nil {
		return fmt.Errorf("touch group: %w", err)
	}
	return nil
}

func (r *GroupRepo) GetByID(ctx context.Context, id string) (*domain.Group, error) {
	query := `SELECT ` + groupColumns + ` FROM groups WHERE id = ?`
	g, err := r.scanGroup(r.db.QueryRowContext(ctx, query, id))
	if err != nil || g == nil {
		return g, err
	}
	g.Members, err = r.members(ctx, id)
	if err != nil {
		return nil, err
	}
	return g, nil
}

func (r *GroupRepo) ListForMember(ctx context.Context, address string) ([]*domain.Group, error) {
	query := `
		SELECT ` + groupColumns + `
		FROM groups
		WHERE is_active = 1 AND id IN (SELECT group_id FROM group_members WHERE address = ?)
		ORDER BY updated_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, address)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var groups []*domain.Group
	for rows.Next() {
		g, err := r.scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, g := range groups {
		if g.Members, err = r.members(ctx, g.ID); err != nil {
			return nil, err
		}
	}
	return groups, nil
}

func (r *GroupRepo) AddMembers(ctx context.Context, groupID string, members []domain.GroupMember) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin add tx: %w", err)
	}
	defer tx.Rollback()

	for _, m := range members {
		if err := insertMember(ctx, tx, groupID, m); err != nil {
			return err
		}
	}
	if err := touchGroup(ctx, tx, groupID); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *GroupRepo) RemoveMember(ctx context.Context, groupID, address string) error {
	query := `DELETE FROM group_members WHERE group_id = ? AND address = ?`
	if _, err := r.db.ExecContext(ctx, query, groupID, address); err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	return nil
}

func (r *GroupRepo) SetRole(ctx context.Context, groupID, address string, role domain.Role) error {
	query := `UPDATE group_members SET role = ? WHERE group_id = ? AND address = ?`
	if _, err := r.db.ExecContext(ctx, query, role, groupID, address); err != nil {
		return fmt.Errorf("set role: %w", err)
	}
	return nil
}

func (r *GroupRepo) SetMutedUntil(ctx context.Context, groupID, address string, until *time.Time) error {
	query := `UPDATE group_members SET muted_until = ? WHERE group_id = ? AND address = ?`
	if _, err := r.db.ExecContext(ctx, query, until, groupID, address); err != nil {
		return fmt.Errorf("set muted until: %w", err)
	}
	return nil
}

func (r *GroupRepo) SetNickname(ctx context.Context, groupID, address, nickname string) error {
	query := `UPDATE group_members SET nickname = ? WHERE group_id = ? AND address = ?`
	if _, err := r.db.ExecContext(ctx, query, nickname, groupID, address); err != nil {
		return fmt.Errorf("set nickname: %w", err)
	}
	return nil
}

// TransferOwnership swaps the owner column and both member roles in one
// transaction. The owner update is conditional on from still holding the
// column, so a racing transfer that lost cannot apply a second swap and
// leave two owner rows behind. A reader never observes zero or two owners.
func (r *GroupRepo) TransferOwnership(ctx context.Context, groupID, from, to string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transfer tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE groups SET owner = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND owner = ?`, to, groupID, from)
	if err != nil {
		return fmt.Errorf("set owner: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("set owner: %w", err)
	} else if n == 0 {
		return fmt.Errorf("transfer ownership: %s is not the current owner", from)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE group_members SET role = 'admin' WHERE group_id = ? AND address = ?`, groupID, from); err != nil {
		return fmt.Errorf("demote prior owner: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE group_members SET role = 'owner' WHERE group_id = ? AND address = ?`, groupID, to); err != nil {
		return fmt.Errorf("promote new owner: %w", err)
	}
	return tx.Commit()
}

func (r *GroupRepo) UpdateProfile(ctx context.Context, groupID, name, description, avatar string) error {
	query := `UPDATE groups SET name = ?, description = ?, avatar = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, name, description, avatar, groupID); err != nil {
		return fmt.Errorf("update group profile: %w", err)
	}
	return nil
}

func (r *GroupRepo) UpdateSettings(ctx context.Context, groupID string, s domain.GroupSettings) error {
	query := `UPDATE groups SET mute_all = ?, require_approval = ?, max_members = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, s.MuteAll, s.RequireApproval, s.MaxMembers, groupID); err != nil {
		return fmt.Errorf("update group settings: %w", err)
	}
	return nil
}

func (r *GroupRepo) SetAnnouncement(ctx context.Context, groupID string, a *domain.Announcement) error {
	query := `UPDATE groups SET announcement = ?, announcement_by = ?, announcement_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	var content, by any
	var at any
	if a != nil {
		content, by, at = a.Content, a.UpdatedBy, a.UpdatedAt.UTC()
	}
	if _, err := r.db.ExecContext(ctx, query, content, by, at, groupID); err != nil {
		return fmt.Errorf("set announcement: %w", err)
	}
	return nil
}

func (r *GroupRepo) SetInviteCode(ctx context.Context, groupID, code string, expires time.Time) error {
	query := `UPDATE groups SET invite_code = ?, invite_expires = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, code, expires.UTC(), groupID); err != nil {
		return fmt.Errorf("set invite code: %w", err)
	}
	return nil
}

func (r *GroupRepo) FindByInviteCode(ctx context.Context, code string) (*domain.Group, error) {
	query := `SELECT ` + groupColumns + ` FROM groups WHERE invite_code = ? AND is_active = 1`
	g, err := r.scanGroup(r.db.QueryRowContext(ctx, query, code))
	if err != nil || g == nil {
		return g, err
	}
	g.Members, err = r.members(ctx, g.ID)
	if err != nil {
		return nil, err
	}
	return g, nil
}

func (r *GroupRepo) AddJoinRequest(ctx context.Context, groupID string, req *domain.JoinRequest) error {
	query := `
		INSERT INTO group_requests (group_id, address, message, requested_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (group_id, address) DO UPDATE SET message = excluded.message, requested_at = CURRENT_TIMESTAMP
	`
	if _, err := r.db.ExecContext(ctx, query, groupID, req.Address, req.Message); err != nil {
		return fmt.Errorf("insert join request: %w", err)
	}
	return nil
}

func (r *GroupRepo) JoinRequests(ctx context.Context, groupID string) ([]*domain.JoinRequest, error) {
	query := `SELECT address, message, requested_at FROM group_requests WHERE group_id = ? ORDER BY requested_at ASC`
	rows, err := r.db.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("list join requests: %w", err)
	}
	defer rows.Close()

	var reqs []*domain.JoinRequest
	for rows.Next() {
		req := &domain.JoinRequest{}
		if err := rows.Scan(&req.Address, &req.Message, &req.RequestedAt); err != nil {
			return nil, fmt.Errorf("scan join request: %w", err)
		}
		reqs = append(reqs, req)
	}
	return reqs, rows.Err()
}

func (r *GroupRepo) DeleteJoinRequest(ctx context.Context, groupID, address string) error {
	query := `DELETE FROM group_requests WHERE group_id = ? AND address = ?`
	if _, err := r.db.ExecContext(ctx, query, groupID, address); err != nil {
		return fmt.Errorf("delete join request: %w", err)
	}
	return nil
}

func (r *GroupRepo) IncrementMessageCount(ctx context.Context, groupID string) error {
	query := `UPDATE groups SET message_count = message_count + 1 WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, groupID); err != nil {
		return fmt.Errorf("increment message count: %w", err)
	}
	return nil
}

func (r *GroupRepo) Deactivate(ctx context.Context, groupID string) error {
	query := `UPDATE groups SET is_active = 0, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, groupID); err != nil {
		return fmt.Errorf("deactivate group: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *GroupRepo) scanGroup(row rowScanner) (*domain.Group, error) {
	g := &domain.Group{}
	var announcement, announcementBy *string
	var announcementAt *time.Time
	err := row.Scan(
		&g.ID,
		&g.Name,
		&g.Description,
		&g.Avatar,
		&g.Owner,
		&g.Settings.MuteAll,
		&g.Settings.RequireApproval,
		&g.Settings.MaxMembers,
		&announcement,
		&announcementBy,
		&announcementAt,
		&g.InviteCode,
		&g.InviteExpires,
		&g.MessageCount,
		&g.IsActive,
		&g.CreatedAt,
		&g.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan group: %w", err)
	}
	if announcement != nil {
		g.Announcement = &domain.Announcement{Content: *announcement}
		if announcementBy != nil {
			g.Announcement.UpdatedBy = *announcementBy
		}
		if announcementAt != nil {
			g.Announcement.UpdatedAt = *announcementAt
		}
	}
	return g, nil
}

func (r *GroupRepo) members(ctx context.Context, groupID string) ([]domain.GroupMember, error) {
	query := `
		SELECT address, role, joined_at, muted_until, nickname
		FROM group_members
		WHERE group_id = ?
		ORDER BY joined_at ASC, address ASC
	`
	rows, err := r.db.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []domain.GroupMember
	for rows.Next() {
		var m domain.GroupMember
		if err := rows.Scan(&m.Address, &m.Role, &m.JoinedAt, &m.MutedUntil, &m.Nickname); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}
