package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"walletchat/internal/apperr"
	"walletchat/internal/domain"
	"walletchat/internal/security"
	"walletchat/internal/syncutil"
)

const inviteCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GroupService owns group lifecycle, membership, roles, mute windows and
// invites. Every mutator runs inside a per-group exclusive section so
// compound read-check-write sequences (capacity, ownership, role edits) are
// atomic with respect to each other.
type GroupService struct {
	groups     domain.GroupRepository
	identities domain.IdentityRepository
	guard      *Guard
	locks      *syncutil.KeyedMutex
	clock      Clock
	log        *zap.Logger

	defaultMaxMembers int
	inviteTTL         time.Duration
}

func NewGroupService(
	groups domain.GroupRepository,
	identities domain.IdentityRepository,
	guard *Guard,
	clock Clock,
	log *zap.Logger,
	defaultMaxMembers int,
	inviteTTL time.Duration,
) *GroupService {
	if clock == nil {
		clock = realClock{}
	}
	if defaultMaxMembers <= 0 {
		defaultMaxMembers = 500
	}
	if inviteTTL <= 0 {
		inviteTTL = 7 * 24 * time.Hour
	}
	return &GroupService{
		groups:            groups,
		identities:        identities,
		guard:             guard,
		locks:             syncutil.NewKeyedMutex(),
		clock:             clock,
		log:               log,
		defaultMaxMembers: defaultMaxMembers,
		inviteTTL:         inviteTTL,
	}
}

// Create makes a new group with the creator as its sole member and owner.
func (s *GroupService) Create(ctx context.Context, creator, name, description, avatar string) (*domain.Group, error) {
	if name == "" || len(name) > 100 {
		return nil, apperr.InvalidArg("group name must be 1-100 characters")
	}
	now := s.clock.Now()
	g := &domain.Group{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		Avatar:      avatar,
		Owner:       creator,
		Settings: domain.GroupSettings{
			MaxMembers: s.defaultMaxMembers,
		},
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
		Members: []domain.GroupMember{
			{Address: creator, Role: domain.RoleOwner, JoinedAt: now},
		},
	}
	if err := s.groups.Create(ctx, g); err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}
	if err := s.identities.IncrementGroupsJoined(ctx, creator, 1); err != nil {
		return nil, fmt.Errorf("bump groups joined: %w", err)
	}
	s.log.Info("group created", zap.String("group_id", g.ID), zap.String("owner", security.ShortAddress(creator)))
	return g, nil
}

// Get returns the group; only members may view it.
func (s *GroupService) Get(ctx context.Context, actor, groupID string) (*domain.Group, error) {
	g, err := s.load(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !g.IsMember(actor) {
		return nil, apperr.ErrNotMember
	}
	return g, nil
}

func (s *GroupService) ListForMember(ctx context.Context, address string) ([]*domain.Group, error) {
	return s.groups.ListForMember(ctx, address)
}

// AddMembers adds the given addresses as plain members. Already-present
// addresses are skipped silently; the whole call fails with CapacityExceeded
// when the post-add count would pass the configured limit.
func (s *GroupService) AddMembers(ctx context.Context, actor, groupID string, addresses []string) (*domain.Group, error) {
	if err := s.guard.Check(ctx, actor, domain.GroupScope(groupID), ActionManageSettings); err != nil {
		return nil, err
	}

	s.locks.Lock(groupID)
	defer s.locks.Unlock(groupID)

	g, err := s.load(ctx, groupID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	var added []domain.GroupMember
	for _, raw := range addresses {
		addr := security.CanonicalAddress(raw)
		if g.IsMember(addr) {
			continue
		}
		id, err := s.identities.GetByAddress(ctx, addr)
		if err != nil {
			return nil, fmt.Errorf("lookup member: %w", err)
		}
		if id == nil {
			return nil, apperr.ErrUnknownRecipient
		}
		added = append(added, domain.GroupMember{Address: addr, Role: domain.RoleMember, JoinedAt: now})
	}
	if len(added) == 0 {
		return g, nil
	}
	if g.MemberCount()+len(added) > g.Settings.MaxMembers {
		return nil, apperr.ErrCapacityExceeded
	}

	if err := s.groups.AddMembers(ctx, groupID, added); err != nil {
		return nil, fmt.Errorf("add members: %w", err)
	}
	for _, m := range added {
		if err := s.identities.IncrementGroupsJoined(ctx, m.Address, 1); err != nil {
			return nil, fmt.Errorf("bump groups joined: %w", err)
		}
	}
	return s.load(ctx, groupID)
}

// RemoveMember kicks target from the group. The owner cannot be removed;
// ownership has to move first.
func (s *GroupService) RemoveMember(ctx context.Context, actor, groupID, target string) error {
	if err := s.guard.Check(ctx, actor, domain.GroupScope(groupID), ActionMute); err != nil {
		return err
	}
	return s.removeLocked(ctx, groupID, security.CanonicalAddress(target))
}

// Leave is member self-removal.
func (s *GroupService) Leave(ctx context.Context, actor, groupID string) error {
	s.locks.Lock(groupID)
	defer s.locks.Unlock(groupID)

	g, err := s.load(ctx, groupID)
	if err != nil {
		return err
	}
	if !g.IsMember(actor) {
		return apperr.ErrNotMember
	}
	if g.IsOwner(actor) {
		return apperr.ErrOwnerMustTransfer
	}
	if err := s.groups.RemoveMember(ctx, groupID, actor); err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	return s.identities.IncrementGroupsJoined(ctx, actor, -1)
}

func (s *GroupService) removeLocked(ctx context.Context, groupID, target string) error {
	s.locks.Lock(groupID)
	defer s.locks.Unlock(groupID)

	g, err := s.load(ctx, groupID)
	if err != nil {
		return err
	}
	if !g.IsMember(target) {
		return apperr.ErrNotMember
	}
	if g.IsOwner(target) {
		return apperr.ErrOwnerMustTransfer
	}
	if err := s.groups.RemoveMember(ctx, groupID, target); err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	return s.identities.IncrementGroupsJoined(ctx, target, -1)
}

// SetRole appoints or demotes an admin. Owner role never moves through here.
func (s *GroupService) SetRole(ctx context.Context, actor, groupID, target string, role domain.Role) error {
	if err := s.guard.Check(ctx, actor, domain.GroupScope(groupID), ActionManageRoles); err != nil {
		return err
	}
	if role != domain.RoleAdmin && role != domain.RoleMember {
		return apperr.InvalidArg("role must be admin or member")
	}
	target = security.CanonicalAddress(target)

	s.locks.Lock(groupID)
	defer s.locks.Unlock(groupID)

	g, err := s.load(ctx, groupID)
	if err != nil {
		return err
	}
	if !g.IsMember(target) {
		return apperr.ErrNotMember
	}
	if g.IsOwner(target) {
		return apperr.InvalidArg("cannot change the owner's role")
	}
	return s.groups.SetRole(ctx, groupID, target, role)
}

// Mute silences target until now+duration. A zero or negative duration clears
// the mute.
func (s *GroupService) Mute(ctx context.Context, actor, groupID, target string, duration time.Duration) error {
	if err := s.guard.Check(ctx, actor, domain.GroupScope(groupID), ActionMute); err != nil {
		return err
	}
	target = security.CanonicalAddress(target)

	s.locks.Lock(groupID)
	defer s.locks.Unlock(groupID)

	g, err := s.load(ctx, groupID)
	if err != nil {
		return err
	}
	if !g.IsMember(target) {
		return apperr.ErrNotMember
	}
	if g.IsOwner(target) {
		return apperr.ErrInsufficientRole
	}
	var until *time.Time
	if duration > 0 {
		t := s.clock.Now().Add(duration)
		until = &t
	}
	return s.groups.SetMutedUntil(ctx, groupID, target, until)
}

// TransferOwnership moves the owner role to target, demoting the current
// owner to admin. The swap is one repository transaction; the exclusive
// section keeps concurrent membership edits from observing a half-applied
// state.
func (s *GroupService) TransferOwnership(ctx context.Context, actor, groupID, target string) error {
	if err := s.guard.Check(ctx, actor, domain.GroupScope(groupID), ActionManageRoles); err != nil {
		return err
	}
	target = security.CanonicalAddress(target)
	if target == actor {
		return apperr.InvalidArg("already the owner")
	}

	s.locks.Lock(groupID)
	defer s.locks.Unlock(groupID)

	g, err := s.load(ctx, groupID)
	if err != nil {
		return err
	}
	// The guard ran before we held the lock; a concurrent transfer may have
	// replaced the owner in the meantime, so re-verify under the lock.
	if !g.IsOwner(actor) {
		return apperr.ErrInsufficientRole
	}
	if !g.IsMember(target) {
		return apperr.ErrNotMember
	}
	if err := s.groups.TransferOwnership(ctx, groupID, actor, target); err != nil {
		return fmt.Errorf("transfer ownership: %w", err)
	}
	s.log.Info("ownership transferred",
		zap.String("group_id", groupID),
		zap.String("from", security.ShortAddress(actor)),
		zap.String("to", security.ShortAddress(target)))
	return nil
}

func (s *GroupService) UpdateProfile(ctx context.Context, actor, groupID, name, description, avatar string) error {
	if err := s.guard.Check(ctx, actor, domain.GroupScope(groupID), ActionManageSettings); err != nil {
		return err
	}
	if name == "" || len(name) > 100 {
		return apperr.InvalidArg("group name must be 1-100 characters")
	}
	return s.groups.UpdateProfile(ctx, groupID, name, description, avatar)
}

func (s *GroupService) UpdateSettings(ctx context.Context, actor, groupID string, settings domain.GroupSettings) error {
	if err := s.guard.Check(ctx, actor, domain.GroupScope(groupID), ActionManageSettings); err != nil {
		return err
	}
	if settings.MaxMembers <= 0 || settings.MaxMembers > s.defaultMaxMembers {
		return apperr.InvalidArg(fmt.Sprintf("max members must be 1-%d", s.defaultMaxMembers))
	}

	s.locks.Lock(groupID)
	defer s.locks.Unlock(groupID)

	g, err := s.load(ctx, groupID)
	if err != nil {
		return err
	}
	if settings.MaxMembers < g.MemberCount() {
		return apperr.InvalidArg("max members below current member count")
	}
	return s.groups.UpdateSettings(ctx, groupID, settings)
}

func (s *GroupService) SetAnnouncement(ctx context.Context, actor, groupID, content string) error {
	if err := s.guard.Check(ctx, actor, domain.GroupScope(groupID), ActionManageSettings); err != nil {
		return err
	}
	if len(content) > 1000 {
		return apperr.InvalidArg("announcement too long")
	}
	var a *domain.Announcement
	if content != "" {
		a = &domain.Announcement{Content: content, UpdatedBy: actor, UpdatedAt: s.clock.Now()}
	}
	return s.groups.SetAnnouncement(ctx, groupID, a)
}

// SetNickname sets the caller's display name inside the group.
func (s *GroupService) SetNickname(ctx context.Context, actor, groupID, nickname string) error {
	if len(nickname) > 64 {
		return apperr.InvalidArg("nickname too long")
	}
	g, err := s.load(ctx, groupID)
	if err != nil {
		return err
	}
	if !g.IsMember(actor) {
		return apperr.ErrNotMember
	}
	return s.groups.SetNickname(ctx, groupID, actor, nickname)
}

// GenerateInvite mints a fresh invite code, replacing any previous one.
func (s *GroupService) GenerateInvite(ctx context.Context, actor, groupID string) (code string, expires time.Time, err error) {
	if err := s.guard.Check(ctx, actor, domain.GroupScope(groupID), ActionManageSettings); err != nil {
		return "", time.Time{}, err
	}
	code, err = newInviteCode()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate invite code: %w", err)
	}
	expires = s.clock.Now().Add(s.inviteTTL)
	if err := s.groups.SetInviteCode(ctx, groupID, code, expires); err != nil {
		return "", time.Time{}, fmt.Errorf("store invite code: %w", err)
	}
	return code, expires, nil
}

// RedeemResult reports whether redemption joined the group immediately or
// queued a join request behind require-approval.
type RedeemResult struct {
	Group   *domain.Group `json:"group"`
	Pending bool          `json:"pending"`
}

// RedeemInvite joins actor via an invite code. Redeeming while already a
// member is a no-op success.
func (s *GroupService) RedeemInvite(ctx context.Context, actor, code string) (*RedeemResult, error) {
	g, err := s.groups.FindByInviteCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("lookup invite: %w", err)
	}
	if g == nil || !g.IsActive {
		return nil, apperr.ErrInviteInvalid
	}
	if g.InviteExpires == nil || g.InviteExpires.Before(s.clock.Now()) {
		return nil, apperr.ErrInviteExpired
	}

	s.locks.Lock(g.ID)
	defer s.locks.Unlock(g.ID)

	g, err = s.load(ctx, g.ID)
	if err != nil {
		return nil, err
	}
	if g.IsMember(actor) {
		return &RedeemResult{Group: g}, nil
	}

	if g.Settings.RequireApproval {
		req := &domain.JoinRequest{Address: actor, RequestedAt: s.clock.Now()}
		if err := s.groups.AddJoinRequest(ctx, g.ID, req); err != nil {
			return nil, fmt.Errorf("queue join request: %w", err)
		}
		return &RedeemResult{Group: g, Pending: true}, nil
	}

	if g.MemberCount()+1 > g.Settings.MaxMembers {
		return nil, apperr.ErrCapacityExceeded
	}
	member := domain.GroupMember{Address: actor, Role: domain.RoleMember, JoinedAt: s.clock.Now()}
	if err := s.groups.AddMembers(ctx, g.ID, []domain.GroupMember{member}); err != nil {
		return nil, fmt.Errorf("add member: %w", err)
	}
	if err := s.identities.IncrementGroupsJoined(ctx, actor, 1); err != nil {
		return nil, fmt.Errorf("bump groups joined: %w", err)
	}
	g, err = s.load(ctx, g.ID)
	if err != nil {
		return nil, err
	}
	return &RedeemResult{Group: g}, nil
}

func (s *GroupService) JoinRequests(ctx context.Context, actor, groupID string) ([]*domain.JoinRequest, error) {
	if err := s.guard.Check(ctx, actor, domain.GroupScope(groupID), ActionManageSettings); err != nil {
		return nil, err
	}
	return s.groups.JoinRequests(ctx, groupID)
}

// ApproveJoinRequest converts a pending join request into membership.
func (s *GroupService) ApproveJoinRequest(ctx context.Context, actor, groupID, requester string) error {
	if err := s.guard.Check(ctx, actor, domain.GroupScope(groupID), ActionManageSettings); err != nil {
		return err
	}
	requester = security.CanonicalAddress(requester)

	s.locks.Lock(groupID)
	defer s.locks.Unlock(groupID)

	g, err := s.load(ctx, groupID)
	if err != nil {
		return err
	}
	reqs, err := s.groups.JoinRequests(ctx, groupID)
	if err != nil {
		return fmt.Errorf("list join requests: %w", err)
	}
	found := false
	for _, r := range reqs {
		if r.Address == requester {
			found = true
			break
		}
	}
	if !found {
		return apperr.NotFound("join request not found")
	}
	if !g.IsMember(requester) {
		if g.MemberCount()+1 > g.Settings.MaxMembers {
			return apperr.ErrCapacityExceeded
		}
		member := domain.GroupMember{Address: requester, Role: domain.RoleMember, JoinedAt: s.clock.Now()}
		if err := s.groups.AddMembers(ctx, groupID, []domain.GroupMember{member}); err != nil {
			return fmt.Errorf("add member: %w", err)
		}
		if err := s.identities.IncrementGroupsJoined(ctx, requester, 1); err != nil {
			return fmt.Errorf("bump groups joined: %w", err)
		}
	}
	return s.groups.DeleteJoinRequest(ctx, groupID, requester)
}

func (s *GroupService) RejectJoinRequest(ctx context.Context, actor, groupID, requester string) error {
	if err := s.guard.Check(ctx, actor, domain.GroupScope(groupID), ActionManageSettings); err != nil {
		return err
	}
	return s.groups.DeleteJoinRequest(ctx, groupID, security.CanonicalAddress(requester))
}

// Deactivate retires the group. Owner only.
func (s *GroupService) Deactivate(ctx context.Context, actor, groupID string) error {
	if err := s.guard.Check(ctx, actor, domain.GroupScope(groupID), ActionManageRoles); err != nil {
		return err
	}
	s.locks.Lock(groupID)
	defer s.locks.Unlock(groupID)
	return s.groups.Deactivate(ctx, groupID)
}

func (s *GroupService) load(ctx context.Context, groupID string) (*domain.Group, error) {
	g, err := s.groups.GetByID(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("lookup group: %w", err)
	}
	if g == nil || !g.IsActive {
		return nil, apperr.NotFound("group not found")
	}
	return g, nil
}

func newInviteCode() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = inviteCodeAlphabet[int(b)%len(inviteCodeAlphabet)]
	}
	return string(buf), nil
}
