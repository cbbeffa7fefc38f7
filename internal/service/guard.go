package service

import (
	"context"
	"fmt"

	"walletchat/internal/apperr"
	"walletchat/internal/domain"
)

// Action is a guarded operation category.
type Action string

const (
	ActionSend           Action = "send"
	ActionReadHistory    Action = "read-history"
	ActionMute           Action = "mute"
	ActionManageRoles    Action = "manage-roles"
	ActionManageSettings Action = "manage-settings"
)

// identityReader is the slice of the identity repository the guard needs.
type identityReader interface {
	GetByAddress(ctx context.Context, address string) (*domain.Identity, error)
	IsBlocked(ctx context.Context, owner, target string) (bool, error)
}

// groupReader is the slice of the group repository the guard needs.
type groupReader interface {
	GetByID(ctx context.Context, id string) (*domain.Group, error)
}

// Guard decides whether an actor may perform an action in a scope. It never
// mutates state; every denial is a typed error from the apperr taxonomy and
// the rules are evaluated in a fixed order with first match winning.
type Guard struct {
	identities identityReader
	groups     groupReader
	clock      Clock
}

func NewGuard(identities identityReader, groups groupReader, clock Clock) *Guard {
	if clock == nil {
		clock = realClock{}
	}
	return &Guard{identities: identities, groups: groups, clock: clock}
}

// Check evaluates the rule table for (actor, scope, action). A nil return
// means allowed.
func (g *Guard) Check(ctx context.Context, actor string, scope domain.Scope, action Action) error {
	switch action {
	case ActionSend:
		if peer, ok := scope.Peer(); ok {
			return g.checkPeerSend(ctx, actor, peer)
		}
		if groupID, ok := scope.Group(); ok {
			return g.checkGroupSend(ctx, actor, groupID)
		}
		return apperr.InvalidArg("message scope is empty")
	case ActionReadHistory:
		if groupID, ok := scope.Group(); ok {
			return g.requireMember(ctx, actor, groupID)
		}
		// Direct history is always visible to its two participants; the
		// thread query is already keyed by the viewer.
		return nil
	case ActionMute, ActionManageSettings:
		groupID, ok := scope.Group()
		if !ok {
			return apperr.InvalidArg("action requires a group scope")
		}
		return g.requireRole(ctx, actor, groupID, domain.RoleAdmin)
	case ActionManageRoles:
		groupID, ok := scope.Group()
		if !ok {
			return apperr.InvalidArg("action requires a group scope")
		}
		return g.requireRole(ctx, actor, groupID, domain.RoleOwner)
	}
	return apperr.InvalidArg(fmt.Sprintf("unknown action %q", action))
}

func (g *Guard) checkPeerSend(ctx context.Context, actor, peer string) error {
	blocked, err := g.identities.IsBlocked(ctx, peer, actor)
	if err != nil {
		return fmt.Errorf("check block set: %w", err)
	}
	if blocked {
		return apperr.ErrBlocked
	}
	id, err := g.identities.GetByAddress(ctx, peer)
	if err != nil {
		return fmt.Errorf("lookup recipient: %w", err)
	}
	if id == nil {
		return apperr.ErrUnknownRecipient
	}
	return nil
}

func (g *Guard) checkGroupSend(ctx context.Context, actor, groupID string) error {
	grp, err := g.loadGroup(ctx, groupID)
	if err != nil {
		return err
	}
	member := grp.Member(actor)
	if member == nil {
		return apperr.ErrNotMember
	}
	if grp.Settings.MuteAll && !grp.IsAdmin(actor) {
		return apperr.ErrGroupMuted
	}
	if member.Muted(g.clock.Now()) {
		return apperr.ErrMemberMuted
	}
	return nil
}

func (g *Guard) requireMember(ctx context.Context, actor, groupID string) error {
	grp, err := g.loadGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if !grp.IsMember(actor) {
		return apperr.ErrNotMember
	}
	return nil
}

// requireRole checks that actor holds at least the given role in the group.
// RoleOwner demands the singular owner; RoleAdmin accepts owner or admin.
func (g *Guard) requireRole(ctx context.Context, actor, groupID string, min domain.Role) error {
	grp, err := g.loadGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if !grp.IsMember(actor) {
		return apperr.ErrNotMember
	}
	switch min {
	case domain.RoleOwner:
		if !grp.IsOwner(actor) {
			return apperr.ErrInsufficientRole
		}
	case domain.RoleAdmin:
		if !grp.IsAdmin(actor) {
			return apperr.ErrInsufficientRole
		}
	}
	return nil
}

func (g *Guard) loadGroup(ctx context.Context, groupID string) (*domain.Group, error) {
	grp, err := g.groups.GetByID(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("lookup group: %w", err)
	}
	if grp == nil || !grp.IsActive {
		return nil, apperr.NotFound("group not found")
	}
	return grp, nil
}
