package domain

import (
	"context"
	"time"
)

// IdentityRepository defines persistence operations for identities, friend
// sets and block sets.
type IdentityRepository interface {
	Create(ctx context.Context, id *Identity) error
	GetByAddress(ctx context.Context, address string) (*Identity, error)
	Update(ctx context.Context, id *Identity) error
	TouchLastSeen(ctx context.Context, address string, at time.Time) error
	IncrementMessagesSent(ctx context.Context, address string) error
	IncrementGroupsJoined(ctx context.Context, address string, delta int64) error

	Friends(ctx context.Context, address string) ([]string, error)
	IsFriend(ctx context.Context, address, friend string) (bool, error)
	AddFriend(ctx context.Context, address, friend string) error
	RemoveFriend(ctx context.Context, address, friend string) error

	Blocked(ctx context.Context, address string) ([]string, error)
	IsBlocked(ctx context.Context, owner, target string) (bool, error)
	// Block adds target to owner's block set and evicts it from owner's
	// friend set in the same transaction.
	Block(ctx context.Context, owner, target string) error
	Unblock(ctx context.Context, owner, target string) error

	CreateFriendRequest(ctx context.Context, req *FriendRequest) error
	GetFriendRequest(ctx context.Context, from, to string) (*FriendRequest, error)
	PendingFriendRequests(ctx context.Context, to string) ([]*FriendRequest, error)
	// AcceptFriendRequest marks the request accepted and installs both
	// friendship edges in one transaction.
	AcceptFriendRequest(ctx context.Context, from, to string) error
	RejectFriendRequest(ctx context.Context, from, to string) error
}

// GroupRepository defines persistence operations for groups and membership.
// Invariant-sensitive mutations (ownership transfer, capacity-checked adds)
// are expected to run inside a single transaction; callers additionally hold
// a per-group exclusive section.
type GroupRepository interface {
	Create(ctx context.Context, g *Group) error
	GetByID(ctx context.Context, id string) (*Group, error)
	ListForMember(ctx context.Context, address string) ([]*Group, error)

	AddMembers(ctx context.Context, groupID string, members []GroupMember) error
	RemoveMember(ctx context.Context, groupID, address string) error
	SetRole(ctx context.Context, groupID, address string, role Role) error
	SetMutedUntil(ctx context.Context, groupID, address string, until *time.Time) error
	SetNickname(ctx context.Context, groupID, address, nickname string) error
	// TransferOwnership swaps the owner field and both member roles in one
	// transaction so no state with zero or two owners is ever visible.
	TransferOwnership(ctx context.Context, groupID, from, to string) error

	UpdateProfile(ctx context.Context, groupID, name, description, avatar string) error
	UpdateSettings(ctx context.Context, groupID string, s GroupSettings) error
	SetAnnouncement(ctx context.Context, groupID string, a *Announcement) error

	SetInviteCode(ctx context.Context, groupID, code string, expires time.Time) error
	FindByInviteCode(ctx context.Context, code string) (*Group, error)

	AddJoinRequest(ctx context.Context, groupID string, req *JoinRequest) error
	JoinRequests(ctx context.Context, groupID string) ([]*JoinRequest, error)
	DeleteJoinRequest(ctx context.Context, groupID, address string) error

	IncrementMessageCount(ctx context.Context, groupID string) error
	Deactivate(ctx context.Context, groupID string) error
}

// MessageRepository defines persistence operations for messages and their
// read/delete/edit projections. Each mutator performs its state check and
// update as one atomic step.
type MessageRepository interface {
	Create(ctx context.Context, m *Message) error
	GetByID(ctx context.Context, id string) (*Message, error)

	// Thread returns the direct conversation between viewer and peer, newest
	// first, excluding mutually-deleted messages and those the viewer
	// tombstoned.
	Thread(ctx context.Context, viewer, peer string, limit, offset int) ([]*Message, error)
	// GroupThread returns the group conversation, newest first, excluding
	// messages the viewer tombstoned.
	GroupThread(ctx context.Context, groupID, viewer string, limit, offset int) ([]*Message, error)

	// MarkRead sets the direct-message read flag, timestamp and read status.
	// Re-marking is a no-op.
	MarkRead(ctx context.Context, id string, at time.Time) error
	// AddReadReceipt appends a group read mark, idempotently.
	AddReadReceipt(ctx context.Context, id, reader string, at time.Time) error
	ReadReceipts(ctx context.Context, id string) ([]ReadReceipt, error)

	// AddDeleteMarker idempotently tombstones the message for actor. For a
	// direct message it reports (and records) whether both participants have
	// now deleted it; the check and the flag flip happen in one transaction.
	AddDeleteMarker(ctx context.Context, id, actor string) (fullyDeleted bool, err error)

	// AppendEdit pushes the previous content onto the edit history and
	// replaces the current content in one transaction.
	AppendEdit(ctx context.Context, id, previous, next string, at time.Time) error
	EditHistory(ctx context.Context, id string) ([]EditRecord, error)

	SetPinned(ctx context.Context, id string, pinned bool) error
	UnreadCount(ctx context.Context, address string) (int, error)
}
