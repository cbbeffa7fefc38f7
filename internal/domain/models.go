package domain

import "time"

// Identity represents a wallet-addressed user. Address is always stored in
// canonical lowercase form.
type Identity struct {
	Address   string    `json:"address"`
	Nickname  string    `json:"nickname"`
	Avatar    string    `json:"avatar"`
	Bio       string    `json:"bio"`
	PublicKey string    `json:"public_key,omitempty"`
	IsActive  bool      `json:"is_active"`
	IsBanned  bool      `json:"is_banned"`
	LastSeen  time.Time `json:"last_seen"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	MessagesSent int64 `json:"messages_sent"`
	GroupsJoined int64 `json:"groups_joined"`
}

// Role of a group member.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// GroupMember is one entry of a group's member list.
type GroupMember struct {
	Address    string     `json:"address"`
	Role       Role       `json:"role"`
	JoinedAt   time.Time  `json:"joined_at"`
	MutedUntil *time.Time `json:"muted_until,omitempty"`
	Nickname   string     `json:"nickname,omitempty"`
}

// Muted reports whether the member's mute window is still open. A mute-until
// in the past is equivalent to not muted.
func (m *GroupMember) Muted(now time.Time) bool {
	return m.MutedUntil != nil && m.MutedUntil.After(now)
}

type GroupSettings struct {
	MuteAll         bool `json:"mute_all"`
	RequireApproval bool `json:"require_approval"`
	MaxMembers      int  `json:"max_members"`
}

type Announcement struct {
	Content   string    `json:"content"`
	UpdatedBy string    `json:"updated_by"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Group owns membership, roles, mute windows and invite codes. Exactly one
// member carries RoleOwner and its address equals Owner.
type Group struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Avatar      string `json:"avatar"`
	Owner       string `json:"owner"`

	Settings     GroupSettings `json:"settings"`
	Announcement *Announcement `json:"announcement,omitempty"`

	InviteCode    *string    `json:"invite_code,omitempty"`
	InviteExpires *time.Time `json:"invite_expires,omitempty"`

	MessageCount int64     `json:"message_count"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	Members []GroupMember `json:"members"`
}

// Member returns the entry for the given address, or nil.
func (g *Group) Member(address string) *GroupMember {
	for i := range g.Members {
		if g.Members[i].Address == address {
			return &g.Members[i]
		}
	}
	return nil
}

func (g *Group) IsMember(address string) bool {
	return g.Member(address) != nil
}

// IsAdmin reports whether the address holds admin or owner role.
func (g *Group) IsAdmin(address string) bool {
	m := g.Member(address)
	return m != nil && (m.Role == RoleAdmin || m.Role == RoleOwner)
}

func (g *Group) IsOwner(address string) bool {
	return g.Owner == address
}

func (g *Group) MemberCount() int {
	return len(g.Members)
}

// FriendRequest is a pending/settled request between two identities.
type FriendRequest struct {
	From        string    `json:"from"`
	To          string    `json:"to"`
	Message     string    `json:"message,omitempty"`
	Status      string    `json:"status"` // pending | accepted | rejected
	RequestedAt time.Time `json:"requested_at"`
}

// JoinRequest is a pending membership request on a require-approval group.
type JoinRequest struct {
	Address     string    `json:"address"`
	Message     string    `json:"message,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}
