package domain

// Scope addresses a message at either a peer or a group. The zero Scope is
// invalid; the constructors are the only way to build one, so "both set" and
// "neither set" are unrepresentable.
type Scope struct {
	peer  string
	group string
}

// PeerScope addresses a direct conversation with the given wallet address.
func PeerScope(address string) Scope {
	return Scope{peer: address}
}

// GroupScope addresses a group conversation.
func GroupScope(id string) Scope {
	return Scope{group: id}
}

func (s Scope) Peer() (string, bool) {
	return s.peer, s.peer != ""
}

func (s Scope) Group() (string, bool) {
	return s.group, s.group != ""
}

func (s Scope) IsGroup() bool {
	return s.group != ""
}

func (s Scope) IsZero() bool {
	return s.peer == "" && s.group == ""
}
