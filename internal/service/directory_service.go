package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"walletchat/internal/apperr"
	"walletchat/internal/domain"
	"walletchat/internal/security"
)

// DirectoryService owns identities, the social graph and wallet login.
type DirectoryService struct {
	identities domain.IdentityRepository
	tokens     *security.TokenService
	verifier   security.SignatureVerifier
	clock      Clock
	log        *zap.Logger
}

func NewDirectoryService(
	identities domain.IdentityRepository,
	tokens *security.TokenService,
	verifier security.SignatureVerifier,
	clock Clock,
	log *zap.Logger,
) *DirectoryService {
	if clock == nil {
		clock = realClock{}
	}
	return &DirectoryService{
		identities: identities,
		tokens:     tokens,
		verifier:   verifier,
		clock:      clock,
		log:        log,
	}
}

// LoginResult is the outcome of a successful wallet login.
type LoginResult struct {
	Token    string           `json:"token"`
	Identity *domain.Identity `json:"user"`
	Created  bool             `json:"is_new_user"`
}

// Login verifies a wallet signature and returns a session token, creating the
// identity on first sight.
func (s *DirectoryService) Login(ctx context.Context, address, message, signature string) (*LoginResult, error) {
	if !security.ValidAddress(address) {
		return nil, apperr.InvalidArg("invalid wallet address")
	}
	canonical := security.CanonicalAddress(address)

	if err := s.verifier.Verify(canonical, message, signature); err != nil {
		s.log.Warn("signature verification failed", zap.String("address", security.ShortAddress(canonical)))
		return nil, apperr.ErrAuthenticationFailed
	}

	identity, err := s.identities.GetByAddress(ctx, canonical)
	if err != nil {
		return nil, fmt.Errorf("lookup identity: %w", err)
	}

	created := false
	if identity == nil {
		identity = &domain.Identity{
			Address:  canonical,
			Nickname: security.ShortAddress(canonical),
			IsActive: true,
			LastSeen: s.clock.Now(),
		}
		if err := s.identities.Create(ctx, identity); err != nil {
			return nil, fmt.Errorf("create identity: %w", err)
		}
		created = true
		s.log.Info("identity created", zap.String("address", security.ShortAddress(canonical)))
	}
	if identity.IsBanned {
		return nil, apperr.Forbidden("account is banned")
	}
	if !created {
		if err := s.identities.TouchLastSeen(ctx, canonical, s.clock.Now()); err != nil {
			return nil, fmt.Errorf("touch last seen: %w", err)
		}
	}

	token, err := s.tokens.CreateForAddress(canonical)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &LoginResult{Token: token, Identity: identity, Created: created}, nil
}

// Get returns the identity for an address.
func (s *DirectoryService) Get(ctx context.Context, address string) (*domain.Identity, error) {
	identity, err := s.identities.GetByAddress(ctx, security.CanonicalAddress(address))
	if err != nil {
		return nil, fmt.Errorf("lookup identity: %w", err)
	}
	if identity == nil {
		return nil, apperr.NotFound("user not found")
	}
	return identity, nil
}

// ProfileUpdate carries the caller-editable identity fields. Nil means leave
// the field unchanged.
type ProfileUpdate struct {
	Nickname  *string `json:"nickname"`
	Avatar    *string `json:"avatar"`
	Bio       *string `json:"bio"`
	PublicKey *string `json:"public_key"`
}

func (s *DirectoryService) UpdateProfile(ctx context.Context, address string, upd ProfileUpdate) (*domain.Identity, error) {
	identity, err := s.Get(ctx, address)
	if err != nil {
		return nil, err
	}
	if upd.Nickname != nil {
		if len(*upd.Nickname) > 64 {
			return nil, apperr.InvalidArg("nickname too long")
		}
		identity.Nickname = *upd.Nickname
	}
	if upd.Avatar != nil {
		identity.Avatar = *upd.Avatar
	}
	if upd.Bio != nil {
		if len(*upd.Bio) > 500 {
			return nil, apperr.InvalidArg("bio too long")
		}
		identity.Bio = *upd.Bio
	}
	if upd.PublicKey != nil {
		identity.PublicKey = *upd.PublicKey
	}
	if err := s.identities.Update(ctx, identity); err != nil {
		return nil, fmt.Errorf("update identity: %w", err)
	}
	return identity, nil
}

// TouchLastSeen persists a presence-unbind timestamp.
func (s *DirectoryService) TouchLastSeen(ctx context.Context, address string, at time.Time) error {
	return s.identities.TouchLastSeen(ctx, security.CanonicalAddress(address), at)
}

func (s *DirectoryService) Friends(ctx context.Context, address string) ([]*domain.Identity, error) {
	addrs, err := s.identities.Friends(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("list friends: %w", err)
	}
	return s.resolve(ctx, addrs)
}

// SendFriendRequest records a pending request; re-sending after a rejection
// re-opens it.
func (s *DirectoryService) SendFriendRequest(ctx context.Context, from, to, message string) error {
	to = security.CanonicalAddress(to)
	if from == to {
		return apperr.InvalidArg("cannot friend yourself")
	}
	target, err := s.identities.GetByAddress(ctx, to)
	if err != nil {
		return fmt.Errorf("lookup target: %w", err)
	}
	if target == nil {
		return apperr.NotFound("user not found")
	}
	blocked, err := s.identities.IsBlocked(ctx, to, from)
	if err != nil {
		return fmt.Errorf("check block set: %w", err)
	}
	if blocked {
		return apperr.ErrBlocked
	}
	already, err := s.identities.IsFriend(ctx, from, to)
	if err != nil {
		return fmt.Errorf("check friendship: %w", err)
	}
	if already {
		return apperr.AlreadyExists("already friends")
	}
	req := &domain.FriendRequest{
		From:        from,
		To:          to,
		Message:     message,
		Status:      "pending",
		RequestedAt: s.clock.Now(),
	}
	if err := s.identities.CreateFriendRequest(ctx, req); err != nil {
		return fmt.Errorf("create friend request: %w", err)
	}
	return nil
}

func (s *DirectoryService) PendingFriendRequests(ctx context.Context, address string) ([]*domain.FriendRequest, error) {
	return s.identities.PendingFriendRequests(ctx, address)
}

func (s *DirectoryService) AcceptFriendRequest(ctx context.Context, from, to string) error {
	from = security.CanonicalAddress(from)
	req, err := s.identities.GetFriendRequest(ctx, from, to)
	if err != nil {
		return fmt.Errorf("lookup friend request: %w", err)
	}
	if req == nil || req.Status != "pending" {
		return apperr.NotFound("friend request not found")
	}
	if err := s.identities.AcceptFriendRequest(ctx, from, to); err != nil {
		return fmt.Errorf("accept friend request: %w", err)
	}
	return nil
}

func (s *DirectoryService) RejectFriendRequest(ctx context.Context, from, to string) error {
	from = security.CanonicalAddress(from)
	req, err := s.identities.GetFriendRequest(ctx, from, to)
	if err != nil {
		return fmt.Errorf("lookup friend request: %w", err)
	}
	if req == nil || req.Status != "pending" {
		return apperr.NotFound("friend request not found")
	}
	return s.identities.RejectFriendRequest(ctx, from, to)
}

func (s *DirectoryService) RemoveFriend(ctx context.Context, address, friend string) error {
	return s.identities.RemoveFriend(ctx, address, security.CanonicalAddress(friend))
}

// Block adds target to address's block set; the repository evicts any
// friendship edge in the same transaction so the friend-set invariant holds
// even under concurrent reads.
func (s *DirectoryService) Block(ctx context.Context, address, target string) error {
	target = security.CanonicalAddress(target)
	if address == target {
		return apperr.InvalidArg("cannot block yourself")
	}
	if err := s.identities.Block(ctx, address, target); err != nil {
		return fmt.Errorf("block user: %w", err)
	}
	return nil
}

func (s *DirectoryService) Unblock(ctx context.Context, address, target string) error {
	return s.identities.Unblock(ctx, address, security.CanonicalAddress(target))
}

func (s *DirectoryService) BlockedUsers(ctx context.Context, address string) ([]*domain.Identity, error) {
	addrs, err := s.identities.Blocked(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("list blocked: %w", err)
	}
	return s.resolve(ctx, addrs)
}

func (s *DirectoryService) resolve(ctx context.Context, addrs []string) ([]*domain.Identity, error) {
	out := make([]*domain.Identity, 0, len(addrs))
	for _, a := range addrs {
		id, err := s.identities.GetByAddress(ctx, a)
		if err != nil {
			return nil, fmt.Errorf("lookup identity: %w", err)
		}
		if id != nil {
			out = append(out, id)
		}
	}
	return out, nil
}
