package apperr

var (
	// Authorization Guard denials.
	ErrBlocked          = Forbidden("you are blocked by this user")
	ErrUnknownRecipient = NotFound("recipient not found")
	ErrNotMember        = Forbidden("you are not a member of this group")
	ErrGroupMuted       = Forbidden("group is muted")
	ErrMemberMuted      = Forbidden("you are muted in this group")
	ErrInsufficientRole = Forbidden("insufficient role for this action")

	// Group Registry preconditions.
	ErrCapacityExceeded  = FailedPrecondition("group member limit reached")
	ErrOwnerMustTransfer = FailedPrecondition("owner must transfer ownership first")
	ErrInviteExpired     = FailedPrecondition("invite code has expired")
	ErrInviteInvalid     = InvalidArg("invalid invite code")

	// Connection / presence races.
	ErrStaleOperation = FailedPrecondition("operation superseded by a newer connection")

	ErrAuthenticationFailed = Unauthenticated("authentication failed")
)
