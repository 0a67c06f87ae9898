package errors

var (
	// Local precondition failures: refused before any store call.
	ErrNotAuthorized    = Forbidden("only the sender may delete a message")
	ErrEmptyMessage     = FailedPrecondition("message needs text or an image")
	ErrNoConversation   = FailedPrecondition("no active conversation")
	ErrSelfConversation = FailedPrecondition("cannot start a conversation with yourself")
	ErrMissingUser      = FailedPrecondition("user id is required")
	ErrMessageNotFound  = NotFound("message not found")
	ErrSessionClosed    = FailedPrecondition("session is closed")

	ErrStoreUnavailable = New(CodeUnavailable, "store unavailable")
	ErrStaleWrite       = New(CodeConflict, "document changed concurrently")
	ErrInvalidToken     = Unauthorized("invalid token")
)

// StoreUnavailable wraps a failed store call. No retry or rollback is implied.
func StoreUnavailable(cause error) error {
	return Wrap(CodeUnavailable, "store unavailable", cause)
}

// StaleWrite reports a read-modify-write that kept losing its version race.
func StaleWrite(cause error) error {
	return Wrap(CodeConflict, "document changed concurrently", cause)
}
