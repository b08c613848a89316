package events

import (
	"errors"
	"fmt"
)

// Stable error codes surfaced to clients inside ERROR envelopes.
const (
	CodeNotYourTurn           = "NOT_YOUR_TURN"
	CodeNoActiveHand          = "NO_ACTIVE_HAND"
	CodeCannotFoldFreeCheck   = "CANNOT_FOLD_FREE_CHECK"
	CodeInvalidAmount         = "INVALID_AMOUNT"
	CodeInvalidAction         = "INVALID_ACTION"
	CodeBuyinOutOfRange       = "BUYIN_OUT_OF_RANGE"
	CodeSeatOccupied          = "SEAT_OCCUPIED"
	CodeAlreadySeated         = "ALREADY_SEATED"
	CodeDuplicateRegistration = "DUPLICATE_REGISTRATION"
	CodeTournamentFull        = "TOURNAMENT_FULL"
	CodeRegistrationClosed    = "REGISTRATION_CLOSED"
	CodeMinPlayersNotMet      = "MIN_PLAYERS_NOT_MET"
	CodeInvalidStatus         = "INVALID_STATUS"
	CodeNotFound              = "NOT_FOUND"
	CodeLockTimeout           = "LOCK_TIMEOUT"
	CodeLockNotHeld           = "LOCK_NOT_HELD"
	CodeConservation          = "CONSERVATION_VIOLATION"
	CodeHashMismatch          = "HASH_MISMATCH"
	CodeNoSnapshot            = "NO_SNAPSHOT"
)

// DomainError is a recoverable error with a stable code for the wire and a
// human-readable message.
type DomainError struct {
	Code    string
	Message string
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Errorf builds a DomainError with a formatted message.
func Errorf(code, format string, args ...any) *DomainError {
	return &DomainError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the stable code from err, or "INTERNAL" for anything that
// is not a DomainError.
func CodeOf(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return "INTERNAL"
}
