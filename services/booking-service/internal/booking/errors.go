package booking

import "errors"

// Validation reasons, in the order the validator checks them.
var (
	ErrUnknownResource  = errors.New("unknown or inactive resource")
	ErrDurationMismatch = errors.New("duration does not match service")
	ErrStaffConflict    = errors.New("staff member is busy")
	ErrRoomConflict     = errors.New("room is at capacity")
	ErrPastSlot         = errors.New("slot starts in the past")
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrForbidden         = errors.New("forbidden")
	// ErrConflict means a concurrent writer won the slot at commit time.
	ErrConflict           = errors.New("conflict")
	ErrNotFound           = errors.New("booking not found")
	ErrStoreUnavailable   = errors.New("store unavailable")
	ErrCatalogUnavailable = errors.New("catalog unavailable")
	ErrIntegrityViolation = errors.New("ledger integrity violation")
)

// codes is checked in order; the first match names the error. ErrConflict
// comes before the validation reasons it may be joined with.
var codes = []struct {
	err  error
	code string
}{
	{ErrConflict, "conflict"},
	{ErrUnknownResource, "unknown_resource"},
	{ErrDurationMismatch, "duration_mismatch"},
	{ErrStaffConflict, "staff_conflict"},
	{ErrRoomConflict, "room_conflict"},
	{ErrPastSlot, "past_slot"},
	{ErrInvalidTransition, "invalid_transition"},
	{ErrForbidden, "forbidden"},
	{ErrNotFound, "not_found"},
	{ErrCatalogUnavailable, "catalog_unavailable"},
	{ErrStoreUnavailable, "store_unavailable"},
	{ErrIntegrityViolation, "integrity_violation"},
}

// Code returns a stable machine-readable name for err, or "internal".
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}

// IsValidation reports whether err is a rejection the caller can fix by
// choosing a different slot.
func IsValidation(err error) bool {
	return errors.Is(err, ErrUnknownResource) ||
		errors.Is(err, ErrDurationMismatch) ||
		errors.Is(err, ErrStaffConflict) ||
		errors.Is(err, ErrRoomConflict) ||
		errors.Is(err, ErrPastSlot)
}

// Retryable reports transient infrastructure failures. Nothing in this
// service retries them; callers may.
func Retryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrCatalogUnavailable)
}
