package domain

import "errors"

// Error taxonomy shared by the cache, allocation and transport layers.
// Business outcomes (sold out, already claimed, window closed) are returned
// as values; callers match them with errors.Is.
var (
	ErrNotFound         = errors.New("not found")
	ErrLockUnavailable  = errors.New("lock unavailable")
	ErrSoldOut          = errors.New("voucher sold out")
	ErrAlreadyClaimed   = errors.New("voucher already claimed by user")
	ErrWindowClosed     = errors.New("seckill window closed")
	ErrInvalidInput     = errors.New("invalid input")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// IsBusinessOutcome reports whether err is a typed claim outcome rather than
// an infrastructure failure.
func IsBusinessOutcome(err error) bool {
	return errors.Is(err, ErrSoldOut) ||
		errors.Is(err, ErrAlreadyClaimed) ||
		errors.Is(err, ErrWindowClosed) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidInput)
}
