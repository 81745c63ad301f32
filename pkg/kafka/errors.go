package kafka

import (
	"errors"

	"github.com/cenkalti/backoff/v4"
)

// Permanent marks err as not worth retrying. The consumer sends such messages
// straight to the DLQ (when configured) and commits the offset.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// IsPermanent reports whether err, or anything it wraps, was marked with Permanent.
func IsPermanent(err error) bool {
	var perm *backoff.PermanentError
	return errors.As(err, &perm)
}
