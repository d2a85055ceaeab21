// Package decoder - Grid tensor decoding and score calibration for anchor-based detectors.
package decoder

import "github.com/pkg/errors"

// ErrConfiguration marks tensor, anchor and label mismatches. These are fatal at
// initialization time and must never be retried.
var ErrConfiguration = errors.New("decoder configuration")

// configErrorf wraps ErrConfiguration with a formatted message.
func configErrorf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrConfiguration, format, args...)
}
