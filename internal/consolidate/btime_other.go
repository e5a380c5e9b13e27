//go:build !linux

package consolidate

import (
	"fmt"
	"time"
)

func statxBirthTime(path string) (time.Time, error) {
	return time.Time{}, fmt.Errorf("%w: %s", ErrBirthTimeUnavailable, path)
}
