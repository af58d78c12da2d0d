package walletindex

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// FirstIndex is handed out when no counter has been persisted yet.
const FirstIndex int64 = 1

// ErrStoreUnavailable is returned when the counter cannot be read, parsed or
// written. Callers must not fall back to a default index in that case.
var ErrStoreUnavailable = errors.New("walletindex: store unavailable")

// UpdateFunc receives the persisted counter (ok is false when none exists yet)
// and returns the value to persist in its place.
type UpdateFunc func(current int64, ok bool) (int64, error)

// Store persists the "next index" counter. Update must run fn and persist its
// result atomically with respect to every other Update on the same counter,
// including those issued by other processes sharing the backend.
type Store interface {
	Load(ctx context.Context) (current int64, ok bool, err error)
	Update(ctx context.Context, fn UpdateFunc) error
}

func parseCounter(raw string) (int64, error) {
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: corrupt counter %q", ErrStoreUnavailable, raw)
	}
	if value < FirstIndex {
		return 0, fmt.Errorf("%w: counter %d below %d", ErrStoreUnavailable, value, FirstIndex)
	}
	return value, nil
}

func formatCounter(value int64) string {
	return strconv.FormatInt(value, 10)
}

func unavailable(op string, err error) error {
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}
