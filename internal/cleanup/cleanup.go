// Package cleanup holds housekeeping jobs run on a timer by the server
// process.
package cleanup

import (
	"context"
	"time"

	"github.com/epistola/epistola-auth/internal/store"
)

// unverifiedMaxAge is how long an account may stay unverified before it
// is reclaimed.
const unverifiedMaxAge = 24 * time.Hour

// DeleteUnverified removes accounts that never confirmed their email
// within the grace period and reports how many were deleted.
func DeleteUnverified(ctx context.Context, st store.Store, now time.Time) (int64, error) {
	return st.DeleteUnverifiedBefore(ctx, now.Add(-unverifiedMaxAge))
}

// Run sweeps on the given interval until ctx is cancelled. Results go to
// logf so the caller picks the logger.
func Run(ctx context.Context, st store.Store, interval time.Duration, logf func(format string, v ...any)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := DeleteUnverified(ctx, st, time.Now().UTC())
			if err != nil {
				logf("cleanup: delete unverified: %v", err)
				continue
			}
			if n > 0 {
				logf("cleanup: removed %d unverified accounts", n)
			}
		}
	}
}
