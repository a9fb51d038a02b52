// Package retry implements the one mandatory outer retry of a whole
// pull-apply-push sync cycle: on a first failure the cycle runs once
// more against fresh state; a second failure propagates verbatim. Any
// broader backoff policy is the caller's responsibility.
package retry

import (
	"context"

	"github.com/fireflightsync/fireflight/pkg/log"
)

// Sync is one attempt at a full pull-apply-push cycle. It must pull fresh
// state itself on every call — Once never replays a cached attempt.
type Sync func(ctx context.Context) error

// Once runs sync, and if it fails, runs it exactly one more time before
// giving up. It never retries more than once regardless of the error
// kind; callers that need kind-specific handling (e.g. skip retry on a
// non-transient error) should do so inside sync itself.
func Once(ctx context.Context, sync Sync) error {
	err := sync(ctx)
	if err == nil {
		return nil
	}
	log.Logger.Warn().Err(err).Msg("sync failed, retrying once")

	if err := ctx.Err(); err != nil {
		return err
	}
	return sync(ctx)
}
