package routing

import (
	"context"

	"github.com/canopy-network/routing/lib"
	"github.com/canopy-network/routing/message"
	"golang.org/x/sync/errgroup"
)

// VerifyBatch() checks the signatures of the messages with up to workers goroutines.
// The result holds one error (or nil) per message, in input order; a cancelled context fails the unchecked ones
func VerifyBatch(ctx context.Context, msgs []*message.RoutingMessage, workers int) []lib.ErrorI {
	errs := make([]lib.ErrorI, len(msgs))
	group, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		group.SetLimit(workers)
	}
	for i, m := range msgs {
		group.Go(func() error {
			if ctx.Err() != nil {
				errs[i] = message.ErrInvalidMessage("verification cancelled")
				return nil
			}
			errs[i] = m.VerifySignature()
			return nil
		})
	}
	_ = group.Wait()
	return errs
}
