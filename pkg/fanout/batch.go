package fanout

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// TripOutcome is the per-trip result of a batch quote run.
type TripOutcome struct {
	Request TripRequest
	Result  Result
	Err     error
}

// BatchQuoter quotes several trips concurrently, each through its own
// aggregation session, with a bound on how many trips run at once.
type BatchQuoter struct {
	dispatcher *Dispatcher
	maxTrips   int
}

// NewBatchQuoter creates a batch quoter. maxTrips bounds the number of
// concurrently aggregating trips, on top of the worker pool's own cap.
func NewBatchQuoter(d *Dispatcher, maxTrips int) *BatchQuoter {
	if maxTrips <= 0 {
		maxTrips = 4
	}
	return &BatchQuoter{
		dispatcher: d,
		maxTrips:   maxTrips,
	}
}

// QuoteAll runs one aggregation per trip request and returns per-trip
// outcomes in input order. Backend failures are recorded per trip and do
// not stop the batch; an interrupted join cancels the remaining trips.
func (bq *BatchQuoter) QuoteAll(ctx context.Context, reqs []TripRequest) ([]TripOutcome, error) {
	outcomes := make([]TripOutcome, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bq.maxTrips)

	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			outcomes[i].Request = req

			session, err := bq.dispatcher.Dispatch(gctx, req)
			if err != nil {
				outcomes[i].Err = err
				return nil
			}

			result, err := session.Wait(gctx)
			outcomes[i].Result = result
			outcomes[i].Err = err

			// Only infrastructure-level interruption stops the batch.
			if errors.Is(err, ErrInterrupted) {
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}
