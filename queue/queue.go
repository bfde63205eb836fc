package queue

import (
	"context"
	"fmt"

	"ragbase/types"
)

// Publisher hands processing jobs to the extraction worker.
type Publisher interface {
	Publish(ctx context.Context, job types.ProcessingJob) error
}

// Disabled rejects every job. It stands in when no broker is configured, so
// deferred-lane uploads fail through the normal retry path instead of hanging.
type Disabled struct{}

func (Disabled) Publish(context.Context, types.ProcessingJob) error {
	return fmt.Errorf("%w: no broker configured", types.ErrQueueUnavailable)
}
