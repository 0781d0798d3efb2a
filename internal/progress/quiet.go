package progress

import (
	"context"
	"sync"

	"github.com/ndisidore/inpdeck/pkg/parser"
)

// Quiet drains events without rendering them. Parse failures still reach
// the user through the returned errors.
type Quiet struct {
	wg sync.WaitGroup
}

// Start is a no-op for Quiet.
func (*Quiet) Start(_ context.Context) error { return nil }

// Attach drains ch in the background.
func (q *Quiet) Attach(_ context.Context, _ string, ch <-chan parser.Event) error {
	q.wg.Go(func() {
		//revive:disable-next-line:empty-block // draining
		for range ch {
		}
	})
	return nil
}

// Seal is a no-op for Quiet.
func (*Quiet) Seal() {}

// Wait blocks until every attached channel is closed.
func (q *Quiet) Wait() error {
	q.wg.Wait()
	return nil
}
