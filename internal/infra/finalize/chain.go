package finalize

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/you-humble/recuploader/internal/domain"
)

type Finalizer interface {
	Finalize(ctx context.Context, in domain.FinalizeInput) error
}

type Step struct {
	Name      string
	Finalizer Finalizer
}

// Chain runs every step concurrently. One failing step does not cancel the
// others; all failures are reported together.
type Chain struct {
	steps []Step
}

func NewChain(steps ...Step) *Chain {
	kept := make([]Step, 0, len(steps))
	for _, s := range steps {
		if s.Finalizer != nil {
			kept = append(kept, s)
		}
	}
	return &Chain{steps: kept}
}

func (c *Chain) Len() int { return len(c.steps) }

func (c *Chain) Finalize(ctx context.Context, in domain.FinalizeInput) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)

	for _, step := range c.steps {
		g.Go(func() error {
			if err := step.Finalizer.Finalize(ctx, in); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", step.Name, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}
