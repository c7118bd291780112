package concurrency

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	deperrors "github.com/catherinevee/depmgr/internal/shared/errors"
)

// Task is a unit of work. Tasks report their own results; they do not fail
// the batch.
type Task func(ctx context.Context)

// Runner executes a batch of tasks and returns once all have finished. The
// returned error joins the panics recovered from tasks, in task order.
type Runner interface {
	Run(ctx context.Context, limit int, tasks ...Task) error
}

// Sequential runs tasks one after another in submission order
type Sequential struct{}

// Run implements Runner
func (Sequential) Run(ctx context.Context, _ int, tasks ...Task) error {
	errs := make([]error, len(tasks))
	for i, task := range tasks {
		if task != nil {
			errs[i] = runTask(ctx, i, task)
		}
	}
	return errors.Join(errs...)
}

// Pool runs tasks on a bounded set of goroutines
type Pool struct {
	// MaxWorkers caps every batch. Zero means no cap beyond the batch limit.
	MaxWorkers int
}

// NewPool creates a pool capped at maxWorkers
func NewPool(maxWorkers int) *Pool {
	return &Pool{MaxWorkers: maxWorkers}
}

// Run implements Runner. A limit of zero or less runs every task at once.
func (p *Pool) Run(ctx context.Context, limit int, tasks ...Task) error {
	if len(tasks) == 0 {
		return nil
	}
	if limit <= 0 || limit > len(tasks) {
		limit = len(tasks)
	}
	if p != nil && p.MaxWorkers > 0 && limit > p.MaxWorkers {
		limit = p.MaxWorkers
	}

	// each slot is written by exactly one goroutine
	errs := make([]error, len(tasks))
	var g errgroup.Group
	g.SetLimit(limit)
	for i, task := range tasks {
		if task == nil {
			continue
		}
		i, task := i, task
		g.Go(func() error {
			errs[i] = runTask(ctx, i, task)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func runTask(ctx context.Context, i int, task Task) error {
	return deperrors.Guard(fmt.Sprintf("task %d", i), func() error {
		task(ctx)
		return nil
	})
}

// Map runs fn for every item on the runner and returns results in input
// order regardless of completion order. An item whose fn panicked keeps the
// zero result and its panic is part of the returned error.
func Map[T, R any](ctx context.Context, runner Runner, limit int, items []T, fn func(context.Context, T) R) ([]R, error) {
	results := make([]R, len(items))
	tasks := make([]Task, len(items))
	for i := range items {
		i := i
		tasks[i] = func(ctx context.Context) {
			results[i] = fn(ctx, items[i])
		}
	}
	err := runner.Run(ctx, limit, tasks...)
	return results, err
}
