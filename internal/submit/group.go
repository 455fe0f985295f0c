package submit

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Outcome is the result of one task run by RunAll.
type Outcome[T any] struct {
	Value T
	Err   error
}

// Task is a unit of work for RunAll.
type Task[T any] func(ctx context.Context) (T, error)

// RunAll runs every task and waits for all of them. A failing task does not
// cancel its siblings. Outcomes are returned in task order; a panic inside a
// task is reported as that task's error. limit <= 0 means no limit.
func RunAll[T any](ctx context.Context, limit int, tasks []Task[T]) []Outcome[T] {
	out := make([]Outcome[T], len(tasks))
	if len(tasks) == 0 {
		return out
	}

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, task := range tasks {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					out[i] = Outcome[T]{Err: fmt.Errorf("task panicked: %v", r)}
				}
			}()
			v, err := task(ctx)
			out[i] = Outcome[T]{Value: v, Err: err}
			return nil
		})
	}
	g.Wait()
	return out
}
