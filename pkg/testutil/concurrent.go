package testutil

import (
	"sync"
	"sync/atomic"

	dErrors "proofshare/pkg/domain-errors"
)

// ConcurrentResult tracks outcomes of concurrent test operations, categorized
// by domain error code.
type ConcurrentResult struct {
	Successes          int32
	Conflicts          int32
	NotFounds          int32
	InvalidTransitions int32
	Others             int32
}

// Total returns the total number of operations executed.
func (r *ConcurrentResult) Total() int32 {
	return r.Successes + r.Conflicts + r.NotFounds + r.InvalidTransitions + r.Others
}

// RunConcurrent executes fn in parallel goroutines and collects results.
// This helper replaces the common pattern of WaitGroup + atomic counters in
// race-condition tests.
func RunConcurrent(goroutines int, fn func(idx int) error) *ConcurrentResult {
	var wg sync.WaitGroup
	var successes, conflicts, notFounds, invalidTransitions, others atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			err := fn(idx)
			switch {
			case err == nil:
				successes.Add(1)
			case dErrors.HasCode(err, dErrors.CodeConflict):
				conflicts.Add(1)
			case dErrors.HasCode(err, dErrors.CodeNotFound):
				notFounds.Add(1)
			case dErrors.HasCode(err, dErrors.CodeInvalidTransition):
				invalidTransitions.Add(1)
			default:
				others.Add(1)
			}
		}(i)
	}

	wg.Wait()

	return &ConcurrentResult{
		Successes:          successes.Load(),
		Conflicts:          conflicts.Load(),
		NotFounds:          notFounds.Load(),
		InvalidTransitions: invalidTransitions.Load(),
		Others:             others.Load(),
	}
}
