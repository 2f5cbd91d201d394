package workflow

import (
	"context"
	"sync"
)

type LookupState int

const (
	LookupPending LookupState = iota
	LookupFound
	LookupAbsent
)

func (s LookupState) String() string {
	switch s {
	case LookupPending:
		return "pending"
	case LookupFound:
		return "found"
	case LookupAbsent:
		return "absent"
	}
	return "unknown"
}

type LookupResult struct {
	State      LookupState
	CustomerID string
}

// CustomerLookup is the background "do I already have a payment customer"
// check. A failed lookup reports LookupAbsent just like a lookup that found
// nothing; Err keeps the failure for diagnostics only.
type CustomerLookup struct {
	done chan struct{}

	mu     sync.Mutex
	result LookupResult
	err    error
}

func newCustomerLookup() *CustomerLookup {
	return &CustomerLookup{done: make(chan struct{})}
}

// resolvedLookup returns an already finished lookup
func resolvedLookup(res LookupResult) *CustomerLookup {
	l := newCustomerLookup()
	l.finish(res, nil)
	return l
}

func (l *CustomerLookup) finish(res LookupResult, err error) {
	l.mu.Lock()
	l.result = res
	l.err = err
	l.mu.Unlock()
	close(l.done)
}

// Done is closed once the lookup has a result
func (l *CustomerLookup) Done() <-chan struct{} {
	return l.done
}

// Result returns the current state without blocking
func (l *CustomerLookup) Result() LookupResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.result
}

// Wait blocks until the lookup finishes or ctx ends, whichever is first
func (l *CustomerLookup) Wait(ctx context.Context) LookupResult {
	select {
	case <-l.done:
	case <-ctx.Done():
	}
	return l.Result()
}

func (l *CustomerLookup) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}
