// Package batch collects per-item outcomes of a scheduled job.
package batch

import (
	"errors"
	"fmt"
	"sync"
)

type Status string

const (
	StatusOK      Status = "ok"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

type Item struct {
	Key    string `json:"key"`
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`

	err error
}

func (i Item) Err() error { return i.err }

// Result is safe for concurrent use by the workers of one job.
type Result struct {
	Job string

	mu    sync.Mutex
	items []Item
}

func New(job string) *Result {
	return &Result{Job: job}
}

func (r *Result) OK(key string) {
	r.add(Item{Key: key, Status: StatusOK})
}

func (r *Result) Skip(key, reason string) {
	r.add(Item{Key: key, Status: StatusSkipped, Error: reason})
}

// Record stores key as failed when err is non-nil and ok otherwise.
func (r *Result) Record(key string, err error) {
	if err == nil {
		r.OK(key)
		return
	}
	r.add(Item{Key: key, Status: StatusFailed, Error: err.Error(), err: err})
}

func (r *Result) add(item Item) {
	r.mu.Lock()
	r.items = append(r.items, item)
	r.mu.Unlock()
}

func (r *Result) Items() []Item {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Item(nil), r.items...)
}

func (r *Result) Count(status Status) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, item := range r.items {
		if item.Status == status {
			n++
		}
	}
	return n
}

func (r *Result) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// Err joins every item failure, prefixed with its key.
func (r *Result) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, item := range r.items {
		if item.err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", item.Key, item.err))
		}
	}
	return errors.Join(errs...)
}

func (r *Result) String() string {
	return fmt.Sprintf("%s: ok=%d failed=%d skipped=%d",
		r.Job, r.Count(StatusOK), r.Count(StatusFailed), r.Count(StatusSkipped))
}
