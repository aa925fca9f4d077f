/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package replication

import (
	"context"
	"os"

	"github.com/pkg/errors"
)

// ErrDispatcherStopped is returned for jobs submitted after the dispatcher
// has exited.
var ErrDispatcherStopped = errors.New("dispatcher stopped")

type job struct {
	ctx  context.Context
	run  func(ctx context.Context)
	// ran is written before done is closed.
	ran  bool
	done chan struct{}
}

// Dispatcher owns the outbound side of replication. Fan-outs are queued and
// executed one at a time, in submission order.
type Dispatcher struct {
	jobs    chan *job
	stopped chan struct{}
}

// NewDispatcher creates a Dispatcher holding at most queueSize pending jobs.
func NewDispatcher(queueSize int) *Dispatcher {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Dispatcher{
		jobs:    make(chan *job, queueSize),
		stopped: make(chan struct{}),
	}
}

// Run implements ifrit.Runner.
func (d *Dispatcher) Run(signals <-chan os.Signal, ready chan<- struct{}) error {
	defer close(d.stopped)
	close(ready)
	for {
		select {
		case <-signals:
			logger.Info("Replication dispatcher stopping")
			return nil
		case j := <-d.jobs:
			if j.ctx.Err() == nil {
				j.run(j.ctx)
				j.ran = true
			}
			close(j.done)
		}
	}
}

// Submit queues fn and waits until it has run, ctx is done, or the
// dispatcher has stopped. A nil error means fn ran to completion.
func (d *Dispatcher) Submit(ctx context.Context, fn func(ctx context.Context)) error {
	j := &job{ctx: ctx, run: fn, done: make(chan struct{})}
	select {
	case d.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	case <-d.stopped:
		return ErrDispatcherStopped
	}

	select {
	case <-j.done:
	case <-ctx.Done():
		return ctx.Err()
	case <-d.stopped:
		select {
		case <-j.done:
		default:
			return ErrDispatcherStopped
		}
	}
	if !j.ran {
		// the job was dequeued after ctx ended and skipped
		return ctx.Err()
	}
	return nil
}
