// Package dispatch serializes motion requests from every client session onto
// a single goroutine that owns the planner, the tracker writes and the rig.
package dispatch

import (
	"context"
	"errors"
	"sync"

	"github.com/earti/camlift/internal/debug"
	"github.com/earti/camlift/internal/logic/command"
	"github.com/earti/camlift/internal/logic/motion"
	"github.com/earti/camlift/internal/logic/position"
)

// ErrStopped is returned by Submit once Run has returned.
var ErrStopped = errors.New("dispatcher stopped")

// Planner executes one request to completion.
type Planner interface {
	Execute(req command.Request) error
	State() motion.State
}

// Result is the state observed right after a request completed.
type Result struct {
	Position position.Snapshot
	State    motion.State
}

type reply struct {
	res Result
	err error
}

type job struct {
	req  command.Request
	done chan reply
}

// Dispatcher is a bounded single-consumer queue in front of a Planner.
type Dispatcher struct {
	planner Planner
	pos     *position.Tracker
	jobs    chan job

	stopped  chan struct{}
	stopOnce sync.Once
}

// New returns a dispatcher whose queue holds up to queued waiting requests.
func New(planner Planner, tracker *position.Tracker, queued int) *Dispatcher {
	if queued < 1 {
		queued = 1
	}
	return &Dispatcher{
		planner: planner,
		pos:     tracker,
		jobs:    make(chan job, queued),
		stopped: make(chan struct{}),
	}
}

// Submit queues req and waits for it to finish. While the queue is full it
// blocks until ctx ends. Cancelling ctx after the request was queued only
// abandons the wait; the request still runs.
func (d *Dispatcher) Submit(ctx context.Context, req command.Request) (Result, error) {
	select {
	case <-d.stopped:
		return Result{}, ErrStopped
	default:
	}

	j := job{req: req, done: make(chan reply, 1)}
	select {
	case d.jobs <- j:
	case <-d.stopped:
		return Result{}, ErrStopped
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	select {
	case r := <-j.done:
		return r.res, r.err
	case <-d.stopped:
		// Run replies before it stops, so a finished job is never lost here.
		select {
		case r := <-j.done:
			return r.res, r.err
		default:
			return Result{}, ErrStopped
		}
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Run consumes the queue until ctx ends or the planner reports a hardware
// fault. A fault is returned; a cancelled context is a clean stop (nil).
func (d *Dispatcher) Run(ctx context.Context) error {
	defer d.stop()
	debug.Verbose("Dispatcher: running (queue=%d)", cap(d.jobs))

	for {
		select {
		case <-ctx.Done():
			debug.Verbose("Dispatcher: context done, %d requests dropped", len(d.jobs))
			return nil
		case j := <-d.jobs:
			debug.Live("Dispatcher: executing %s", j.req)
			err := d.planner.Execute(j.req)
			j.done <- reply{res: d.result(), err: err}

			var fault *motion.FaultError
			if errors.As(err, &fault) {
				debug.Error(err)
				return err
			}
			if err != nil {
				debug.Live("Dispatcher: %s rejected: %v", j.req, err)
			}
		}
	}
}

// Pending returns the number of queued requests not yet started.
func (d *Dispatcher) Pending() int {
	return len(d.jobs)
}

// Done is closed once Run has returned.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.stopped
}

func (d *Dispatcher) result() Result {
	return Result{Position: d.pos.Snapshot(), State: d.planner.State()}
}

func (d *Dispatcher) stop() {
	d.stopOnce.Do(func() { close(d.stopped) })
}
