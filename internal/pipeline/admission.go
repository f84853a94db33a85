package pipeline

import (
	"context"
	"time"
)

// admission bounds concurrent predictions with two slot channels: queueCh
// holds everyone admitted into the building, flightCh holds those actually
// executing. A full queue or an expired wait surfaces as tooBusyError.
type admission struct {
	queueCh  chan struct{}
	flightCh chan struct{}
	maxWait  time.Duration
}

func newAdmission(workers, queueDepth int, maxWait time.Duration) *admission {
	return &admission{
		queueCh:  make(chan struct{}, queueDepth),
		flightCh: make(chan struct{}, workers),
		maxWait:  maxWait,
	}
}

// begin reserves a queue slot and then an in-flight slot. Returns a release
// func to be deferred.
func (a *admission) begin(ctx context.Context) (func(), error) {
	// Fast path: respect an already-canceled context
	if err := ctx.Err(); err != nil {
		return func() {}, err
	}

	timer := time.NewTimer(a.maxWait)
	defer timer.Stop()
	select {
	case a.queueCh <- struct{}{}:
		// reserved queue slot
	case <-ctx.Done():
		return func() {}, ctx.Err()
	case <-timer.C:
		return func() {}, tooBusyError{wait: a.maxWait}
	}

	acquired := false
	defer func() {
		if !acquired {
			<-a.queueCh
		}
	}()
	// Check for cancellation again before blocking on a flight slot
	if err := ctx.Err(); err != nil {
		return func() {}, err
	}
	timer2 := time.NewTimer(a.maxWait)
	defer timer2.Stop()
	select {
	case a.flightCh <- struct{}{}:
		acquired = true
		return func() { <-a.flightCh; <-a.queueCh }, nil
	case <-ctx.Done():
		return func() {}, ctx.Err()
	case <-timer2.C:
		return func() {}, tooBusyError{wait: a.maxWait}
	}
}

// queueLen approximates how many admitted requests are still waiting for a
// flight slot. Reads are unsynchronized; a release in progress can skew the
// count by one.
func (a *admission) queueLen() int {
	n := len(a.queueCh) - len(a.flightCh)
	if n < 0 {
		n = 0
	}
	return n
}

func (a *admission) inflight() int { return len(a.flightCh) }
