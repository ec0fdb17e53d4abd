package channel

import (
	"context"
	"log"
	"sync/atomic"

	"github.com/avast/retry-go/v4"
)

// Supervisor drives one Channel's state machine (spec.md §4.9): Init →
// Running → (Backoff → Running)* → Stopping/Terminated. retry-go supplies
// the fixed-delay, bounded-attempts backoff loop so the restart policy
// doesn't need a hand-rolled sleep.
type Supervisor struct {
	channel *Channel
	state   atomic.Int32
}

// NewSupervisor wraps an already-Init'd Channel.
func NewSupervisor(c *Channel) *Supervisor {
	s := &Supervisor{channel: c}
	s.setState(StateRunning)
	return s
}

func (s *Supervisor) setState(st State) {
	s.state.Store(int32(st))
}

// State reports the current lifecycle state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// StopChannel requests the wrapped Channel to stop; Run then exits once the
// decode loop observes it.
func (s *Supervisor) StopChannel() {
	s.channel.Stop()
}

// Run blocks until the channel is stopped or terminated after exhausting
// its retry budget (spec.md §4.9 "After 5 consecutive failures →
// Terminated").
func (s *Supervisor) Run(ctx context.Context) {
	attempt := 0

	err := retry.Do(
		func() error {
			if s.channel.stopped() {
				return retry.Unrecoverable(nil)
			}
			s.setState(StateRunning)
			err := s.channel.runDecodeLoop(ctx)
			if err == nil {
				if s.channel.stopped() {
					return retry.Unrecoverable(nil)
				}
				// A nil loop return without a stop request comes from ctx
				// cancellation; it is still reported as an error, not a
				// success. End of stream arrives as a non-nil error below.
				return retryableEOF
			}
			attempt++
			log.Printf("[Supervisor:%s] decode loop failed (attempt %d/%d): %v",
				s.channel.opts.ID, attempt, s.channel.opts.MaxFailures, err)
			s.setState(StateBackoff)
			return err
		},
		retry.Attempts(uint(s.channel.opts.MaxFailures)),
		retry.Delay(s.channel.opts.BackoffDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return err != nil
		}),
		retry.Context(ctx),
	)

	if s.channel.stopped() {
		s.setState(StateStopping)
		s.channel.Teardown()
		s.setState(StateTerminated)
		return
	}

	if err != nil {
		log.Printf("[Supervisor:%s] exhausted retry budget, terminating: %v", s.channel.opts.ID, err)
	}
	s.setState(StateTerminated)
	s.channel.Teardown()
}

// retryableEOF marks a nil loop return that was not a stop request (the
// context was cancelled) as an error rather than a success.
var retryableEOF = errEOF{}

type errEOF struct{}

func (errEOF) Error() string { return "decode loop exited without a stop request" }
