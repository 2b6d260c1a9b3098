// Package scheduler admits pending keys onto free proxy capacity and streams
// each validation outcome back to the caller.
package scheduler

import (
	"context"
	"errors"
	"sync"

	"keyprobe/internal/core/validator"
	"keyprobe/internal/shared/logger"
	"keyprobe/proxypool"
)

// Validator is the per-key probe the scheduler dispatches to.
type Validator interface {
	Validate(ctx context.Context, key, proxyAddr string) *validator.Outcome
}

// EventType identifies what an Event reports.
type EventType string

const (
	EventAdmitted      EventType = "admitted"
	EventOutcome       EventType = "outcome"
	EventBatchComplete EventType = "batch_complete"
)

// Event is one item of the stream returned by Run. Outcome is set for
// EventOutcome, Stats for EventBatchComplete.
type Event struct {
	Type    EventType
	Key     string
	Proxy   string
	Outcome *validator.Outcome
	Stats   Stats
}

// Stats are the live counters of a batch.
type Stats struct {
	Submitted int  `json:"submitted"`
	Pending   int  `json:"pending"`
	InFlight  int  `json:"in_flight"`
	Completed int  `json:"completed"`
	Stopped   bool `json:"stopped"`
	Finished  bool `json:"finished"`
}

var ErrAlreadyStarted = errors.New("scheduler: Run called more than once")

type completion struct {
	key     string
	slot    int
	proxy   string
	outcome *validator.Outcome
}

// Scheduler runs one batch. All admission and completion accounting happens
// on a single goroutine; validations run on their own goroutines.
type Scheduler struct {
	validator Validator
	pool      *proxypool.Pool
	globalCap int

	stopOnce sync.Once
	stopCh   chan struct{}

	mu      sync.Mutex
	started bool
	stats   Stats
}

// New creates a scheduler. globalCap < 1 is treated as 1.
func New(v Validator, pool *proxypool.Pool, globalCap int) *Scheduler {
	if globalCap < 1 {
		globalCap = 1
	}
	return &Scheduler{
		validator: v,
		pool:      pool,
		globalCap: globalCap,
		stopCh:    make(chan struct{}),
	}
}

// Run starts the batch and returns its event stream. Duplicate keys are
// validated once. The channel is closed right after the single
// EventBatchComplete. Sends never block, so the caller may drain at its own
// pace. Cancelling ctx stops admissions like Stop and also aborts in-flight
// remote calls.
func (s *Scheduler) Run(ctx context.Context, keys []string) (<-chan Event, error) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil, ErrAlreadyStarted
	}
	s.started = true

	pending := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		pending = append(pending, k)
	}
	s.stats = Stats{Submitted: len(pending), Pending: len(pending)}
	s.mu.Unlock()

	events := make(chan Event, 2*len(pending)+1)
	go s.loop(ctx, pending, events)
	return events, nil
}

// Stop suppresses further admissions. In-flight validations still finish and
// report their outcomes. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Stats returns a snapshot of the batch counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Pool exposes the proxy pool for status display.
func (s *Scheduler) Pool() *proxypool.Pool {
	return s.pool
}

func (s *Scheduler) loop(ctx context.Context, pending []string, events chan<- Event) {
	l := logger.WithComponent("Scheduler")
	defer close(events)

	done := make(chan completion, len(pending))
	var wg sync.WaitGroup
	stopCh := s.stopCh
	ctxDone := ctx.Done()
	inFlight, completed := 0, 0
	stopped := false

	l.Info().
		Int("keys", len(pending)).
		Int("proxies", s.pool.Len()).
		Int("global_cap", s.globalCap).
		Msg("Batch started.")

	for {
		select {
		case <-stopCh:
			stopped, stopCh = true, nil
		case <-ctxDone:
			stopped, ctxDone = true, nil
		default:
		}

		for !stopped && len(pending) > 0 && inFlight < s.globalCap {
			slot, addr, ok := s.pool.Acquire()
			if !ok {
				break
			}
			key := pending[0]
			pending = pending[1:]
			inFlight++
			s.publish(len(pending), inFlight, completed, stopped, false)

			l.Debug().Str("key", logger.MaskKey(key)).Str("proxy", proxypool.RedactAddress(addr)).Int("in_flight", inFlight).Msg("Key admitted.")
			events <- Event{Type: EventAdmitted, Key: key, Proxy: addr}

			wg.Add(1)
			go func() {
				defer wg.Done()
				done <- completion{key: key, slot: slot, proxy: addr, outcome: s.validator.Validate(ctx, key, addr)}
			}()
		}

		if inFlight == 0 && (stopped || len(pending) == 0) {
			break
		}

		select {
		case c := <-done:
			inFlight--
			completed++
			s.pool.Release(c.slot)
			out := c.outcome
			if out == nil {
				out = &validator.Outcome{Kind: validator.KindTransportFailure, Key: c.key, Proxy: c.proxy, Phase: validator.PhaseFailed, Error: "no outcome"}
			}
			s.publish(len(pending), inFlight, completed, stopped, false)
			events <- Event{Type: EventOutcome, Key: c.key, Proxy: c.proxy, Outcome: out}
		case <-stopCh:
			stopped, stopCh = true, nil
			s.publish(len(pending), inFlight, completed, stopped, false)
			l.Info().Int("in_flight", inFlight).Int("pending", len(pending)).Msg("Stop requested, draining in-flight validations.")
		case <-ctxDone:
			stopped, ctxDone = true, nil
			s.publish(len(pending), inFlight, completed, stopped, false)
			l.Warn().Int("in_flight", inFlight).Msg("Context cancelled, draining in-flight validations.")
		}
	}

	wg.Wait()
	stats := s.publish(len(pending), 0, completed, stopped, true)
	l.Info().
		Int("completed", completed).
		Int("skipped", len(pending)).
		Bool("stopped", stopped).
		Msg("Batch complete.")
	events <- Event{Type: EventBatchComplete, Stats: stats}
}

func (s *Scheduler) publish(pending, inFlight, completed int, stopped, finished bool) Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Pending = pending
	s.stats.InFlight = inFlight
	s.stats.Completed = completed
	s.stats.Stopped = stopped
	s.stats.Finished = finished
	return s.stats
}
