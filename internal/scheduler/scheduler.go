// Package scheduler implements two cooperative-thread primitives: a
// heartbeat ring ticked at a fixed interval, and a callout wheel for
// one-shot delayed callbacks. Both run on the single goroutine that also
// drives command dispatch — Scheduler.Tick is meant to be invoked from
// that one goroutine's loop, never called concurrently with itself.
package scheduler

import (
	"container/heap"
	"log/slog"
	"time"

	"github.com/emberwood/driver/internal/metrics"
	"github.com/emberwood/driver/internal/registry"
)

// HeartbeatFunc is called once per tick for every object with heartbeats
// enabled.
type HeartbeatFunc func(obj *registry.Object) error

// CalloutFunc is a one-shot delayed callback.
type CalloutFunc func()

type calloutEntry struct {
	id       int64
	due      time.Time
	seq      int64
	fn       CalloutFunc
	cancelled bool
}

// calloutHeap orders pending callouts by due time, then by sequence number
// so same-due-time callouts fire FIFO.
type calloutHeap []*calloutEntry

func (h calloutHeap) Len() int { return len(h) }
func (h calloutHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}
	return h[i].due.Before(h[j].due)
}
func (h calloutHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *calloutHeap) Push(x any)   { *h = append(*h, x.(*calloutEntry)) }
func (h *calloutHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Scheduler owns the heartbeat ring and callout wheel. It is not safe for
// concurrent use by design: every call is expected to come from the single
// cooperative goroutine.
type Scheduler struct {
	log *slog.Logger
	m   *metrics.Metrics

	heartbeatFn HeartbeatFunc
	ring        []*registry.Object
	ringIndex   map[*registry.Object]int

	callouts    calloutHeap
	byID        map[int64]*calloutEntry
	nextID      int64
	nextSeq     int64
}

// New builds a Scheduler. heartbeatFn is invoked for every enabled object
// on each tick.
func New(log *slog.Logger, m *metrics.Metrics, heartbeatFn HeartbeatFunc) *Scheduler {
	return &Scheduler{
		log:         log,
		m:           m,
		heartbeatFn: heartbeatFn,
		ringIndex:   make(map[*registry.Object]int),
		byID:        make(map[int64]*calloutEntry),
	}
}

// SetHeartbeat enables or disables obj's participation in the heartbeat
// ring.
func (s *Scheduler) SetHeartbeat(obj *registry.Object, enable bool) {
	if enable {
		if _, already := s.ringIndex[obj]; already {
			return
		}
		s.ringIndex[obj] = len(s.ring)
		s.ring = append(s.ring, obj)
	} else {
		idx, ok := s.ringIndex[obj]
		if !ok {
			return
		}
		last := len(s.ring) - 1
		s.ring[idx] = s.ring[last]
		s.ringIndex[s.ring[idx]] = idx
		s.ring = s.ring[:last]
		delete(s.ringIndex, obj)
	}
	if s.m != nil {
		s.m.SetHeartbeatObjectsActive(len(s.ring))
	}
}

// HeartbeatEnabled reports whether obj currently participates in the ring.
func (s *Scheduler) HeartbeatEnabled(obj *registry.Object) bool {
	_, ok := s.ringIndex[obj]
	return ok
}

// Tick fires one heartbeat round, in round-robin ring order, and fires
// every callout now due. A panic or error from one object's heartbeat
// disables that object's heartbeat and is logged; it never halts the tick
// for the remaining objects.
func (s *Scheduler) Tick(now time.Time) {
	if s.m != nil {
		s.m.IncHeartbeatTick()
	}
	s.runHeartbeats()
	s.fireDueCallouts(now)
}

func (s *Scheduler) runHeartbeats() {
	// Snapshot: a heartbeat handler may itself call SetHeartbeat, which
	// would otherwise mutate s.ring mid-iteration.
	round := make([]*registry.Object, len(s.ring))
	copy(round, s.ring)

	for _, obj := range round {
		if _, stillEnabled := s.ringIndex[obj]; !stillEnabled {
			continue
		}
		if err := s.safeHeartbeat(obj); err != nil {
			if s.log != nil {
				s.log.Error("heartbeat failed, disabling", "blueprint", obj.BlueprintPath(), "object", obj.ObjectID(), "error", err)
			}
			if s.m != nil {
				s.m.IncHeartbeatError(obj.BlueprintPath())
			}
			s.SetHeartbeat(obj, false)
		}
	}
}

func (s *Scheduler) safeHeartbeat(obj *registry.Object) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError{r}
		}
	}()
	if s.heartbeatFn == nil {
		return nil
	}
	return s.heartbeatFn(obj)
}

type panicError struct{ v any }

func (p panicError) Error() string { return "panic in heartbeat handler" }

// CallOut schedules fn to run at least delay from now, returning an id that
// can be passed to RemoveCallOut.
func (s *Scheduler) CallOut(fn CalloutFunc, delay time.Duration) int64 {
	s.nextID++
	s.nextSeq++
	entry := &calloutEntry{
		id:  s.nextID,
		due: time.Now().Add(delay),
		seq: s.nextSeq,
		fn:  fn,
	}
	heap.Push(&s.callouts, entry)
	s.byID[entry.id] = entry
	if s.m != nil {
		s.m.IncCalloutScheduled()
		s.m.SetCalloutsPending(len(s.byID))
	}
	return entry.id
}

// RemoveCallOut cancels a pending callout. It is safe to call even after
// the callout has already fired; in that case it returns false.
func (s *Scheduler) RemoveCallOut(id int64) bool {
	entry, ok := s.byID[id]
	if !ok || entry.cancelled {
		return false
	}
	entry.cancelled = true
	delete(s.byID, id)
	if s.m != nil {
		s.m.IncCalloutCancelled()
		s.m.SetCalloutsPending(len(s.byID))
	}
	return true
}

func (s *Scheduler) fireDueCallouts(now time.Time) {
	for s.callouts.Len() > 0 {
		next := s.callouts[0]
		if next.due.After(now) {
			return
		}
		heap.Pop(&s.callouts)
		if next.cancelled {
			continue
		}
		delete(s.byID, next.id)
		if s.m != nil {
			s.m.IncCalloutFired()
			s.m.SetCalloutsPending(len(s.byID))
		}
		next.fn()
	}
}

// PendingCallouts returns the number of callouts not yet fired or
// cancelled.
func (s *Scheduler) PendingCallouts() int { return len(s.byID) }
