// Package workload drives publishes and client churn and verifies that
// every client saw exactly the events it should have.
package workload

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

// Record is one published event.
type Record struct {
	Name    string
	Channel string
	Time    int64
	Lost    bool // recording failed; only live members received it
}

// window is one period a client spent disconnected: (from, to].
type window struct {
	from         int64
	to           int64
	open         bool
	failed       bool             // the reconnect replay reported an error
	sweptBefore  int64            // channels were swept at this time
	retainedFrom map[string]int64 // oldest retained event time per channel
}

func (w *window) contains(t int64) bool {
	return t > w.from && (w.open || t <= w.to)
}

type clientLog struct {
	channels map[string]struct{}
	joinedAt int64
	windows  []*window
	received []string
}

// Tracker records what was published and what each client received.
type Tracker struct {
	mu          sync.Mutex
	limit       int
	records     map[string]*Record
	byChannel   map[string][]*Record
	clients     map[string]*clientLog
	sweptBefore int64
	lost        int
	replays     int
	failures    int
}

// NewTracker creates a tracker for a count-bounded store holding limit
// events per channel.
func NewTracker(limit int) *Tracker {
	if limit <= 0 {
		limit = 1
	}

	return &Tracker{
		limit:     limit,
		records:   make(map[string]*Record),
		byChannel: make(map[string][]*Record),
		clients:   make(map[string]*clientLog),
	}
}

// Joined registers a client and its channels at time at.
func (t *Tracker) Joined(client string, channels []string, at int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	set := make(map[string]struct{}, len(channels))
	for _, ch := range channels {
		set[ch] = struct{}{}
	}
	t.clients[client] = &clientLog{channels: set, joinedAt: at}
}

// Published records a publish before it is handed to the transport.
func (t *Tracker) Published(r Record) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec := r
	t.records[r.Name] = &rec
	t.byChannel[r.Channel] = append(t.byChannel[r.Channel], &rec)
}

// Lost marks a publish whose recording failed.
func (t *Tracker) Lost(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if r, ok := t.records[name]; ok && !r.Lost {
		r.Lost = true
		t.lost++
	}
}

// Received records one delivery to client.
func (t *Tracker) Received(client, name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if c, ok := t.clients[client]; ok {
		c.received = append(c.received, name)
	}
}

// Disconnected opens a disconnect window for client at time at.
func (t *Tracker) Disconnected(client string, at int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if c, ok := t.clients[client]; ok {
		c.windows = append(c.windows, &window{from: at, open: true})
	}
}

// Resumed closes the open window of client at time at.
func (t *Tracker) Resumed(client string, at int64, failed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.clients[client]
	if !ok || len(c.windows) == 0 {
		return
	}
	w := c.windows[len(c.windows)-1]
	if !w.open {
		return
	}

	w.open = false
	w.to = at
	w.failed = failed
	w.sweptBefore = t.sweptBefore
	w.retainedFrom = make(map[string]int64, len(c.channels))
	for ch := range c.channels {
		w.retainedFrom[ch] = t.retainedFromLocked(ch)
	}

	t.replays++
	if failed {
		t.failures++
	}
}

// Swept records that every channel was swept at time at.
func (t *Tracker) Swept(at int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sweptBefore = at
}

// retainedFromLocked returns the time of the oldest event the store still
// holds for channel, given the count bound and the last sweep.
func (t *Tracker) retainedFromLocked(channel string) int64 {
	var kept []*Record
	for _, r := range t.byChannel[channel] {
		if !r.Lost && r.Time > t.sweptBefore {
			kept = append(kept, r)
		}
	}
	if len(kept) <= t.limit {
		return math.MinInt64
	}

	return kept[len(kept)-t.limit].Time
}

// Stats summarizes the tracked workload.
type Stats struct {
	Published int
	Lost      int
	Received  int
	Replays   int
	Failures  int
}

// Stats returns current counters.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Stats{
		Published: len(t.records),
		Lost:      t.lost,
		Replays:   t.replays,
		Failures:  t.failures,
	}
	for _, c := range t.clients {
		s.Received += len(c.received)
	}

	return s
}

// Verify checks every client's deliveries against what it should have
// received: each live event, plus each missed event still retained, exactly
// once and in publish order per channel.
func (t *Tracker) Verify() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make([]string, 0, len(t.clients))
	for id := range t.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var errs []error
	for _, id := range ids {
		if err := t.verifyClient(id, t.clients[id]); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (t *Tracker) verifyClient(id string, c *clientLog) error {
	var errs []error
	seen := make(map[string]struct{}, len(c.received))
	last := make(map[string]int64)

	for _, name := range c.received {
		r, ok := t.records[name]
		if !ok {
			errs = append(errs, fmt.Errorf("client %s: unknown event %q", id, name))
			continue
		}
		if _, dup := seen[name]; dup {
			errs = append(errs, fmt.Errorf("client %s: duplicate event %q", id, name))
			continue
		}
		seen[name] = struct{}{}

		if _, member := c.channels[r.Channel]; !member {
			errs = append(errs, fmt.Errorf("client %s: event %q from foreign channel %s", id, name, r.Channel))
		}
		if r.Time <= last[r.Channel] {
			errs = append(errs, fmt.Errorf("client %s: event %q out of order on %s", id, name, r.Channel))
		}
		last[r.Channel] = r.Time
	}

	for ch := range c.channels {
		for _, r := range t.byChannel[ch] {
			if r.Time <= c.joinedAt {
				continue
			}

			_, got := seen[r.Name]
			required, allowed := c.expectation(r)
			switch {
			case required && !got:
				errs = append(errs, fmt.Errorf("client %s: missed event %q at %d", id, r.Name, r.Time))
			case got && !allowed:
				errs = append(errs, fmt.Errorf("client %s: unexpected event %q at %d", id, r.Name, r.Time))
			}
		}
	}

	return errors.Join(errs...)
}

// expectation reports whether r must be received and whether it may be.
func (c *clientLog) expectation(r *Record) (required, allowed bool) {
	for _, w := range c.windows {
		if !w.contains(r.Time) {
			continue
		}
		if w.open || r.Lost {
			return false, false
		}
		if w.failed || r.Time <= w.sweptBefore || r.Time < w.retainedFrom[r.Channel] {
			return false, true
		}

		return true, true
	}

	return true, true
}
