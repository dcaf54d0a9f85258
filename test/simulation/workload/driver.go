package workload

import (
	"context"
	"fmt"
	"math/rand"
	"slices"
	"sync"
	"time"

	"github.com/arloliu/rewind"
	"github.com/arloliu/rewind/test/testutil"
	"github.com/arloliu/rewind/transport"
)

// Driver performs publishes and client churn against a Local hub.
//
// Every action holds one lock and advances a logical clock, so publish
// times, disconnect times and deliveries line up exactly with what the
// Tracker expects.
type Driver struct {
	mu      sync.Mutex
	hub     *transport.Local
	rewind  *rewind.Rewind
	clock   *testutil.StepClock
	tracker *Tracker
	rng     *rand.Rand
	online  map[string]*transport.LocalClient
	offline map[string]*transport.LocalClient
	seq     int
}

// NewDriver creates a driver. The rewind instance must use clock.
func NewDriver(hub *transport.Local, r *rewind.Rewind, clock *testutil.StepClock, tracker *Tracker, seed int64) *Driver {
	return &Driver{
		hub:     hub,
		rewind:  r,
		clock:   clock,
		tracker: tracker,
		//nolint:gosec // Simulation data, not security sensitive
		rng:     rand.New(rand.NewSource(seed)),
		online:  make(map[string]*transport.LocalClient),
		offline: make(map[string]*transport.LocalClient),
	}
}

// AddClient connects a client and joins it to channels.
func (d *Driver) AddClient(id string, channels []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, err := d.hub.Connect(id)
	if err != nil {
		return err
	}
	for _, ch := range channels {
		if err := d.hub.Join(id, ch); err != nil {
			return err
		}
	}

	d.online[id] = c
	d.tracker.Joined(id, append(slices.Clone(channels), rewind.DefaultChannel), d.now())
	d.drain(id, c)

	return nil
}

// Publish sends one uniquely named event to channel ("" is the default channel).
func (d *Driver) Publish(ctx context.Context, channel string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.clock.Advance(time.Millisecond)
	d.seq++

	resolved := channel
	if resolved == "" {
		resolved = rewind.DefaultChannel
	}
	name := fmt.Sprintf("%s#%d", resolved, d.seq)
	d.tracker.Published(Record{Name: name, Channel: resolved, Time: d.now()})

	if err := d.hub.Publish(ctx, channel, name, resolved); err != nil {
		return err
	}
	for id, c := range d.online {
		d.drain(id, c)
	}

	return nil
}

// DisconnectRandom disconnects up to n online clients.
func (d *Driver) DisconnectRandom(n int) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	ids := sortedIDs(d.online)
	d.rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	if n < len(ids) {
		ids = ids[:n]
	}

	for _, id := range ids {
		c := d.online[id]
		d.drain(id, c)
		d.hub.Disconnect(id, d.clock.Now())
		d.tracker.Disconnected(id, d.now())

		delete(d.online, id)
		d.offline[id] = c
	}
	slices.Sort(ids)

	return ids
}

// ResumeAll reconnects every offline client and returns how many replays failed.
func (d *Driver) ResumeAll(ctx context.Context) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	failed := 0
	for _, id := range sortedIDs(d.offline) {
		c, _, err := d.hub.Resume(ctx, d.offline[id], d.rewind)
		if c == nil {
			// Not reattached; stays offline.
			continue
		}

		d.tracker.Resumed(id, d.now(), err != nil)
		if err != nil {
			failed++
		}

		delete(d.offline, id)
		d.online[id] = c
		d.drain(id, c)
	}

	return failed
}

// Sweep advances the clock by idle and runs one inactivity sweep.
func (d *Driver) Sweep(ctx context.Context, idle time.Duration) (rewind.SweepResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.clock.Advance(idle)
	result, err := d.rewind.Sweep(ctx)
	if result.Removed > 0 {
		d.tracker.Swept(d.now())
	}

	return result, err
}

// Online returns the number of connected clients.
func (d *Driver) Online() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.online)
}

func (d *Driver) now() int64 {
	return d.clock.Now().UnixMilli()
}

func (d *Driver) drain(id string, c *transport.LocalClient) {
	for _, msg := range c.Drain() {
		if msg.Name == rewind.EventChangeRoomNames {
			continue
		}
		d.tracker.Received(id, msg.Name)
	}
}

func sortedIDs(m map[string]*transport.LocalClient) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	return ids
}
