package transport

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/arloliu/rewind"
	"github.com/arloliu/rewind/internal/logging"
	"github.com/arloliu/rewind/types"
)

// errClientConnected is returned when connecting an id that is already connected.
var errClientConnected = errors.New("rewind: client already connected")

// LocalConfig configures the in-process transport.
type LocalConfig struct {
	// Buffer is the delivery queue size of each client.
	// Default: 256
	Buffer int

	// DefaultChannel receives publishes that address no channel. Every
	// connected client belongs to it.
	// Default: "general"
	DefaultChannel string

	// Logger receives transport diagnostics.
	Logger types.Logger
}

// LocalOption configures a Local transport.
type LocalOption func(*LocalConfig)

// WithBuffer sets the per-client delivery queue size.
func WithBuffer(n int) LocalOption {
	return func(c *LocalConfig) {
		c.Buffer = n
	}
}

// WithLocalDefaultChannel sets the channel used for unaddressed publishes.
func WithLocalDefaultChannel(channel string) LocalOption {
	return func(c *LocalConfig) {
		c.DefaultChannel = channel
	}
}

// WithLocalLogger sets the transport logger.
func WithLocalLogger(logger types.Logger) LocalOption {
	return func(c *LocalConfig) {
		c.Logger = logger
	}
}

// Local is an in-process pub/sub hub.
//
// Publish runs every registered hook and then delivers to the members of
// the addressed channel. SendTo delivers to exactly one client and runs no
// hooks, so replayed events are never recorded again. Deliveries block
// while a client's queue is full, until the context is done.
type Local struct {
	config     LocalConfig
	membership *rewind.Membership

	mu      sync.RWMutex
	hooks   []types.PublishHook
	clients map[string]*LocalClient
}

// Compile-time assertions.
var (
	_ rewind.ClientSender  = (*Local)(nil)
	_ rewind.HookRegistrar = (*Local)(nil)
)

// NewLocal creates an in-process hub.
//
// Parameters:
//   - opts: Optional configuration options
//
// Returns:
//   - *Local: A new hub with no clients
func NewLocal(opts ...LocalOption) *Local {
	config := LocalConfig{
		Buffer:         256,
		DefaultChannel: rewind.DefaultChannel,
	}
	for _, opt := range opts {
		opt(&config)
	}
	config.Logger = logging.OrNop(config.Logger)
	if config.DefaultChannel == "" {
		config.DefaultChannel = rewind.DefaultChannel
	}
	if config.Buffer < 0 {
		config.Buffer = 0
	}

	l := &Local{
		config:  config,
		clients: make(map[string]*LocalClient),
	}
	l.membership = rewind.NewMembership(l.notifyChannels)

	return l
}

// RegisterPublishHook adds a hook invoked before each publish is delivered.
func (l *Local) RegisterPublishHook(hook types.PublishHook) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.hooks = append(l.hooks, hook)
}

// Membership returns the channel membership registry.
func (l *Local) Membership() *rewind.Membership {
	return l.membership
}

// Connect registers a new client.
//
// Returns:
//   - *LocalClient: The connected client
//   - error: If a client with the same id is connected
func (l *Local) Connect(id string) (*LocalClient, error) {
	return l.attach(&LocalClient{
		id:    id,
		state: rewind.NewClientState(l.config.DefaultChannel),
	})
}

// Resume reconnects a previously disconnected client and replays what it missed.
//
// The client rejoins the channels it remembers, then its handshake is passed
// to replayer. Replayed events are queued before any live publish that
// happens after Resume returns.
//
// Parameters:
//   - ctx: Context for the replay
//   - prev: The client as it was before disconnecting
//   - replayer: Answers the handshake (typically *rewind.Rewind)
//
// Returns:
//   - *LocalClient: The reconnected client
//   - rewind.ReplayResult: What was replayed
//   - error: Connection or replay error
func (l *Local) Resume(ctx context.Context, prev *LocalClient, replayer Replayer) (*LocalClient, rewind.ReplayResult, error) {
	c, err := l.attach(&LocalClient{id: prev.id, state: prev.state})
	if err != nil {
		return nil, rewind.ReplayResult{}, err
	}

	hs := c.state.Handshake()
	for _, ch := range hs.Channels {
		if ch != l.config.DefaultChannel {
			l.membership.Join(c.id, ch)
		}
	}

	result, err := replayer.Replay(ctx, l, c.id, hs)

	return c, result, err
}

func (l *Local) attach(c *LocalClient) (*LocalClient, error) {
	c.ch = make(chan Message, l.config.Buffer)
	c.done = make(chan struct{})

	l.mu.Lock()
	if _, ok := l.clients[c.id]; ok {
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", errClientConnected, c.id)
	}
	l.clients[c.id] = c
	l.mu.Unlock()

	l.config.Logger.Debug("rewind: client connected", "client", c.id)

	return c, nil
}

// Disconnect removes a client, recording the disconnect time in its state.
func (l *Local) Disconnect(id string, at time.Time) {
	l.mu.Lock()
	c, ok := l.clients[id]
	delete(l.clients, id)
	l.mu.Unlock()

	if !ok {
		return
	}

	l.membership.Remove(id)
	c.state.MarkDisconnected(at)
	close(c.done)

	l.config.Logger.Debug("rewind: client disconnected", "client", id)
}

// Join adds a client to a channel. The client receives change_room_names
// when its channel set changes.
func (l *Local) Join(id, channel string) error {
	if channel == "" {
		return types.ErrInvalidChannel
	}
	if !l.connected(id) {
		return fmt.Errorf("%w: %s", types.ErrUnknownClient, id)
	}

	l.membership.Join(id, channel)

	return nil
}

// Leave removes a client from a channel.
func (l *Local) Leave(id, channel string) error {
	if !l.connected(id) {
		return fmt.Errorf("%w: %s", types.ErrUnknownClient, id)
	}

	l.membership.Leave(id, channel)

	return nil
}

// Publish runs the publish hooks and delivers to the channel's members.
//
// An empty channel addresses the default channel, which every connected
// client belongs to. Delivery failures to individual clients are logged
// and do not stop delivery to the others.
func (l *Local) Publish(ctx context.Context, channel, name string, payload any) error {
	l.mu.RLock()
	hooks := slices.Clone(l.hooks)
	l.mu.RUnlock()

	p := types.Publish{Channel: channel, Name: name, Payload: payload}
	for _, hook := range hooks {
		hook(ctx, p)
	}

	var recipients []string
	if channel == "" || channel == l.config.DefaultChannel {
		recipients = l.clientIDs()
	} else {
		recipients = l.membership.Members(channel)
	}

	msg := Message{Name: name, Payload: payload}
	for _, id := range recipients {
		if err := l.deliver(ctx, id, msg); err != nil {
			l.config.Logger.Warn("rewind: delivery failed",
				"client", id,
				"channel", channel,
				"event", name,
				"error", err,
			)
		}
	}

	return nil
}

// SendTo delivers an event to exactly one client without running hooks.
func (l *Local) SendTo(ctx context.Context, clientID string, name string, payload any) error {
	return l.deliver(ctx, clientID, Message{Name: name, Payload: payload})
}

// Clients returns the ids of connected clients, sorted.
func (l *Local) Clients() []string {
	return l.clientIDs()
}

func (l *Local) clientIDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ids := make([]string, 0, len(l.clients))
	for id := range l.clients {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	return ids
}

func (l *Local) connected(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	_, ok := l.clients[id]
	return ok
}

func (l *Local) deliver(ctx context.Context, id string, msg Message) error {
	l.mu.RLock()
	c, ok := l.clients[id]
	l.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", types.ErrUnknownClient, id)
	}

	return c.deliver(ctx, msg)
}

// notifyChannels sends change_room_names after a membership change.
func (l *Local) notifyChannels(session string, channels []string) {
	if err := l.SendTo(context.Background(), session, rewind.EventChangeRoomNames, channels); err != nil {
		l.config.Logger.Warn("rewind: failed to notify channel change",
			"client", session,
			"error", err,
		)
	}
}

// LocalClient is one client connected to a Local hub.
type LocalClient struct {
	id    string
	state *rewind.ClientState
	ch    chan Message
	done  chan struct{}
}

// ID returns the client id.
func (c *LocalClient) ID() string {
	return c.id
}

// Messages returns the delivery queue.
func (c *LocalClient) Messages() <-chan Message {
	return c.ch
}

// State returns the client's reconnect state.
func (c *LocalClient) State() *rewind.ClientState {
	return c.state
}

// Handshake returns the handshake the client would send on reconnect.
func (c *LocalClient) Handshake() types.Handshake {
	return c.state.Handshake()
}

// Drain returns every queued message without blocking.
func (c *LocalClient) Drain() []Message {
	var out []Message
	for {
		select {
		case msg := <-c.ch:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func (c *LocalClient) deliver(ctx context.Context, msg Message) error {
	if msg.Name == rewind.EventChangeRoomNames {
		if channels, ok := msg.Payload.([]string); ok {
			c.state.SetChannels(channels)
		}
	}

	select {
	case c.ch <- msg:
		return nil
	case <-c.done:
		return fmt.Errorf("%w: %s", types.ErrUnknownClient, c.id)
	case <-ctx.Done():
		return ctx.Err()
	}
}
