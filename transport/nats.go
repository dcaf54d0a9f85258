package transport

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/arloliu/rewind"
	"github.com/arloliu/rewind/internal/logging"
	"github.com/arloliu/rewind/types"
)

// NATSConfig configures the NATS transport and its clients.
type NATSConfig struct {
	// Prefix is the first token of every subject.
	// Default: "rewind"
	Prefix string

	// DefaultChannel receives publishes that address no channel.
	// Default: "general"
	DefaultChannel string

	// QueueGroup load-balances handshakes across server instances.
	// Default: "rewind"
	QueueGroup string

	// RequestTimeout bounds client requests that carry no deadline.
	// Default: 5 seconds
	RequestTimeout time.Duration

	// Buffer is the delivery queue size of each client. A full queue makes
	// deliveries wait; it never drops them.
	// Default: 256
	Buffer int

	// Logger receives transport diagnostics.
	Logger types.Logger
}

// DefaultNATSConfig returns the default configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		Prefix:         "rewind",
		DefaultChannel: rewind.DefaultChannel,
		QueueGroup:     "rewind",
		RequestTimeout: 5 * time.Second,
		Buffer:         256,
	}
}

// NATSOption configures the NATS transport or client.
type NATSOption func(*NATSConfig)

// WithSubjectPrefix sets the subject prefix.
func WithSubjectPrefix(prefix string) NATSOption {
	return func(c *NATSConfig) {
		c.Prefix = prefix
	}
}

// WithNATSDefaultChannel sets the channel used for unaddressed publishes.
func WithNATSDefaultChannel(channel string) NATSOption {
	return func(c *NATSConfig) {
		c.DefaultChannel = channel
	}
}

// WithQueueGroup sets the queue group shared by server instances.
func WithQueueGroup(group string) NATSOption {
	return func(c *NATSConfig) {
		c.QueueGroup = group
	}
}

// WithRequestTimeout sets the default client request timeout.
func WithRequestTimeout(d time.Duration) NATSOption {
	return func(c *NATSConfig) {
		c.RequestTimeout = d
	}
}

// WithNATSBuffer sets the client delivery queue size.
func WithNATSBuffer(n int) NATSOption {
	return func(c *NATSConfig) {
		c.Buffer = n
	}
}

// WithNATSLogger sets the transport logger.
func WithNATSLogger(logger types.Logger) NATSOption {
	return func(c *NATSConfig) {
		c.Logger = logger
	}
}

func newNATSConfig(opts []NATSOption) NATSConfig {
	config := DefaultNATSConfig()
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

	return config
}

// subjects derives the NATS subjects of one deployment. Channel names and
// client ids are base64url-encoded into single subject tokens, so dots,
// spaces and wildcards in names are safe.
type subjects struct {
	prefix string
}

func (s subjects) room(channel string) string {
	return s.prefix + ".room." + subjectToken(channel)
}

func (s subjects) client(id string) string {
	return s.prefix + ".client." + subjectToken(id)
}

func (s subjects) handshake() string {
	return s.prefix + ".handshake"
}

func (s subjects) membership() string {
	return s.prefix + ".membership"
}

func subjectToken(name string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(name))
}

// NATS is the server side of the NATS transport.
//
// # Subjects
//
//   - {prefix}.room.{channel}: channel publishes, subscribed by members
//   - {prefix}.client.{id}: deliveries to one client, including replay
//   - {prefix}.handshake: reconnect handshakes (request/reply, queue group)
//   - {prefix}.membership: join, leave, restore and disconnect requests
//
// Every server instance keeps a full replica of channel membership by
// subscribing to membership requests without a queue group. The reply to
// a membership request carries the client's new channel list and serves as
// its change_room_names notification; the requester keeps the first reply.
// A client that disconnects cleanly is forgotten by every instance, and a
// reconnecting client restores its remembered channels before replay.
// Handshakes are load-balanced, since replay only needs the shared store.
type NATS struct {
	nc         *nats.Conn
	config     NATSConfig
	subjects   subjects
	membership *rewind.Membership

	mu    sync.RWMutex
	hooks []types.PublishHook
	subs  []*nats.Subscription
}

// Compile-time assertions.
var (
	_ rewind.ClientSender  = (*NATS)(nil)
	_ rewind.HookRegistrar = (*NATS)(nil)
)

// NewNATS creates the server side of the NATS transport.
//
// Parameters:
//   - nc: A connected NATS client
//   - opts: Optional configuration options
//
// Returns:
//   - *NATS: A new transport
//   - error: Error if nc is nil
func NewNATS(nc *nats.Conn, opts ...NATSOption) (*NATS, error) {
	if nc == nil {
		return nil, errors.New("rewind: NATS connection is nil")
	}

	config := newNATSConfig(opts)

	return &NATS{
		nc:         nc,
		config:     config,
		subjects:   subjects{prefix: config.Prefix},
		membership: rewind.NewMembership(nil),
	}, nil
}

// RegisterPublishHook adds a hook invoked before each publish is delivered.
func (t *NATS) RegisterPublishHook(hook types.PublishHook) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.hooks = append(t.hooks, hook)
}

// Membership returns this instance's membership replica.
func (t *NATS) Membership() *rewind.Membership {
	return t.membership
}

// Publish runs the publish hooks and publishes to the channel subject.
// An empty channel addresses the default channel.
func (t *NATS) Publish(ctx context.Context, channel, name string, payload any) error {
	t.mu.RLock()
	hooks := slices.Clone(t.hooks)
	t.mu.RUnlock()

	p := types.Publish{Channel: channel, Name: name, Payload: payload}
	for _, hook := range hooks {
		hook(ctx, p)
	}

	if channel == "" {
		channel = t.config.DefaultChannel
	}

	data, err := encodeMessage(Message{Name: name, Payload: payload})
	if err != nil {
		return err
	}

	return t.nc.Publish(t.subjects.room(channel), data)
}

// SendTo publishes an event to one client's subject without running hooks.
func (t *NATS) SendTo(ctx context.Context, clientID string, name string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := encodeMessage(Message{Name: name, Payload: payload})
	if err != nil {
		return err
	}

	return t.nc.Publish(t.subjects.client(clientID), data)
}

// Start subscribes to handshake and membership requests and returns once
// the server has registered the subscriptions.
//
// A handshake that cannot be decoded is answered as a first connection.
//
// Parameters:
//   - ctx: Context for replays triggered by handshakes
//   - replayer: Answers handshakes (typically *rewind.Rewind)
//
// Returns:
//   - error: Subscription error
func (t *NATS) Start(ctx context.Context, replayer Replayer) error {
	hsSub, err := t.nc.QueueSubscribe(t.subjects.handshake(), t.config.QueueGroup, func(msg *nats.Msg) {
		t.handleHandshake(ctx, replayer, msg)
	})
	if err != nil {
		return fmt.Errorf("rewind: failed to subscribe to handshakes: %w", err)
	}

	memberSub, err := t.nc.Subscribe(t.subjects.membership(), t.handleMembership)
	if err != nil {
		_ = hsSub.Unsubscribe()
		return fmt.Errorf("rewind: failed to subscribe to membership: %w", err)
	}

	t.mu.Lock()
	t.subs = append(t.subs, hsSub, memberSub)
	t.mu.Unlock()

	if err := t.nc.Flush(); err != nil {
		t.Stop()
		return fmt.Errorf("rewind: failed to flush subscriptions: %w", err)
	}

	t.config.Logger.Info("rewind: NATS transport serving", "prefix", t.config.Prefix)

	return nil
}

// Stop drops the request subscriptions. It is safe to call multiple times.
func (t *NATS) Stop() {
	t.mu.Lock()
	subs := t.subs
	t.subs = nil
	t.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
	if len(subs) > 0 {
		t.config.Logger.Info("rewind: NATS transport stopped")
	}
}

// Serve runs Start and blocks until ctx is done, then stops.
//
// Returns:
//   - error: Subscription error, or nil after ctx is done
func (t *NATS) Serve(ctx context.Context, replayer Replayer) error {
	if err := t.Start(ctx, replayer); err != nil {
		return err
	}
	defer t.Stop()

	<-ctx.Done()

	return nil
}

func (t *NATS) handleHandshake(ctx context.Context, replayer Replayer, msg *nats.Msg) {
	req, err := decodeHandshake(msg.Data)
	if err != nil {
		t.config.Logger.Warn("rewind: malformed handshake, treating as first connection", "error", err)
		req = handshakeRequest{}
	}

	var (
		result    rewind.ReplayResult
		replayErr error
	)
	if req.Client == "" {
		result = rewind.ReplayResult{FirstConnection: true}
	} else {
		result, replayErr = replayer.Replay(ctx, t, req.Client, req.Handshake)
	}

	if err := msg.Respond(encodeReplayResult(result, replayErr)); err != nil {
		t.config.Logger.Warn("rewind: failed to answer handshake", "client", req.Client, "error", err)
	}
}

func (t *NATS) handleMembership(msg *nats.Msg) {
	req, err := decodeMembership(msg.Data)
	if err != nil {
		t.config.Logger.Warn("rewind: malformed membership request", "error", err)
		if msg.Reply != "" {
			_ = msg.Respond(encodeMembershipReply(nil, err))
		}

		return
	}

	var channels []string
	switch {
	case req.Client == "":
		err = types.ErrUnknownClient
	case req.Op == opDisconnect:
		t.membership.Remove(req.Client)
	case req.Op == opRestore:
		t.membership.Remove(req.Client)
		for _, ch := range req.Channels {
			if ch != "" && ch != t.config.DefaultChannel {
				channels = t.membership.Join(req.Client, ch)
			}
		}
	case req.Channel == "":
		err = types.ErrInvalidChannel
	case req.Op == opJoin:
		channels = t.membership.Join(req.Client, req.Channel)
	case req.Op == opLeave:
		channels = t.membership.Leave(req.Client, req.Channel)
	default:
		err = fmt.Errorf("rewind: unknown membership op %q", req.Op)
	}

	if msg.Reply == "" {
		return
	}
	if err := msg.Respond(encodeMembershipReply(channels, err)); err != nil {
		t.config.Logger.Warn("rewind: failed to answer membership request", "client", req.Client, "error", err)
	}
}

// NATSClient is the client side of the NATS transport.
//
// It subscribes to its own subject and to the subjects of the channels it
// joined, and keeps the reconnect state needed for its next handshake.
//
// Deliveries wait for room in the Messages queue, so a replay larger than
// Buffer waits in the subscription's pending queue instead of being lost.
// Messages dropped by the NATS client library itself (pending limits
// exceeded) are reported by Reconnect as ErrDeliveriesDropped.
type NATSClient struct {
	nc       *nats.Conn
	id       string
	config   NATSConfig
	subjects subjects
	state    *rewind.ClientState
	ch       chan Message
	done     chan struct{}

	mu        sync.Mutex
	subs      map[string]*nats.Subscription // key: subject
	closeOnce sync.Once
}

// ErrDeliveriesDropped is returned by Reconnect when the NATS client library
// discarded deliveries because the subscription's pending limits were hit.
var ErrDeliveriesDropped = errors.New("rewind: deliveries dropped by slow consumer")

// NewNATSClient connects a client and subscribes to its own subject and
// the default channel.
//
// Parameters:
//   - nc: A connected NATS client
//   - id: Client id, unique across the deployment
//   - opts: Optional configuration options; must match the server's prefix
//
// Returns:
//   - *NATSClient: A connected client
//   - error: Subscription error
func NewNATSClient(nc *nats.Conn, id string, opts ...NATSOption) (*NATSClient, error) {
	if nc == nil {
		return nil, errors.New("rewind: NATS connection is nil")
	}

	config := newNATSConfig(opts)
	c := &NATSClient{
		nc:       nc,
		id:       id,
		config:   config,
		subjects: subjects{prefix: config.Prefix},
		state:    rewind.NewClientState(config.DefaultChannel),
		ch:       make(chan Message, config.Buffer),
		done:     make(chan struct{}),
		subs:     make(map[string]*nats.Subscription),
	}

	if err := c.subscribeBase(); err != nil {
		c.unsubscribeAll()
		return nil, err
	}
	if err := nc.Flush(); err != nil {
		c.unsubscribeAll()
		return nil, fmt.Errorf("rewind: failed to flush subscriptions: %w", err)
	}

	return c, nil
}

// ID returns the client id.
func (c *NATSClient) ID() string {
	return c.id
}

// Messages returns the delivery queue.
func (c *NATSClient) Messages() <-chan Message {
	return c.ch
}

// State returns the client's reconnect state.
func (c *NATSClient) State() *rewind.ClientState {
	return c.state
}

// Join asks the server to add this client to a channel and subscribes to it.
func (c *NATSClient) Join(ctx context.Context, channel string) error {
	if err := c.changeMembership(ctx, opJoin, channel); err != nil {
		return err
	}

	if err := c.subscribe(c.subjects.room(channel)); err != nil {
		return err
	}

	return c.nc.Flush()
}

// Leave asks the server to remove this client from a channel and unsubscribes.
func (c *NATSClient) Leave(ctx context.Context, channel string) error {
	if err := c.changeMembership(ctx, opLeave, channel); err != nil {
		return err
	}

	c.unsubscribe(c.subjects.room(channel))

	return nil
}

// Disconnect drops every subscription, tells the servers to forget this
// client's membership and records the disconnect time.
func (c *NATSClient) Disconnect(at time.Time) {
	c.unsubscribeAll()
	c.notifyDisconnect()
	c.state.MarkDisconnected(at)
}

// Reconnect restores the remembered channels on the servers, resubscribes
// to them and sends the reconnect handshake. Missed events arrive on
// Messages; Reconnect does not wait for them to be read.
//
// Returns:
//   - rewind.ReplayResult: What the server replayed
//   - error: Request error, the server's replay error, or ErrDeliveriesDropped
func (c *NATSClient) Reconnect(ctx context.Context) (rewind.ReplayResult, error) {
	if err := c.subscribeBase(); err != nil {
		return rewind.ReplayResult{}, err
	}

	hs := c.state.Handshake()
	if err := c.restoreMembership(ctx, hs.Channels); err != nil {
		return rewind.ReplayResult{}, err
	}
	for _, ch := range hs.Channels {
		if err := c.subscribe(c.subjects.room(ch)); err != nil {
			return rewind.ReplayResult{}, err
		}
	}
	if err := c.nc.Flush(); err != nil {
		return rewind.ReplayResult{}, err
	}

	droppedBefore := c.dropped()
	reply, err := c.request(ctx, c.subjects.handshake(), encodeHandshake(handshakeRequest{Client: c.id, Handshake: hs}))
	if err != nil {
		return rewind.ReplayResult{}, err
	}

	result, msg, err := decodeReplayResult(reply)
	if err != nil {
		return rewind.ReplayResult{}, err
	}
	if msg != "" {
		return result, errors.New(msg)
	}

	// The server sends every replayed event before its reply on the same
	// connection, so they have all reached the subscription by now.
	if n := c.dropped() - droppedBefore; n > 0 {
		return result, fmt.Errorf("%w: %d", ErrDeliveriesDropped, n)
	}

	return result, nil
}

// Close drops every subscription, tells the servers to forget this client
// and releases deliveries waiting for queue room. The NATS connection is
// left open.
func (c *NATSClient) Close() {
	c.unsubscribeAll()
	c.notifyDisconnect()
	c.closeOnce.Do(func() { close(c.done) })
}

// notifyDisconnect is fire-and-forget: every server instance applies it and
// none replies.
func (c *NATSClient) notifyDisconnect() {
	data := encodeMembership(membershipRequest{Client: c.id, Op: opDisconnect})
	if err := c.nc.Publish(c.subjects.membership(), data); err != nil {
		c.config.Logger.Debug("rewind: failed to announce disconnect", "client", c.id, "error", err)
		return
	}
	_ = c.nc.Flush()
}

// restoreMembership replaces the servers' channel set for this client with
// the channels it remembers.
func (c *NATSClient) restoreMembership(ctx context.Context, channels []string) error {
	reply, err := c.request(ctx, c.subjects.membership(), encodeMembership(membershipRequest{
		Client:   c.id,
		Op:       opRestore,
		Channels: channels,
	}))
	if err != nil {
		return err
	}

	restored, msg, err := decodeMembershipReply(reply)
	if err != nil {
		return err
	}
	if msg != "" {
		return errors.New(msg)
	}
	c.state.SetChannels(restored)

	return nil
}

// dropped sums the messages the NATS client library discarded on this
// client's subscriptions.
func (c *NATSClient) dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := 0
	for _, sub := range c.subs {
		if n, err := sub.Dropped(); err == nil {
			total += n
		}
	}

	return total
}

func (c *NATSClient) changeMembership(ctx context.Context, op, channel string) error {
	if channel == "" {
		return types.ErrInvalidChannel
	}

	reply, err := c.request(ctx, c.subjects.membership(), encodeMembership(membershipRequest{
		Client:  c.id,
		Op:      op,
		Channel: channel,
	}))
	if err != nil {
		return err
	}

	channels, msg, err := decodeMembershipReply(reply)
	if err != nil {
		return err
	}
	if msg != "" {
		return errors.New(msg)
	}

	c.state.SetChannels(channels)

	select {
	case c.ch <- Message{Name: rewind.EventChangeRoomNames, Payload: channels}:
	case <-c.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

func (c *NATSClient) request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	if _, ok := ctx.Deadline(); !ok && c.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.RequestTimeout)
		defer cancel()
	}

	msg, err := c.nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, fmt.Errorf("rewind: request to %s failed: %w", subject, err)
	}

	return msg.Data, nil
}

func (c *NATSClient) subscribeBase() error {
	if err := c.subscribe(c.subjects.client(c.id)); err != nil {
		return err
	}

	return c.subscribe(c.subjects.room(c.config.DefaultChannel))
}

func (c *NATSClient) subscribe(subject string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.subs[subject]; ok {
		return nil
	}

	sub, err := c.nc.Subscribe(subject, c.onMessage)
	if err != nil {
		return fmt.Errorf("rewind: failed to subscribe to %s: %w", subject, err)
	}
	c.subs[subject] = sub

	return nil
}

func (c *NATSClient) unsubscribe(subject string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sub, ok := c.subs[subject]; ok {
		_ = sub.Unsubscribe()
		delete(c.subs, subject)
	}
}

func (c *NATSClient) unsubscribeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		_ = sub.Unsubscribe()
		delete(c.subs, subject)
	}
}

func (c *NATSClient) onMessage(msg *nats.Msg) {
	m, err := decodeMessage(msg.Data)
	if err != nil {
		c.config.Logger.Warn("rewind: dropping malformed message", "subject", msg.Subject, "error", err)
		return
	}

	c.enqueue(m)
}

// enqueue waits for queue room. It runs on the subscription's delivery
// goroutine, so while it waits NATS keeps further messages pending.
func (c *NATSClient) enqueue(m Message) {
	select {
	case c.ch <- m:
	case <-c.done:
	}
}
