package eventbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// connectRetries bounds the exponential backoff used around the initial
// Ping in Init, grounded in the same cenkalti/backoff reconnect shape the
// corpus's websocket adapters use for their dial loops.
const connectRetries = 5

// EventBus is a single instance's view of a Redis-Streams-backed bus. It
// owns the three stream readers, the subscriber table, the publish path,
// the maintenance loop, and the lifecycle. All of it is safe for
// concurrent use.
type EventBus struct {
	id   string
	cfg  Config
	keys keyspace
	log  *logrus.Entry

	store Store // control connection: used by Emit and the maintenance worker

	subs *subscriberTable

	readers []*streamReader
	maint   *maintenanceWorker

	mu          sync.Mutex
	initialized bool
	closed      bool
}

// New constructs an instance. It does not connect to the store; call Init
// for that. The instance id is generated here, so ID() is always safe to
// call even before Init.
func New(cfg Config, opts ...Option) (*EventBus, error) {
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	if cfg.Redis == nil && cfg.newStore == nil {
		return nil, fmt.Errorf("eventbus: Config.Redis is required")
	}

	id := newInstanceID()
	log := newLogger(id, cfg.Debug)

	b := &EventBus{
		id:   id,
		cfg:  cfg,
		keys: newKeyspace(cfg.Name, id),
		log:  log,
		subs: newSubscriberTable(log),
	}
	return b, nil
}

// ID returns the instance's identifier.
func (b *EventBus) ID() string { return b.id }

// Closed reports whether Close has been called.
func (b *EventBus) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *EventBus) newStoreConn() Store {
	if b.cfg.newStore != nil {
		return b.cfg.newStore(b.cfg.Redis)
	}
	return newRedisStore(b.cfg.Redis)
}

// Init connects the control connection and every reader connection;
// creates each consumer group (idempotent, MKSTREAM) at the configured
// start id; sets each stream's initial 60s TTL; starts the three reader
// loops (unless Role is RolePublisher, which closes the reader connections
// instead) and the maintenance worker. It resolves once every started
// reader loop is running.
func (b *EventBus) Init(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	if b.initialized {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	b.store = b.newStoreConn()

	if err := b.connectWithRetry(ctx); err != nil {
		return err
	}

	readers, err := b.initReaders(ctx)
	if err != nil {
		return err
	}
	if b.cfg.Role == RolePublisher {
		for _, r := range readers {
			_ = r.store.Close()
		}
	} else {
		b.readers = readers
		for _, r := range b.readers {
			go r.run()
		}
	}

	b.maint = newMaintenanceWorker(b)
	go b.maint.run()

	b.mu.Lock()
	b.initialized = true
	b.mu.Unlock()

	return nil
}

func (b *EventBus) connectWithRetry(ctx context.Context) error {
	op := func() error {
		return b.store.Ping(ctx)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), connectRetries),
		ctx,
	)
	if err := backoff.Retry(op, policy); err != nil {
		return wrapTransport("PING", err)
	}
	return nil
}

func (b *EventBus) initReaders(ctx context.Context) ([]*streamReader, error) {
	startID := b.cfg.startID()

	specs := []struct {
		stream    string
		group     string
		batchSize int64
	}{
		{b.keys.anycastStream(), b.keys.anycastGroup(), 1},
		{b.keys.broadcastStream(), b.keys.ownGroup(), 1},
		{b.keys.unicastStream(b.id), b.keys.ownGroup(), 10},
	}

	readers := make([]*streamReader, 0, len(specs))
	for _, s := range specs {
		store := b.newStoreConn()
		r := newStreamReader(s.stream, s.group, b.id, startID, s.batchSize, store, b.cfg.Codec, b.dispatch, b.log)
		if err := r.init(ctx, initialStreamTTL); err != nil {
			_ = store.Close()
			for _, started := range readers {
				_ = started.store.Close()
			}
			return nil, err
		}
		readers = append(readers, r)
	}
	return readers, nil
}

func (b *EventBus) dispatch(ctx context.Context, msg Message) {
	b.subs.dispatch(ctx, msg.Event, msg)
}

// emitOptions carries the per-call overrides to Emit.
type emitOptions struct {
	mode   Mode
	target string
}

// EmitOption configures a single Emit call.
type EmitOption func(*emitOptions)

// WithTarget forces UNICAST delivery to the named instance.
func WithTarget(instanceID string) EmitOption {
	return func(o *emitOptions) { o.target = instanceID }
}

// WithEmitMode requests a delivery mode other than the BROADCAST default.
// Ignored if WithTarget is also given: an explicit target always forces
// UNICAST.
func WithEmitMode(mode Mode) EmitOption {
	return func(o *emitOptions) { o.mode = mode }
}

// Emit builds the envelope (source = this instance's id, timestamp = now)
// and routes it to the corresponding stream. It does not wait for
// delivery and offers no delivery confirmation; it returns the
// store-assigned record id.
func (b *EventBus) Emit(ctx context.Context, event string, data interface{}, opts ...EmitOption) (string, error) {
	if b.Closed() {
		return "", ErrClosed
	}

	var o emitOptions
	for _, opt := range opts {
		opt(&o)
	}

	mode := o.mode
	target := o.target
	var stream string

	switch {
	case target != "":
		mode = Unicast
		stream = b.keys.unicastStream(target)
	case mode == Anycast:
		stream = b.keys.anycastStream()
	default:
		mode = Broadcast
		stream = b.keys.broadcastStream()
	}

	env := newEnvelope(event, data, b.id, mode, target)
	encoded, err := b.cfg.Codec.Encode(env)
	if err != nil {
		return "", fmt.Errorf("eventbus: emit: %w", err)
	}

	id, err := b.store.XAdd(ctx, stream, encoded)
	if err != nil {
		return "", wrapTransport("XADD", err)
	}
	return id, nil
}

// On adds handler to the subscriber set for topic. Idempotent on
// (topic, handler) identity.
func (b *EventBus) On(event string, handler Handler) error {
	if b.Closed() {
		return ErrClosed
	}
	b.subs.on(event, handler)
	return nil
}

// Off removes handler from topic's subscriber set. Removing an unknown
// handler is a no-op.
func (b *EventBus) Off(event string, handler Handler) error {
	if b.Closed() {
		return ErrClosed
	}
	b.subs.off(event, handler)
	return nil
}

// Once registers handler to fire at most once for topic, regardless of
// how many records arrive afterward.
func (b *EventBus) Once(event string, handler Handler) error {
	if b.Closed() {
		return ErrClosed
	}
	b.subs.once(event, handler)
	return nil
}

// Close stops the maintenance worker, asks every reader to stop and
// awaits its loop, and closes store connections. It is idempotent; after
// Close, Init, Emit, On, Off and Once return ErrClosed.
func (b *EventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	if b.maint != nil {
		b.maint.stopAndWait()
	}

	for _, r := range b.readers {
		r.stopAndWait()
		_ = r.store.Close()
	}

	if b.store != nil {
		return b.store.Close()
	}
	return nil
}
