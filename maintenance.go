package eventbus

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// maintenanceInterval is the steady-state tick period; the first tick runs
// immediately after Init completes.
const maintenanceInterval = 30 * time.Second

// broadcastGCProbeDelay is how long the broadcast-group GC waits before its
// second existence check, tolerating peers that create their broadcast
// group before their unicast witness stream during Init.
const broadcastGCProbeDelay = 2 * time.Second

// maintenanceWorker is the periodic background task that keeps the three
// streams healthy: it trims each to its configured max length, renews each
// stream's TTL, prunes consumers that have gone idle past that TTL, and
// garbage-collects orphaned broadcast consumer groups. Grounded in
// workers/pool.go's heartbeat ticker + quit-channel shape.
type maintenanceWorker struct {
	bus *EventBus

	stop chan struct{}
	done chan struct{}
}

func newMaintenanceWorker(bus *EventBus) *maintenanceWorker {
	return &maintenanceWorker{bus: bus, stop: make(chan struct{}), done: make(chan struct{})}
}

func (w *maintenanceWorker) run() {
	defer close(w.done)

	w.tick()

	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.tick()
		}
	}
}

func (w *maintenanceWorker) stopAndWait() {
	close(w.stop)
	<-w.done
}

func (w *maintenanceWorker) tick() {
	ctx := context.Background()
	b := w.bus

	for _, spec := range []struct {
		stream string
		group  string
	}{
		{b.keys.anycastStream(), b.keys.anycastGroup()},
		{b.keys.broadcastStream(), b.keys.ownGroup()},
		{b.keys.unicastStream(b.id), b.keys.ownGroup()},
	} {
		w.maintainStream(ctx, spec.stream, spec.group)
	}

	w.gcBroadcastGroups(ctx)
}

func (w *maintenanceWorker) maintainStream(ctx context.Context, stream, group string) {
	b := w.bus

	if err := b.store.XTrim(ctx, stream, b.cfg.MaxMessageCount); err != nil {
		w.logSwallowed("XTRIM", stream, err)
	}
	if err := b.store.Expire(ctx, stream, b.cfg.StreamTTL); err != nil {
		w.logSwallowed("EXPIRE", stream, err)
	}
	w.pruneIdleConsumers(ctx, stream, group)
}

// pruneIdleConsumers evicts consumers that have failed to read for a full
// TTL window, which strongly implies a dead instance.
func (w *maintenanceWorker) pruneIdleConsumers(ctx context.Context, stream, group string) {
	b := w.bus

	consumers, err := b.store.XInfoConsumers(ctx, stream, group)
	if err != nil {
		w.logSwallowed("XINFO CONSUMERS", stream, err)
		return
	}

	for _, c := range consumers {
		if c.Idle <= b.cfg.StreamTTL {
			continue
		}
		if err := b.store.XGroupDelConsumer(ctx, stream, group, c.Name); err != nil {
			w.logSwallowed("XGROUP DELCONSUMER", stream, err)
		}
	}
}

// gcBroadcastGroups enumerates per-instance groups on the broadcast stream
// and destroys any whose owning instance's unicast witness stream has
// disappeared, which only happens once that instance has stopped renewing
// its own TTL (i.e. it is presumed dead).
func (w *maintenanceWorker) gcBroadcastGroups(ctx context.Context) {
	b := w.bus

	groups, err := b.store.XInfoGroups(ctx, b.keys.broadcastStream())
	if err != nil {
		w.logSwallowed("XINFO GROUPS", b.keys.broadcastStream(), err)
		return
	}

	for _, g := range groups {
		foreignID := b.keys.foreignInstanceID(g.Name)
		if foreignID == "" || foreignID == b.id {
			continue
		}

		if w.witnessExists(ctx, foreignID) {
			continue
		}

		select {
		case <-time.After(broadcastGCProbeDelay):
		case <-w.stop:
			return
		}

		if w.witnessExists(ctx, foreignID) {
			continue
		}

		if err := b.store.XGroupDestroy(ctx, b.keys.broadcastStream(), g.Name); err != nil {
			w.logSwallowed("XGROUP DESTROY", b.keys.broadcastStream(), err)
		}
	}
}

func (w *maintenanceWorker) witnessExists(ctx context.Context, instanceID string) bool {
	exists, err := w.bus.store.Exists(ctx, w.bus.keys.unicastStream(instanceID))
	if err != nil {
		w.logSwallowed("EXISTS", w.bus.keys.unicastStream(instanceID), err)
		return true // unknown: don't destroy on an inconclusive probe
	}
	return exists
}

func (w *maintenanceWorker) logSwallowed(op, key string, err error) {
	level := logrus.DebugLevel
	w.bus.log.WithFields(logrus.Fields{"op": op, "key": key}).Logln(level, "eventbus: maintenance op failed, will retry next tick: ", err)
}
