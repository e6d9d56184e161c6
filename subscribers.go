package eventbus

import (
	"context"
	"reflect"
	"sync"

	"github.com/sirupsen/logrus"
)

// Handler is a subscriber callback. A returned error is logged but never
// prevents the record from being acked, and never stops later handlers in
// the same topic's set from running.
type Handler func(ctx context.Context, msg Message) error

// subscriberTable is topic -> set of handlers. Insertion order is not
// observable; re-adding the same handler to the same topic is a no-op. A
// single mutex guards the map, and dispatch copies the slice before
// releasing the lock, so user code never runs while the lock is held —
// the same discipline eventsource's SyncBus and InternalStream use.
type subscriberTable struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	log      *logrus.Entry
}

func newSubscriberTable(log *logrus.Entry) *subscriberTable {
	return &subscriberTable{handlers: make(map[string][]Handler), log: log}
}

func handlerIdentity(h Handler) uintptr {
	return reflect.ValueOf(h).Pointer()
}

func (t *subscriberTable) on(topic string, h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := handlerIdentity(h)
	for _, existing := range t.handlers[topic] {
		if handlerIdentity(existing) == id {
			return
		}
	}
	t.handlers[topic] = append(t.handlers[topic], h)
}

func (t *subscriberTable) off(topic string, h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()

	hs := t.handlers[topic]
	id := handlerIdentity(h)
	for i, existing := range hs {
		if handlerIdentity(existing) == id {
			hs = append(hs[:i], hs[i+1:]...)
			break
		}
	}
	if len(hs) == 0 {
		delete(t.handlers, topic)
	} else {
		t.handlers[topic] = hs
	}
}

// once registers a wrapper that invokes h then deregisters itself, even if
// h returns an error, firing at most once per registration.
func (t *subscriberTable) once(topic string, h Handler) {
	var wrapper Handler
	var fired bool
	var mu sync.Mutex

	wrapper = func(ctx context.Context, msg Message) error {
		mu.Lock()
		if fired {
			mu.Unlock()
			return nil
		}
		fired = true
		mu.Unlock()

		defer t.off(topic, wrapper)
		return h(ctx, msg)
	}
	t.on(topic, wrapper)
}

// dispatch invokes every handler registered for msg's topic, sequentially,
// awaiting each to completion before the next runs. Handler errors are
// logged and do not stop dispatch.
func (t *subscriberTable) dispatch(ctx context.Context, topic string, msg Message) {
	t.mu.RLock()
	hs := append([]Handler(nil), t.handlers[topic]...)
	t.mu.RUnlock()

	for i, h := range hs {
		if err := h(ctx, msg); err != nil {
			t.log.WithError(err).WithFields(logrus.Fields{
				"topic":   topic,
				"handler": i,
			}).Error("eventbus: subscriber handler failed")
		}
	}
}
