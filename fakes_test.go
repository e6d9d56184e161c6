package eventbus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// fakeStore is an in-memory Store used by every test in this package. It
// models enough of Redis Streams semantics — a shared, monotonically
// advancing per-group cursor, MKSTREAM-on-first-write, idle tracking per
// consumer — to exercise the reader/maintenance/dispatch code paths the
// same way a live Redis would, without a network dependency the retrieved
// corpus does not provide a test double for.
type fakeStore struct {
	mu      sync.Mutex
	streams map[string]*fakeStream
	notify  chan struct{}

	ackCount atomic.Int64
}

type fakeStream struct {
	records []fakeRecord
	groups  map[string]*fakeGroup
	exists  bool
}

type fakeRecord struct {
	seq     int64
	message string
}

type fakeGroup struct {
	cursor    int64
	consumers map[string]time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{streams: make(map[string]*fakeStream), notify: make(chan struct{})}
}

func (s *fakeStore) streamForLocked(key string) *fakeStream {
	st, ok := s.streams[key]
	if !ok {
		st = &fakeStream{groups: make(map[string]*fakeGroup)}
		s.streams[key] = st
	}
	st.exists = true
	return st
}

func (s *fakeStore) wakeLocked() {
	close(s.notify)
	s.notify = make(chan struct{})
}

// deleteStream simulates TTL expiry: the stream is presumed collected by
// the store, as if nobody had renewed it. Test helper only.
func (s *fakeStore) deleteStream(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.streams[key]; ok {
		st.exists = false
	}
}

// acks returns the number of XAck calls observed so far. Test helper only.
func (s *fakeStore) acks() int64 { return s.ackCount.Load() }

func (s *fakeStore) Ping(ctx context.Context) error { return nil }
func (s *fakeStore) Close() error                   { return nil }

func (s *fakeStore) XAdd(ctx context.Context, stream, message string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.streamForLocked(stream)
	var last int64
	if n := len(st.records); n > 0 {
		last = st.records[n-1].seq
	}
	seq := last + 1
	st.records = append(st.records, fakeRecord{seq: seq, message: message})
	s.wakeLocked()
	return fmt.Sprintf("%d-0", seq), nil
}

func (s *fakeStore) XGroupCreate(ctx context.Context, stream, group, startID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.streamForLocked(stream)
	if _, ok := st.groups[group]; ok {
		return nil
	}

	var cursor int64
	if startID == "$" && len(st.records) > 0 {
		cursor = st.records[len(st.records)-1].seq
	}
	st.groups[group] = &fakeGroup{cursor: cursor, consumers: make(map[string]time.Time)}
	return nil
}

func (s *fakeStore) XReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]StreamRecord, error) {
	deadline := time.Now().Add(block)

	for {
		out, notify, err := s.tryRead(stream, group, consumer, count)
		if err != nil {
			return nil, err
		}
		if len(out) > 0 {
			return out, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		select {
		case <-notify:
			continue
		case <-time.After(remaining):
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (s *fakeStore) tryRead(stream, group, consumer string, count int64) ([]StreamRecord, chan struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.streams[stream]
	if !ok {
		st = s.streamForLocked(stream)
	}
	g, ok := st.groups[group]
	if !ok {
		return nil, nil, fmt.Errorf("NOGROUP no such key %q or consumer group %q", stream, group)
	}
	g.consumers[consumer] = time.Now()

	var out []StreamRecord
	for _, r := range st.records {
		if r.seq <= g.cursor {
			continue
		}
		out = append(out, StreamRecord{ID: fmt.Sprintf("%d-0", r.seq), Message: r.message})
		g.cursor = r.seq
		if int64(len(out)) >= count {
			break
		}
	}
	return out, s.notify, nil
}

func (s *fakeStore) XAck(ctx context.Context, stream, group string, ids ...string) error {
	s.ackCount.Add(int64(len(ids)))
	return nil
}

func (s *fakeStore) XGroupDelConsumer(ctx context.Context, stream, group, consumer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.streams[stream]; ok {
		if g, ok := st.groups[group]; ok {
			delete(g.consumers, consumer)
		}
	}
	return nil
}

func (s *fakeStore) XGroupDestroy(ctx context.Context, stream, group string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.streams[stream]; ok {
		delete(st.groups, group)
	}
	return nil
}

func (s *fakeStore) XTrim(ctx context.Context, stream string, maxLen int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.streams[stream]
	if !ok {
		return nil
	}
	if int64(len(st.records)) > maxLen {
		st.records = st.records[int64(len(st.records))-maxLen:]
	}
	return nil
}

func (s *fakeStore) XInfoConsumers(ctx context.Context, stream, group string) ([]ConsumerInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.streams[stream]
	if !ok {
		return nil, nil
	}
	g, ok := st.groups[group]
	if !ok {
		return nil, nil
	}

	out := make([]ConsumerInfo, 0, len(g.consumers))
	now := time.Now()
	for name, last := range g.consumers {
		out = append(out, ConsumerInfo{Name: name, Idle: now.Sub(last)})
	}
	return out, nil
}

func (s *fakeStore) XInfoGroups(ctx context.Context, stream string) ([]GroupInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.streams[stream]
	if !ok {
		return nil, nil
	}
	out := make([]GroupInfo, 0, len(st.groups))
	for name := range st.groups {
		out = append(out, GroupInfo{Name: name})
	}
	return out, nil
}

func (s *fakeStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streamForLocked(key)
	return nil
}

func (s *fakeStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.streams[key]
	if !ok {
		return false, nil
	}
	return st.exists, nil
}

var _ Store = (*fakeStore)(nil)
