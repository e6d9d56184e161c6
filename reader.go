package eventbus

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// dispatchFunc delivers one decoded message to local subscribers. It never
// returns an error to the reader: handler failures are logged internally.
// Undecodable records never reach it; the reader logs those itself. The
// record is always acked regardless.
type dispatchFunc func(ctx context.Context, msg Message)

// streamReader is a single-topic blocking consumer loop. It owns a
// dedicated Store connection because XREADGROUP blocks indefinitely;
// sharing a connection with the control path would stall unrelated ops.
type streamReader struct {
	stream    string
	group     string
	consumer  string
	startID   string
	batchSize int64
	block     time.Duration

	store    Store
	codec    Codec
	dispatch dispatchFunc
	log      *logrus.Entry

	stop chan struct{}
	done chan struct{}
}

func newStreamReader(stream, group, consumer, startID string, batchSize int64, store Store, codec Codec, dispatch dispatchFunc, log *logrus.Entry) *streamReader {
	return &streamReader{
		stream:    stream,
		group:     group,
		consumer:  consumer,
		startID:   startID,
		batchSize: batchSize,
		block:     time.Second,
		store:     store,
		codec:     codec,
		dispatch:  dispatch,
		log:       log.WithField("stream", stream),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// init creates the consumer group (idempotent) and sets the stream's
// initial TTL, as required before the loop starts reading.
func (r *streamReader) init(ctx context.Context, initialTTL time.Duration) error {
	if err := r.store.XGroupCreate(ctx, r.stream, r.group, r.startID); err != nil {
		return wrapTransport("XGROUP CREATE", err)
	}
	if err := r.store.Expire(ctx, r.stream, initialTTL); err != nil {
		return wrapTransport("EXPIRE", err)
	}
	return nil
}

// run is the blocking loop; it returns once stop is requested and the
// current batch has been fully acked. Call in its own goroutine.
func (r *streamReader) run() {
	defer close(r.done)

	for {
		select {
		case <-r.stop:
			return
		default:
		}

		records, err := r.store.XReadGroup(context.Background(), r.stream, r.group, r.consumer, r.batchSize, r.block)
		if err != nil {
			r.log.WithError(err).Warn("eventbus: read group failed, retrying next iteration")
			continue
		}

		for _, rec := range records {
			r.handle(rec)
		}
	}
}

func (r *streamReader) handle(rec StreamRecord) {
	env, err := r.codec.Decode(rec.Message)
	if err != nil {
		r.log.WithError(&DecodeError{RecordID: rec.ID, Err: err}).Debug("eventbus: dropping undecodable record")
	} else {
		r.dispatch(context.Background(), Message{ID: rec.ID, Envelope: env})
	}

	if err := r.store.XAck(context.Background(), r.stream, r.group, rec.ID); err != nil {
		r.log.WithError(err).Warn("eventbus: ack failed")
	}
}

// stopAndWait requests the loop to stop and blocks until it has exited.
// Shutdown latency is bounded by the BLOCK timeout of the in-flight read.
func (r *streamReader) stopAndWait() {
	close(r.stop)
	<-r.done
}
