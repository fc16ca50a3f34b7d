package actionlog

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DoyleJ11/poker-table-backend/internal/table"
	"go.uber.org/zap"
)

const (
	defaultQueue = 256
	maxBatch     = 64
	writeTimeout = 5 * time.Second
)

// Recorder hands table events to a Sink off the coordinator goroutine.
// Record never blocks: when the queue is full the batch is dropped and
// counted.
type Recorder struct {
	sink Sink
	log  *zap.Logger
	now  func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan []Entry
	done   chan struct{}

	dropped atomic.Int64
	failed  atomic.Int64
}

func NewRecorder(sink Sink, queue int, log *zap.Logger) *Recorder {
	if queue <= 0 {
		queue = defaultQueue
	}
	if log == nil {
		log = zap.NewNop()
	}
	r := &Recorder{
		sink:  sink,
		log:   log,
		now:   time.Now,
		queue: make(chan []Entry, queue),
		done:  make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *Recorder) Record(events []table.Event) {
	at := r.now()
	entries := make([]Entry, len(events))
	for i, e := range events {
		entries[i] = FromEvent(e, at)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- entries:
	default:
		n := r.dropped.Add(int64(len(entries)))
		r.log.Warn("action log queue full, dropping events", zap.Int("events", len(entries)), zap.Int64("dropped_total", n))
	}
}

func (r *Recorder) loop() {
	defer close(r.done)
	for first := range r.queue {
		batch := first
	fill:
		for len(batch) < maxBatch {
			select {
			case more, ok := <-r.queue:
				if !ok {
					break fill
				}
				batch = append(batch, more...)
			default:
				break fill
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := r.sink.Write(ctx, batch); err != nil {
			n := r.failed.Add(int64(len(batch)))
			r.log.Error("action log write failed", zap.Int("events", len(batch)), zap.Int64("failed_total", n), zap.Error(err))
		}
		cancel()
	}
}

// Close stops accepting events and waits for queued ones to be written.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

func (r *Recorder) Failed() int64 { return r.failed.Load() }
