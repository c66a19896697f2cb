package queue

import (
	"context"
	"hash/fnv"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/fitcoach/coach-system/internal/api/metrics"
	"github.com/fitcoach/coach-system/internal/core/domain"
)

const (
	defaultWorkers = 4
	channelBuffer  = 256
)

// AuditRecorder persists one audit record.
type AuditRecorder interface {
	Record(ctx context.Context, record domain.AuditRecord) error
}

// Dispatcher hands audit records to a fixed set of workers using
// consistent hashing on the user ID, so records of one user are written in
// the order they were produced.
type Dispatcher struct {
	workers  []chan domain.AuditRecord
	recorder AuditRecorder
	log      zerolog.Logger
}

// NewDispatcher creates a Dispatcher with numWorkers sharded workers.
// If numWorkers <= 0, defaultWorkers is used.
func NewDispatcher(numWorkers int, recorder AuditRecorder, log zerolog.Logger) *Dispatcher {
	if numWorkers <= 0 {
		numWorkers = defaultWorkers
	}
	d := &Dispatcher{
		workers:  make([]chan domain.AuditRecord, numWorkers),
		recorder: recorder,
		log:      log,
	}
	for i := range d.workers {
		d.workers[i] = make(chan domain.AuditRecord, channelBuffer)
	}
	return d
}

// Start launches all worker goroutines. Workers stop when ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	for i, ch := range d.workers {
		go d.runWorker(ctx, i, ch)
	}
}

// Enqueue hands a record to the worker owning its user. It never blocks:
// when that worker's buffer is full the record is dropped and logged.
func (d *Dispatcher) Enqueue(record domain.AuditRecord) {
	idx := d.shardIndex(record.UserID)
	select {
	case d.workers[idx] <- record:
		metrics.AuditQueueDepth.WithLabelValues(strconv.Itoa(idx)).Set(float64(len(d.workers[idx])))
	default:
		metrics.AuditRecordsTotal.WithLabelValues("dropped").Inc()
		d.log.Warn().
			Str("user_id", record.UserID).
			Str("action", record.Action).
			Int("worker_id", idx).
			Msg("audit queue full, record dropped")
	}
}

// shardIndex maps a user ID deterministically to a worker index.
func (d *Dispatcher) shardIndex(userID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return int(h.Sum32() % uint32(len(d.workers)))
}

func (d *Dispatcher) runWorker(ctx context.Context, id int, ch <-chan domain.AuditRecord) {
	label := strconv.Itoa(id)
	for {
		select {
		case <-ctx.Done():
			return
		case record, ok := <-ch:
			if !ok {
				return
			}
			metrics.AuditQueueDepth.WithLabelValues(label).Set(float64(len(ch)))
			if err := d.recorder.Record(ctx, record); err != nil {
				d.log.Error().Err(err).
					Str("user_id", record.UserID).
					Str("action", record.Action).
					Int("worker_id", id).
					Msg("audit write failed")
			}
		}
	}
}
