package socket

import (
	"context"
	"fmt"
	"sync"
	"time"

	"docsync/pkg/logger"
	"docsync/pkg/metrics"
)

const (
	triggerAutosave = "autosave"
	triggerManual   = "manual"
	triggerClose    = "close"
)

// Store is the durable side of a document. UpdateContent must be safe to call
// repeatedly with the same value. Both methods return an error wrapping
// model.ErrNoDocument once the document has been deleted.
type Store interface {
	GetContent(ctx context.Context, docID string) (string, error)
	UpdateContent(ctx context.Context, docID, content string) error
}

type persistJob struct {
	content string
	version uint64
	trigger string
	done    func(err error)
}

// writer serializes every store write of one document in the order the session
// scheduled them, so an older snapshot never lands after a newer one.
type writer struct {
	docID   string
	store   Store
	timeout time.Duration

	mu     sync.Mutex
	queue  []persistJob
	closed bool

	wake    chan struct{}
	stopped chan struct{}
}

func newWriter(docID string, store Store, timeout time.Duration) *writer {
	w := &writer{
		docID:   docID,
		store:   store,
		timeout: timeout,
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go w.run()
	return w
}

// enqueue never blocks. It reports false once the writer is closed.
func (w *writer) enqueue(job persistJob) bool {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return false
	}
	w.queue = append(w.queue, job)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return true
}

// close stops accepting jobs. Queued jobs are still written.
func (w *writer) close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *writer) wait() { <-w.stopped }

func (w *writer) run() {
	defer close(w.stopped)
	for {
		w.mu.Lock()
		if len(w.queue) == 0 {
			closed := w.closed
			w.mu.Unlock()
			if closed {
				return
			}
			<-w.wake
			continue
		}
		job := w.queue[0]
		w.queue = w.queue[1:]
		w.mu.Unlock()

		err := w.write(job)
		if job.done != nil {
			job.done(err)
		}
	}
}

func (w *writer) write(job persistJob) error {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	if err := w.store.UpdateContent(ctx, w.docID, job.content); err != nil {
		metrics.PersistWrites.WithLabelValues(job.trigger, "error").Inc()
		logger.Sugar.Errorf("Failed to %s doc %s at version %d: %v", job.trigger, w.docID, job.version, err)
		return fmt.Errorf("%w: %w", ErrPersistenceFault, err)
	}
	metrics.PersistWrites.WithLabelValues(job.trigger, "ok").Inc()
	logger.Sugar.Debugf("Persisted doc %s at version %d (%s)", w.docID, job.version, job.trigger)
	return nil
}

// debouncer is a trailing debounce: every kick restarts the delay and only the last
// kick in a quiet window fires. It is driven from the session goroutine only; fire
// is called from a timer goroutine with the generation it was armed for.
type debouncer struct {
	delay time.Duration
	fire  func(gen uint64)
	timer *time.Timer
	gen   uint64
}

func newDebouncer(delay time.Duration, fire func(gen uint64)) *debouncer {
	return &debouncer{delay: delay, fire: fire}
}

func (d *debouncer) kick() {
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
	}
	gen := d.gen
	d.timer = time.AfterFunc(d.delay, func() { d.fire(gen) })
}

// current reports whether gen is the latest arming, so stale fires can be ignored.
func (d *debouncer) current(gen uint64) bool { return gen == d.gen }

func (d *debouncer) pending() bool { return d.timer != nil }

func (d *debouncer) settle() { d.timer = nil }

func (d *debouncer) stop() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
}
