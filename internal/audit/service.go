package audit

import (
	"context"
	"log/slog"
	"sync"
)

// commandKind distinguishes the three commands a Service accepts.
type commandKind int

const (
	cmdRecord commandKind = iota
	cmdFlush
)

type command struct {
	kind  commandKind
	event PersistedEvent
	done  chan struct{} // closed once processed, for Flush
}

// defaultChannelCapacity bounds the channel between producers and the
// single writer worker.
const defaultChannelCapacity = 4096

// Service is the background audit writer: a single goroutine owns the
// active file and hash-chain tail; producers never touch disk I/O
// directly. Record is non-blocking even when the channel is full: an
// overflow increments errors_total{kind="audit"} via onError and logs,
// rather than blocking the request path.
type Service struct {
	ch      chan command
	onError func(kind string)
	logger  *slog.Logger

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewService starts the writer goroutine over cfg. onError, if non-nil, is
// invoked with an error kind ("audit") whenever a write or channel-overflow
// failure occurs, so the caller can increment its own metrics counters
// without this package importing the metrics package directly.
func NewService(cfg WriterConfig, onError func(kind string)) (*Service, error) {
	w, err := newWriter(cfg)
	if err != nil {
		return nil, err
	}
	if onError == nil {
		onError = func(string) {}
	}

	s := &Service{
		ch:      make(chan command, defaultChannelCapacity),
		onError: onError,
		logger:  slog.Default(),
		stopCh:  make(chan struct{}),
	}

	s.wg.Add(1)
	go s.run(w)
	return s, nil
}

func (s *Service) run(w *writer) {
	defer s.wg.Done()
	defer func() { _ = w.close() }()

	for {
		select {
		case cmd := <-s.ch:
			switch cmd.kind {
			case cmdRecord:
				if err := w.write(cmd.event); err != nil {
					s.logger.Error("audit: failed to write event", "error", err)
					s.onError("audit")
				}
			case cmdFlush:
				if err := w.flush(); err != nil {
					s.logger.Error("audit: failed to flush", "error", err)
					s.onError("audit")
				}
				if cmd.done != nil {
					close(cmd.done)
				}
			}
		case <-s.stopCh:
			// Drain whatever is already queued before exiting so events
			// enqueued before a client disconnect are still written.
			for {
				select {
				case cmd := <-s.ch:
					if cmd.kind == cmdRecord {
						if err := w.write(cmd.event); err != nil {
							s.logger.Error("audit: failed to write event during drain", "error", err)
						}
					} else if cmd.done != nil {
						close(cmd.done)
					}
				default:
					_ = w.flush()
					return
				}
			}
		}
	}
}

// Record enqueues an event for persistence. Never blocks the caller: if the
// channel is full the event is dropped, logged, and counted as an audit
// error.
func (s *Service) Record(event PersistedEvent) {
	select {
	case s.ch <- command{kind: cmdRecord, event: event}:
	default:
		s.logger.Error("audit: channel full, dropping event", "event_type", event.EventType)
		s.onError("audit")
	}
}

// Flush blocks until every event enqueued so far has been written and the
// buffer synced, or ctx is done.
func (s *Service) Flush(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case s.ch <- command{kind: cmdFlush, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown signals the writer to drain its queue and stop. Safe to call
// more than once.
func (s *Service) Shutdown() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}
