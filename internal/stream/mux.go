// Package stream fans one turn's generated parts out to any number of live
// or reconnecting subscribers, keyed by a durable stream id.
package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/loomchat/loomchat/internal/ai"
)

var ErrNotFound = errors.New("stream not found")

// subBuffer is the live-delivery headroom per subscriber. A subscriber
// that falls this far behind is dropped rather than allowed to block the
// write path; it can re-attach and replay.
const subBuffer = 256

// ReplayStore is the durable replay backend. Load reports the parts seen
// so far and whether the stream has completed.
type ReplayStore interface {
	Append(ctx context.Context, streamID string, part ai.Part) error
	MarkDone(ctx context.Context, streamID string) error
	Load(ctx context.Context, streamID string) ([]ai.Part, bool, error)
}

// Mux tracks active streams and serves attach requests. With a nil
// ReplayStore it runs degraded: streams are live-only and stop being
// resumable once they leave local memory.
type Mux struct {
	mu        sync.Mutex
	active    map[string]*Stream
	store     ReplayStore
	retention time.Duration
	log       *slog.Logger
}

func NewMux(store ReplayStore, retention time.Duration, log *slog.Logger) *Mux {
	if retention <= 0 {
		retention = 5 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Mux{
		active:    make(map[string]*Stream),
		store:     store,
		retention: retention,
		log:       log,
	}
}

func (m *Mux) Degraded() bool { return m.store == nil }

// Open registers a fresh stream. The caller must have persisted the
// corresponding stream record before publishing any parts.
func (m *Mux) Open(id string) *Stream {
	s := &Stream{
		id:   id,
		mux:  m,
		subs: make(map[*subscriber]struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	m.mu.Lock()
	m.active[id] = s
	m.mu.Unlock()
	if m.store != nil {
		go s.persistLoop()
	}
	return s
}

// Subscribe attaches to a stream. An active stream replays its buffer and
// then follows live; a completed stream within the replay backend's
// retention replays in full and ends. Parts arrive in production order
// with no gaps or duplicates; channel close is the single terminal event.
func (m *Mux) Subscribe(ctx context.Context, id string) (*Subscription, error) {
	m.mu.Lock()
	s, ok := m.active[id]
	m.mu.Unlock()
	if ok {
		return s.attach(), nil
	}
	if m.store == nil {
		return nil, ErrNotFound
	}

	parts, done, err := m.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 && !done {
		return nil, ErrNotFound
	}
	ch := make(chan ai.Part, len(parts))
	for _, p := range parts {
		ch <- p
	}
	close(ch)
	return &Subscription{C: ch}, nil
}

func (m *Mux) remove(id string) {
	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()
}

type subscriber struct {
	ch     chan ai.Part
	closed bool
}

// Subscription delivers a stream's parts in order. C is closed when the
// stream ends or the subscriber is dropped for falling behind.
type Subscription struct {
	C      <-chan ai.Part
	cancel func()
}

func (s *Subscription) Cancel() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Stream is one turn's in-flight output. The generation side is the sole
// writer; any number of subscribers read.
type Stream struct {
	id    string
	mux   *Mux
	mu    sync.Mutex
	cond  *sync.Cond
	parts []ai.Part
	queue []ai.Part
	subs  map[*subscriber]struct{}
	done  bool
}

func (s *Stream) ID() string { return s.id }

// Publish appends a part to the replay buffer and fans it out. A
// subscriber whose queue is full is dropped. Safe for concurrent use; the
// replay backend sees parts in exactly the buffer order because writes are
// queued under the same lock and drained by a single goroutine.
func (s *Stream) Publish(p ai.Part) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.parts = append(s.parts, p)
	for sub := range s.subs {
		select {
		case sub.ch <- p:
		default:
			delete(s.subs, sub)
			sub.closed = true
			close(sub.ch)
			s.mux.log.Warn("dropping slow stream subscriber", "stream_id", s.id)
		}
	}
	if s.mux.store != nil {
		s.queue = append(s.queue, p)
		s.cond.Signal()
	}
}

// Close completes the stream: subscribers get their terminal close, the
// persist loop flushes the remaining queue and records completion, and the
// local buffer is freed after the retention window.
func (s *Stream) Close() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	for sub := range s.subs {
		sub.closed = true
		close(sub.ch)
	}
	s.subs = nil
	s.cond.Signal()
	s.mu.Unlock()

	time.AfterFunc(s.mux.retention, func() { s.mux.remove(s.id) })
}

// persistLoop drains queued parts to the replay backend one at a time, in
// buffer order, then records completion once the stream is closed and the
// queue is empty. Replay writes are detached from any request context; a
// failed write is logged and skipped.
func (s *Stream) persistLoop() {
	ctx := context.Background()
	s.mu.Lock()
	for {
		for len(s.queue) == 0 && !s.done {
			s.cond.Wait()
		}
		if len(s.queue) > 0 {
			p := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			if err := s.mux.store.Append(ctx, s.id, p); err != nil {
				s.mux.log.Warn("replay append failed", "stream_id", s.id, "err", err)
			}
			s.mu.Lock()
			continue
		}
		s.mu.Unlock()
		if err := s.mux.store.MarkDone(ctx, s.id); err != nil {
			s.mux.log.Warn("replay mark done failed", "stream_id", s.id, "err", err)
		}
		return
	}
}

// attach replays the buffered parts and registers for live delivery. The
// replay is copied under the stream lock, so attaching never blocks the
// writer and never observes a gap between replay and live.
func (s *Stream) attach() *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		ch := make(chan ai.Part, len(s.parts))
		for _, p := range s.parts {
			ch <- p
		}
		close(ch)
		return &Subscription{C: ch}
	}

	sub := &subscriber{ch: make(chan ai.Part, len(s.parts)+subBuffer)}
	for _, p := range s.parts {
		sub.ch <- p
	}
	s.subs[sub] = struct{}{}
	return &Subscription{
		C: sub.ch,
		cancel: func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.subs[sub]; ok {
				delete(s.subs, sub)
				if !sub.closed {
					sub.closed = true
					close(sub.ch)
				}
			}
		},
	}
}
