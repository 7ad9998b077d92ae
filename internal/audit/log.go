// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package audit

import (
	"context"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"
	"time"
)

const defaultBufferSize = 1024

// Config controls buffering and chain sealing.
type Config struct {
	BufferSize int
	HMACKey    []byte
}

type item struct {
	entry   Entry
	flushed chan struct{}
}

// Log is the audit log. Record never blocks: entries are queued for a single
// writer goroutine that seals them into the hash chain and appends them to
// the sink in queue order. When the queue is full the entry is dropped and
// reported to the Observer instead of stalling the caller.
type Log struct {
	sink     Sink
	reader   Reader
	chain    *Chain
	observer Observer
	now      func() time.Time

	ch        chan item
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closed    atomic.Bool
	// sendMu orders enqueues before Close: senders hold it for reading
	// across the closed check and the send.
	sendMu sync.RWMutex

	dropped     atomic.Uint64
	writeErrors atomic.Uint64

	// owned by the writer goroutine
	seq  int64
	head string
}

// Option configures a Log.
type Option func(*Log)

// WithObserver registers an observer for dropped and failed writes.
func WithObserver(o Observer) Option {
	return func(l *Log) {
		if o != nil {
			l.observer = o
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// New starts a log writing to sink. If sink reports a chain head, the log
// continues from it.
func New(ctx context.Context, cfg Config, sink Sink, opts ...Option) (*Log, error) {
	chain, err := NewChain(cfg.HMACKey)
	if err != nil {
		return nil, err
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}

	l := &Log{
		sink:     sink,
		chain:    chain,
		observer: noopObserver{},
		now:      time.Now,
		ch:       make(chan item, cfg.BufferSize),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	if r, ok := sink.(Reader); ok {
		l.reader = r
	}
	if h, ok := sink.(ChainHead); ok {
		seq, hash, err := h.Head(ctx)
		if err != nil {
			return nil, err
		}
		l.seq, l.head = seq, hash
	}

	l.wg.Add(1)
	go l.run()

	return l, nil
}

// Record queues an entry. It returns ErrLogClosed once the log has been
// closed; a full queue drops the entry and returns nil.
func (l *Log) Record(ctx context.Context, e Entry) error {
	if e.Operation == "" {
		return ErrEmptyOperation
	}
	if !e.Outcome.Valid() {
		return ErrUnknownOutcome
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now()
	}
	// PostgreSQL keeps microseconds; sealing finer timestamps would make
	// stored entries fail verification.
	e.Timestamp = e.Timestamp.UTC().Truncate(time.Microsecond)
	e.Metadata = maps.Clone(e.Metadata)
	e.Seq, e.PrevHash, e.Hash = 0, "", ""

	l.sendMu.RLock()
	defer l.sendMu.RUnlock()
	if l.closed.Load() {
		return ErrLogClosed
	}
	select {
	case l.ch <- item{entry: e}:
		return nil
	default:
		l.dropped.Add(1)
		l.observer.EntryDropped(ctx)
		slog.WarnContext(ctx, "audit queue full, entry dropped",
			slog.String("operation", e.Operation),
			slog.String("outcome", string(e.Outcome)),
		)
		return nil
	}
}

// Flush waits until every entry queued before the call has been handed to
// the sink.
func (l *Log) Flush(ctx context.Context) error {
	f := make(chan struct{})
	if queued, err := l.enqueueFlush(ctx, f); !queued {
		return err
	}
	select {
	case <-f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueueFlush queues the marker unless the log is closed. The writer keeps
// running while the read lock is held, so a blocked send always completes.
func (l *Log) enqueueFlush(ctx context.Context, f chan struct{}) (bool, error) {
	l.sendMu.RLock()
	defer l.sendMu.RUnlock()
	if l.closed.Load() {
		return false, nil
	}
	select {
	case l.ch <- item{flushed: f}:
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Query reads entries most recent first.
func (l *Log) Query(ctx context.Context, filter Filter) ([]Entry, error) {
	if l.reader == nil {
		return nil, ErrQueryUnsupported
	}
	return l.reader.Query(ctx, filter)
}

// Close drains the queue and stops the writer.
func (l *Log) Close() {
	l.closeOnce.Do(func() {
		l.sendMu.Lock()
		l.closed.Store(true)
		l.sendMu.Unlock()
		close(l.done)
		l.wg.Wait()
	})
}

// Closed reports whether Close has been called.
func (l *Log) Closed() bool {
	return l.closed.Load()
}

// Dropped returns the number of entries lost to a full queue.
func (l *Log) Dropped() uint64 {
	return l.dropped.Load()
}

// WriteErrors returns the number of entries the sink rejected.
func (l *Log) WriteErrors() uint64 {
	return l.writeErrors.Load()
}

func (l *Log) run() {
	defer l.wg.Done()

	for {
		select {
		case it := <-l.ch:
			l.write(it)
		case <-l.done:
			for {
				select {
				case it := <-l.ch:
					l.write(it)
				default:
					return
				}
			}
		}
	}
}

func (l *Log) write(it item) {
	if it.flushed != nil {
		close(it.flushed)
		return
	}

	e := it.entry
	l.chain.Seal(&e, l.seq+1, l.head)

	if err := l.sink.Append(context.Background(), e); err != nil {
		l.writeErrors.Add(1)
		l.observer.WriteFailed(context.Background(), err)
		slog.Warn("audit sink write failed",
			slog.String("operation", e.Operation),
			slog.String("error", err.Error()),
		)
		return
	}
	l.seq = e.Seq
	l.head = e.Hash
}
