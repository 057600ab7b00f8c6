package kvstore

import (
	"context"
	"sync"
	"time"

	"github.com/docflow/docflow-backend/pkg/logger"
)

type entryKey struct {
	namespace string
	key       string
}

type pendingWrite struct {
	value   []byte
	deleted bool
}

// Debounced coalesces writes to an underlying Store.
// Writes are buffered and flushed together once no new write arrived for
// the configured window. Reads see buffered writes, including the ones a
// running flush has not written yet.
type Debounced struct {
	store  Store
	window time.Duration
	log    *logger.Logger

	// flushMu serializes flushes and namespace deletes
	flushMu sync.Mutex

	mu       sync.Mutex
	pending  map[entryKey]pendingWrite
	inflight map[entryKey]pendingWrite
	order    []entryKey
	timer    *time.Timer
	closed   bool
}

// NewDebounced wraps store. A window of zero or less writes through.
func NewDebounced(store Store, window time.Duration, log *logger.Logger) *Debounced {
	return &Debounced{
		store:   store,
		window:  window,
		log:     log.WithComponent("kv_debounce"),
		pending: make(map[entryKey]pendingWrite),
	}
}

func (d *Debounced) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	k := entryKey{namespace, key}
	d.mu.Lock()
	w, ok := d.pending[k]
	if !ok {
		w, ok = d.inflight[k]
	}
	d.mu.Unlock()

	if ok {
		if w.deleted {
			return nil, ErrNotFound
		}
		return append([]byte(nil), w.value...), nil
	}
	return d.store.Get(ctx, namespace, key)
}

func (d *Debounced) Set(ctx context.Context, namespace, key string, value []byte) error {
	return d.buffer(ctx, entryKey{namespace, key}, pendingWrite{value: append([]byte(nil), value...)})
}

func (d *Debounced) Delete(ctx context.Context, namespace, key string) error {
	return d.buffer(ctx, entryKey{namespace, key}, pendingWrite{deleted: true})
}

// DeleteNamespace drops buffered writes of namespace and deletes it
// immediately. A running flush is waited for so it cannot write the
// namespace back afterwards.
func (d *Debounced) DeleteNamespace(ctx context.Context, namespace string) error {
	d.flushMu.Lock()
	defer d.flushMu.Unlock()

	d.mu.Lock()
	kept := d.order[:0]
	for _, k := range d.order {
		if k.namespace == namespace {
			delete(d.pending, k)
			continue
		}
		kept = append(kept, k)
	}
	d.order = kept
	d.mu.Unlock()

	return d.store.DeleteNamespace(ctx, namespace)
}

func (d *Debounced) Keys(ctx context.Context, namespace string) ([]string, error) {
	if err := d.Flush(ctx); err != nil {
		return nil, err
	}
	return d.store.Keys(ctx, namespace)
}

func (d *Debounced) buffer(ctx context.Context, k entryKey, w pendingWrite) error {
	d.mu.Lock()
	if d.closed || d.window <= 0 {
		d.mu.Unlock()
		return d.apply(ctx, k, w)
	}

	if _, exists := d.pending[k]; !exists {
		d.order = append(d.order, k)
	}
	d.pending[k] = w

	if d.timer == nil {
		d.timer = time.AfterFunc(d.window, d.flushFromTimer)
	} else {
		d.timer.Reset(d.window)
	}
	d.mu.Unlock()
	return nil
}

func (d *Debounced) flushFromTimer() {
	if err := d.Flush(context.Background()); err != nil {
		d.log.Error().Err(err).Msg("debounced flush failed")
	}
}

// Flush writes every buffered change to the underlying store now.
// Changes that fail to write stay buffered unless newer ones replaced them.
func (d *Debounced) Flush(ctx context.Context) error {
	d.flushMu.Lock()
	defer d.flushMu.Unlock()

	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	batch := d.pending
	order := d.order
	d.pending = make(map[entryKey]pendingWrite)
	d.inflight = batch
	d.order = nil
	d.mu.Unlock()

	if len(order) == 0 {
		return nil
	}

	write := func(ctx context.Context) error {
		for _, k := range order {
			if err := d.apply(ctx, k, batch[k]); err != nil {
				return err
			}
		}
		return nil
	}

	var err error
	if b, ok := d.store.(Batcher); ok {
		err = b.Batch(ctx, write)
	} else {
		err = write(ctx)
	}
	if err != nil {
		d.requeue(order, batch)
		return err
	}

	d.mu.Lock()
	d.inflight = nil
	d.mu.Unlock()

	d.log.Debug().Int("writes", len(order)).Msg("flushed buffered writes")
	return nil
}

func (d *Debounced) requeue(order []entryKey, batch map[entryKey]pendingWrite) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.inflight = nil

	for _, k := range order {
		if _, newer := d.pending[k]; newer {
			continue
		}
		d.pending[k] = batch[k]
		d.order = append(d.order, k)
	}
	if !d.closed && d.timer == nil && len(d.order) > 0 {
		d.timer = time.AfterFunc(d.window, d.flushFromTimer)
	}
}

func (d *Debounced) apply(ctx context.Context, k entryKey, w pendingWrite) error {
	if w.deleted {
		return d.store.Delete(ctx, k.namespace, k.key)
	}
	return d.store.Set(ctx, k.namespace, k.key, w.value)
}

// Close flushes buffered writes. Later writes go straight to the store.
func (d *Debounced) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return d.Flush(ctx)
}
