package storage

import (
	"errors"
	"sort"
	"sync"
)

// ErrOverlayClosed is returned when an overlay is used after Commit or Discard.
var ErrOverlayClosed = errors.New("storage: overlay closed")

// Overlay stages writes on top of a base database. Reads observe staged values
// first. Nothing reaches the base until Commit flushes the whole write set in a
// single batch; Discard drops it.
type Overlay struct {
	mu      sync.RWMutex
	base    Database
	writes  map[string][]byte
	deletes map[string]struct{}
	closed  bool
}

// NewOverlay wraps the provided database.
func NewOverlay(base Database) *Overlay {
	return &Overlay{
		base:    base,
		writes:  make(map[string][]byte),
		deletes: make(map[string]struct{}),
	}
}

func (o *Overlay) Put(key []byte, value []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrOverlayClosed
	}
	k := string(key)
	delete(o.deletes, k)
	o.writes[k] = append([]byte(nil), value...)
	return nil
}

func (o *Overlay) Get(key []byte) ([]byte, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return nil, ErrOverlayClosed
	}
	k := string(key)
	if value, ok := o.writes[k]; ok {
		return append([]byte(nil), value...), nil
	}
	if _, ok := o.deletes[k]; ok {
		return nil, ErrNotFound
	}
	return o.base.Get(key)
}

func (o *Overlay) Delete(key []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrOverlayClosed
	}
	k := string(key)
	delete(o.writes, k)
	o.deletes[k] = struct{}{}
	return nil
}

// NewBatch returns a batch that stages into the overlay rather than the base.
func (o *Overlay) NewBatch() Batch {
	return &overlayBatch{overlay: o}
}

// Close discards staged writes; the base database stays open.
func (o *Overlay) Close() { o.Discard() }

// Dirty reports the number of staged keys.
func (o *Overlay) Dirty() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.writes) + len(o.deletes)
}

// Commit flushes every staged write to the base database atomically and closes
// the overlay.
func (o *Overlay) Commit() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrOverlayClosed
	}
	batch := o.base.NewBatch()
	// Sorted application keeps the batch layout reproducible.
	keys := make([]string, 0, len(o.writes))
	for k := range o.writes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		batch.Put([]byte(k), o.writes[k])
	}
	deleted := make([]string, 0, len(o.deletes))
	for k := range o.deletes {
		deleted = append(deleted, k)
	}
	sort.Strings(deleted)
	for _, k := range deleted {
		batch.Delete([]byte(k))
	}
	if batch.Len() > 0 {
		if err := batch.Write(); err != nil {
			return err
		}
	}
	o.reset()
	return nil
}

// Discard drops staged writes and closes the overlay. Calling it after Commit
// is a no-op.
func (o *Overlay) Discard() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.reset()
}

func (o *Overlay) reset() {
	o.writes = nil
	o.deletes = nil
	o.closed = true
}

type overlayBatch struct {
	overlay *Overlay
	ops     []memOp
}

func (b *overlayBatch) Put(key []byte, value []byte) {
	b.ops = append(b.ops, memOp{key: string(key), value: append([]byte(nil), value...)})
}

func (b *overlayBatch) Delete(key []byte) {
	b.ops = append(b.ops, memOp{key: string(key), delete: true})
}

func (b *overlayBatch) Len() int { return len(b.ops) }

func (b *overlayBatch) Write() error {
	for _, op := range b.ops {
		var err error
		if op.delete {
			err = b.overlay.Delete([]byte(op.key))
		} else {
			err = b.overlay.Put([]byte(op.key), op.value)
		}
		if err != nil {
			return err
		}
	}
	b.ops = nil
	return nil
}
