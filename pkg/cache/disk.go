package cache

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/rs/zerolog"
)

// ErrStoreClosed is returned for reads issued after Close.
var ErrStoreClosed = errors.New("disk store closed")

// DiskStore is the durable tier: one JSON record per key inside a single
// directory. All operations go through one FIFO queue. Writes, removals and
// clears are barriers; reads between two barriers run concurrently.
type DiskStore struct {
	fs     billy.Filesystem
	dir    string
	logger zerolog.Logger

	mu     sync.Mutex
	queue  []diskOp
	closed bool
	wake   chan struct{}
	done   chan struct{}

	// rw is held shared by running reads and exclusively by a running barrier
	rw sync.RWMutex
}

type diskOp struct {
	barrier bool
	run     func()

	// then runs after a read has released the queue
	then func()
}

// NewDiskStore creates a disk tier storing records under dir on fs.
func NewDiskStore(fs billy.Filesystem, dir string, logger zerolog.Logger) *DiskStore {
	d := &DiskStore{
		fs:     fs,
		dir:    dir,
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go d.dispatch()
	return d
}

// OpenDiskStore creates a disk tier rooted at a directory of the local
// filesystem. The directory is created on first write.
func OpenDiskStore(dir string, logger zerolog.Logger) *DiskStore {
	dir = filepath.Clean(dir)
	return NewDiskStore(osfs.New(filepath.Dir(dir)), filepath.Base(dir), logger)
}

// Write stores payload under key. The payload is encoded before Write
// returns, so later changes by the caller are not persisted.
func (d *DiskStore) Write(key string, payload Payload) {
	data, err := encodeEntry(key, payload)
	if err != nil {
		CacheErrors.WithLabelValues("write").Inc()
		d.logger.Warn().Err(err).Str("key", key).Msg("Failed to encode cache record")
		return
	}

	d.enqueueBarrier("write", func() {
		if err := d.write(key, data); err != nil {
			CacheErrors.WithLabelValues("write").Inc()
			d.logger.Warn().Err(err).Str("key", key).Msg("Failed to write cache record")
			return
		}
		CacheWriteBytes.Add(float64(len(data)))
		d.logger.Debug().Str("key", key).Int("bytes", len(data)).Msg("Wrote cache record")
	})
}

// Read looks up key and calls done from a queue goroutine with the payload,
// ErrCacheMiss when there is no record, or an error wrapping ErrCorruptEntry
// when the record cannot be decoded. done runs after the read has left the
// queue, so it may call Flush or Close.
func (d *DiskStore) Read(key string, done func(Payload, error)) {
	var (
		payload Payload
		err     error
	)
	ok := d.enqueue(diskOp{
		run: func() {
			payload, err = d.read(key)
			if err != nil && !errors.Is(err, ErrCacheMiss) {
				CacheErrors.WithLabelValues("read").Inc()
			}
		},
		then: func() { done(payload, err) },
	})
	if !ok {
		go done(nil, ErrStoreClosed)
	}
}

// Remove deletes the record for key. A missing record is not an error.
func (d *DiskStore) Remove(key string) {
	d.enqueueBarrier("remove", func() {
		err := d.fs.Remove(d.path(key))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			CacheErrors.WithLabelValues("remove").Inc()
			d.logger.Warn().Err(err).Str("key", key).Msg("Failed to remove cache record")
			return
		}
		if err == nil {
			CacheEvictions.WithLabelValues(layerDisk).Inc()
		}
	})
}

// Clear removes the whole cache directory.
func (d *DiskStore) Clear() {
	d.enqueueBarrier("clear", func() {
		if err := util.RemoveAll(d.fs, d.dir); err != nil {
			CacheErrors.WithLabelValues("clear").Inc()
			d.logger.Warn().Err(err).Str("dir", d.dir).Msg("Failed to clear disk cache")
		}
	})
}

// Flush blocks until every operation enqueued before it has finished.
func (d *DiskStore) Flush() {
	flushed := make(chan struct{})
	if !d.enqueue(diskOp{barrier: true, run: func() { close(flushed) }}) {
		<-d.done
		return
	}
	<-flushed
}

// Close drains the queue and stops the dispatcher. Further barriers are
// dropped and further reads fail with ErrStoreClosed.
func (d *DiskStore) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.signal()

	<-d.done
	return nil
}

func (d *DiskStore) enqueueBarrier(op string, run func()) {
	if !d.enqueue(diskOp{barrier: true, run: run}) {
		d.logger.Warn().Str("operation", op).Msg("Disk cache closed, dropping operation")
	}
}

func (d *DiskStore) enqueue(op diskOp) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	d.queue = append(d.queue, op)
	d.mu.Unlock()

	d.signal()
	return true
}

func (d *DiskStore) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// next pops the oldest operation, waiting while the queue is empty. It
// reports false once the store is closed and drained.
func (d *DiskStore) next() (diskOp, bool) {
	for {
		d.mu.Lock()
		if len(d.queue) > 0 {
			op := d.queue[0]
			d.queue[0] = diskOp{}
			d.queue = d.queue[1:]
			d.mu.Unlock()
			return op, true
		}
		if d.closed {
			d.mu.Unlock()
			return diskOp{}, false
		}
		d.mu.Unlock()
		<-d.wake
	}
}

func (d *DiskStore) dispatch() {
	defer close(d.done)

	for {
		op, ok := d.next()
		if !ok {
			// wait for reads still in flight
			d.rw.Lock()
			d.rw.Unlock()
			return
		}

		if op.barrier {
			d.rw.Lock()
			op.run()
			d.rw.Unlock()
			continue
		}

		d.rw.RLock()
		go func(op diskOp) {
			op.run()
			d.rw.RUnlock()
			op.then()
		}(op)
	}
}

func (d *DiskStore) path(key string) string {
	return d.fs.Join(d.dir, fileNameFor(key))
}

func (d *DiskStore) write(key string, data []byte) error {
	if err := d.fs.MkdirAll(d.dir, 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}

	tmp, err := d.fs.TempFile(d.dir, ".record-")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = d.fs.Remove(tmp.Name())
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = d.fs.Remove(tmp.Name())
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := d.fs.Rename(tmp.Name(), d.path(key)); err != nil {
		_ = d.fs.Remove(tmp.Name())
		return fmt.Errorf("rename record: %w", err)
	}
	return nil
}

func (d *DiskStore) read(key string) (Payload, error) {
	f, err := d.fs.Open(d.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("open record: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read record: %w", err)
	}

	entry, err := decodeEntry(key, data)
	if err != nil {
		return nil, err
	}

	d.logger.Debug().Str("key", key).Dur("age", entry.Age()).Msg("Read cache record")
	return entry.Payload, nil
}
