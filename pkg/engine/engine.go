// ABOUTME: Public facade composing the page file, both caches, the B+-tree,
// ABOUTME: the record store, and the lock into the consumer API

package engine

import (
	"time"

	"github.com/nainya/domstore/internal/logger"
	"github.com/nainya/domstore/internal/metrics"
	"github.com/nainya/domstore/pkg/btree"
	"github.com/nainya/domstore/pkg/cache"
	"github.com/nainya/domstore/pkg/domstore"
	"github.com/nainya/domstore/pkg/gid"
	"github.com/nainya/domstore/pkg/key"
	"github.com/nainya/domstore/pkg/lock"
	"github.com/nainya/domstore/pkg/page"
)

// Options configures an Engine.
type Options struct {
	BTreeBuffers  int           // default 256
	DataBuffers   int           // default 256
	KeyLen        int16         // optional, >0
	LockTimeoutMs int           // default 60000
	ReadOnly      bool
	Logger        *logger.Logger
	Metrics       *metrics.Metrics
}

func (o Options) withDefaults() Options {
	if o.BTreeBuffers <= 0 {
		o.BTreeBuffers = 256
	}
	if o.DataBuffers <= 0 {
		o.DataBuffers = 256
	}
	if o.LockTimeoutMs <= 0 {
		o.LockTimeoutMs = 60000
	}
	if o.Logger == nil {
		o.Logger = logger.GetGlobalLogger()
	}
	return o
}

// Engine is the DOM storage engine's composition root: every exported
// method here is part of the consumer-facing API.
type Engine struct {
	pf       *page.PageFile
	btreeC   *cache.BTreePageCache
	dataC    *cache.DataPageCache
	tree     *btree.Tree
	store    *domstore.Store
	lock     *lock.Lock
	opts     Options
	log      *logger.Logger
	met      *metrics.Metrics
	sp       gid.StructureProvider
	nextSeq  uint64
}

// Open opens (or creates) the DOM file at path with the given options.
func Open(path string, opts Options) (*Engine, error) {
	opts = opts.withDefaults()

	pf, err := page.Open(path)
	if err != nil {
		return nil, &Error{Kind: IoError, Op: "open", Err: err}
	}
	if opts.KeyLen > 0 {
		pf.Header.KeyLen = opts.KeyLen
	}
	pf.WithObservability(opts.Logger, opts.Metrics)

	btreeC := cache.NewBTreePageCache(opts.BTreeBuffers).WithObservability("btree", opts.Logger, opts.Metrics)
	dataC := cache.NewDataPageCache(opts.DataBuffers).WithObservability("data", opts.Logger, opts.Metrics)

	e := &Engine{
		pf:     pf,
		btreeC: btreeC,
		dataC:  dataC,
		tree:   btree.New(pf, btreeC).WithObservability(opts.Logger, opts.Metrics),
		store:  domstore.New(pf, dataC).WithObservability(opts.Logger, opts.Metrics),
		lock:   lock.New(time.Duration(opts.LockTimeoutMs) * time.Millisecond),
		opts:   opts,
		log:    opts.Logger,
		met:    opts.Metrics,
	}
	e.log.Info("engine opened").Str("path", path).Send()
	return e, nil
}

// Create is an alias for Open that makes call sites reading "open,
// close, create" vocabulary explicit; a DOM file is created lazily the
// first time it is opened, so there is no separate on-disk
// initialization step.
func Create(path string, opts Options) (*Engine, error) {
	return Open(path, opts)
}

// Close releases the engine's file handle. Callers should Flush first if
// dirty pages must survive the close.
func (e *Engine) Close() error {
	if err := e.pf.Close(); err != nil {
		return &Error{Kind: IoError, Op: "close", Err: err}
	}
	return nil
}

// SetStructureProvider installs the XML structure collaborator the
// fallback lookup path needs. Engines that never call
// GetByGid do not need one.
func (e *Engine) SetStructureProvider(sp gid.StructureProvider) { e.sp = sp }

// NextOwner issues a fresh owner handle for a new session.
func (e *Engine) NextOwner() domstore.Owner {
	e.nextSeq++
	return domstore.Owner(e.nextSeq)
}

func (e *Engine) acquire(owner lock.Owner, mode lock.Mode) error {
	start := time.Now()
	err := e.lock.Acquire(owner, mode)
	modeLabel := "shared"
	if mode == lock.Exclusive {
		modeLabel = "exclusive"
	}
	if e.met != nil {
		if err != nil {
			e.met.RecordLockTimeout(modeLabel)
		} else {
			e.met.RecordLockAcquisition(modeLabel, time.Since(start))
		}
	}
	if err != nil {
		if e.log != nil {
			e.log.LockLogger().Warn("lock acquisition timed out").Str("mode", modeLabel).Send()
		}
		return wrap("acquire", err)
	}
	return nil
}

// Put stores bytes at key via the B+-tree, appending a new record and
// indexing it, or updating the record in place if key already exists
// and the new bytes are the same length.
func (e *Engine) Put(owner domstore.Owner, key_ []byte, bytes []byte) (domstore.Address, error) {
	if e.opts.ReadOnly {
		return 0, &Error{Kind: ReadOnly, Op: "put"}
	}
	if err := e.acquire(lock.Owner(owner), lock.Exclusive); err != nil {
		return 0, err
	}
	defer e.lock.Release(lock.Owner(owner), lock.Exclusive)

	if addr, found, err := e.tree.Get(key_); err != nil {
		return 0, wrap("put", err)
	} else if found {
		if err := e.store.Update(domstore.Address(addr), bytes); err != nil {
			return 0, wrap("put", err)
		}
		return domstore.Address(addr), nil
	}

	addr, err := e.store.Add(owner, bytes)
	if err != nil {
		return 0, wrap("put", err)
	}
	if err := e.tree.Insert(key_, uint64(addr)); err != nil {
		return 0, wrap("put", err)
	}
	return addr, nil
}

// GetByKey resolves key through the B+-tree and returns its bytes.
// Returns ErrKeyNotFound if key is not indexed.
func (e *Engine) GetByKey(owner domstore.Owner, key_ []byte) ([]byte, error) {
	if err := e.acquire(lock.Owner(owner), lock.Shared); err != nil {
		return nil, err
	}
	defer e.lock.Release(lock.Owner(owner), lock.Shared)

	addr, found, err := e.tree.Get(key_)
	if err != nil {
		return nil, wrap("get", err)
	}
	if !found {
		return nil, ErrKeyNotFound
	}
	val, err := e.store.Get(domstore.Address(addr))
	if err != nil {
		return nil, wrap("get", err)
	}
	return val, nil
}

// GetByAddress reads the bytes stored at a known address directly,
// bypassing the index.
func (e *Engine) GetByAddress(owner domstore.Owner, addr domstore.Address) ([]byte, error) {
	if err := e.acquire(lock.Owner(owner), lock.Shared); err != nil {
		return nil, err
	}
	defer e.lock.Release(lock.Owner(owner), lock.Shared)

	val, err := e.store.Get(addr)
	if err != nil {
		return nil, wrap("get", err)
	}
	return val, nil
}

// GetByGid resolves (documentID, gid) through the index, falling back to
// an ancestor walk when the tree has no entry for it.
func (e *Engine) GetByGid(owner domstore.Owner, documentID string, g int64) ([]byte, error) {
	if e.sp == nil {
		return nil, &Error{Kind: BTreeError, Op: "get_by_gid", Err: ErrKeyNotFound}
	}
	if err := e.acquire(lock.Owner(owner), lock.Shared); err != nil {
		return nil, err
	}
	defer e.lock.Release(lock.Owner(owner), lock.Shared)

	k := key.EncodeNode(documentID, g)
	if addr, found, err := e.tree.Get(k); err != nil {
		return nil, wrap("get_by_gid", err)
	} else if found {
		val, err := e.store.Get(domstore.Address(addr))
		if err != nil {
			return nil, wrap("get_by_gid", err)
		}
		return val, nil
	}

	val, err := domstore.FindByFallback(e.tree, e.store, e.lock, lock.Owner(owner), e.sp, documentID, g)
	if err != nil {
		return nil, wrap("get_by_gid", err)
	}
	return val, nil
}

// Update overwrites the value at key in place. Fails with
// InvalidArgument if the new value's length differs from the old one.
func (e *Engine) Update(owner domstore.Owner, key_ []byte, bytes []byte) error {
	if e.opts.ReadOnly {
		return &Error{Kind: ReadOnly, Op: "update"}
	}
	if err := e.acquire(lock.Owner(owner), lock.Exclusive); err != nil {
		return err
	}
	defer e.lock.Release(lock.Owner(owner), lock.Exclusive)

	addr, found, err := e.tree.Get(key_)
	if err != nil {
		return wrap("update", err)
	}
	if !found {
		return ErrKeyNotFound
	}
	if err := e.store.Update(domstore.Address(addr), bytes); err != nil {
		return wrap("update", err)
	}
	return nil
}

// RemoveByKey deletes the record indexed under key, removing both the
// index entry and the underlying record.
func (e *Engine) RemoveByKey(owner domstore.Owner, key_ []byte) error {
	if e.opts.ReadOnly {
		return &Error{Kind: ReadOnly, Op: "remove"}
	}
	if err := e.acquire(lock.Owner(owner), lock.Exclusive); err != nil {
		return err
	}
	defer e.lock.Release(lock.Owner(owner), lock.Exclusive)

	addr, found, err := e.tree.Get(key_)
	if err != nil {
		return wrap("remove", err)
	}
	if !found {
		return ErrKeyNotFound
	}
	if err := e.store.Remove(domstore.Address(addr)); err != nil {
		return wrap("remove", err)
	}
	if _, err := e.tree.Delete(key_); err != nil {
		return wrap("remove", err)
	}
	return nil
}

// RemoveByAddress deletes the record at addr without touching the index
// (used when the caller maintains its own pointer, e.g. while iterating).
func (e *Engine) RemoveByAddress(owner domstore.Owner, addr domstore.Address) error {
	if e.opts.ReadOnly {
		return &Error{Kind: ReadOnly, Op: "remove"}
	}
	if err := e.acquire(lock.Owner(owner), lock.Exclusive); err != nil {
		return err
	}
	defer e.lock.Release(lock.Owner(owner), lock.Exclusive)

	if err := e.store.Remove(addr); err != nil {
		return wrap("remove", err)
	}
	return nil
}

// InsertAfter inserts bytes immediately after the record at addr,
// returning the new record's address. The new record
// is not indexed by the B+-tree; callers that need it addressable by
// key must Put a separate key for it.
func (e *Engine) InsertAfter(owner domstore.Owner, addr domstore.Address, bytes []byte) (domstore.Address, error) {
	if e.opts.ReadOnly {
		return 0, &Error{Kind: ReadOnly, Op: "insert_after"}
	}
	if err := e.acquire(lock.Owner(owner), lock.Exclusive); err != nil {
		return 0, err
	}
	defer e.lock.Release(lock.Owner(owner), lock.Exclusive)

	newAddr, err := e.store.InsertAfter(addr, bytes)
	if err != nil {
		return 0, wrap("insert_after", err)
	}
	return newAddr, nil
}

// InsertAfterKey resolves key through the index and inserts after it.
func (e *Engine) InsertAfterKey(owner domstore.Owner, key_ []byte, bytes []byte) (domstore.Address, error) {
	if e.opts.ReadOnly {
		return 0, &Error{Kind: ReadOnly, Op: "insert_after"}
	}
	if err := e.acquire(lock.Owner(owner), lock.Exclusive); err != nil {
		return 0, err
	}
	defer e.lock.Release(lock.Owner(owner), lock.Exclusive)

	addr, found, err := e.tree.Get(key_)
	if err != nil {
		return 0, wrap("insert_after", err)
	}
	if !found {
		return 0, ErrKeyNotFound
	}
	newAddr, err := e.store.InsertAfter(domstore.Address(addr), bytes)
	if err != nil {
		return 0, wrap("insert_after", err)
	}
	return newAddr, nil
}

// FindKeys returns every key matching q.
func (e *Engine) FindKeys(owner domstore.Owner, q btree.IndexQuery) ([][]byte, error) {
	if err := e.acquire(lock.Owner(owner), lock.Shared); err != nil {
		return nil, err
	}
	defer e.lock.Release(lock.Owner(owner), lock.Shared)

	var out [][]byte
	err := e.tree.Query(q, func(k []byte, _ uint64) bool {
		cp := make([]byte, len(k))
		copy(cp, k)
		out = append(out, cp)
		return true
	})
	if err != nil {
		return nil, wrap("find_keys", err)
	}
	return out, nil
}

// FindValues returns the bytes stored under every key matching q.
func (e *Engine) FindValues(owner domstore.Owner, q btree.IndexQuery) ([][]byte, error) {
	if err := e.acquire(lock.Owner(owner), lock.Shared); err != nil {
		return nil, err
	}
	defer e.lock.Release(lock.Owner(owner), lock.Shared)

	var out [][]byte
	var queryErr error
	err := e.tree.Query(q, func(_ []byte, addr uint64) bool {
		val, err := e.store.Get(domstore.Address(addr))
		if err != nil {
			queryErr = err
			return false
		}
		out = append(out, val)
		return true
	})
	if err != nil {
		return nil, wrap("find_values", err)
	}
	if queryErr != nil {
		return nil, wrap("find_values", queryErr)
	}
	return out, nil
}

// FindRange returns the bytes stored under every key in [low, high].
func (e *Engine) FindRange(owner domstore.Owner, low, high []byte) ([][]byte, error) {
	return e.FindValues(owner, btree.IndexQuery{Kind: btree.Between, Low: low, High: high})
}

// Iterator returns a lazy forward iterator over a document's record
// chain starting at addr.
func (e *Engine) Iterator(owner domstore.Owner, addr domstore.Address) *domstore.Iterator {
	return domstore.NewIterator(e.store, e.lock, lock.Owner(owner), addr)
}

// Flush writes back every dirty resident page in both caches without
// evicting them, and persists the header.
func (e *Engine) Flush() error {
	if err := e.btreeC.Flush(); err != nil {
		return &Error{Kind: IoError, Op: "flush", Err: err}
	}
	if err := e.store.Flush(); err != nil {
		return &Error{Kind: IoError, Op: "flush", Err: err}
	}
	if err := e.pf.FlushHeader(); err != nil {
		return &Error{Kind: IoError, Op: "flush", Err: err}
	}
	return nil
}

// Sync flushes dirty pages and fsyncs the underlying file.
func (e *Engine) Sync() error {
	if err := e.Flush(); err != nil {
		return err
	}
	if err := e.pf.Sync(); err != nil {
		return &Error{Kind: IoError, Op: "sync", Err: err}
	}
	return nil
}
