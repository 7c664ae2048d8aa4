// Package mempool implements the typed, thread-partitioned free-list
// described in spec.md §4.1: one bucket per (type, tid), a lock-free
// Treiber-stack free list, and an in_count/out_count accounting split
// mirroring the CAS discipline of xapp-mempool.c.
package mempool

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ipicoli/ztl-go/internal/constants"
	"github.com/ipicoli/ztl-go/internal/zerrors"
)

// Type is the closed set of mempool consumers named in spec.md §4.1.
type Type uint8

const (
	TypeMediaCmd Type = iota
	TypeProvisionCtx
	TypeClientBuffer
	TypeLatencySample
	TypeNodeMgmt
	numTypes
)

// Entry is one preallocated slot (`mp_entry`): a fixed-size buffer, its
// owning tid, an id, and the intrusive free-list link.
type Entry struct {
	Opaque  []byte
	TID     int
	EntryID int
	next    atomic.Pointer[Entry]
}

type bucketKey struct {
	typ Type
	tid int
}

// Pool is one (type, tid) bucket.
type Pool struct {
	entSize  int
	capacity int

	active atomic.Bool
	head   atomic.Pointer[Entry]

	// outCount counts slots currently checked out via Get; inCount is a
	// pending-returns counter incremented by Put via CAS and reconciled
	// into outCount by the next Get, per the SPSC discipline in
	// xapp-mempool.c (`in_count`/`out_count`).
	outCount atomic.Uint32
	inCount  atomic.Uint32
}

// Manager owns every bucket. Create/Destroy are guarded by a mutex; Get/Put
// on an existing bucket take the lock-free fast path.
type Manager struct {
	mu      sync.RWMutex
	buckets map[bucketKey]*Pool
}

// NewManager creates an empty mempool manager.
func NewManager() *Manager {
	return &Manager{buckets: make(map[bucketKey]*Pool)}
}

// Create activates a bucket of `entries` slots of `entSize` bytes each.
// It fails with MPActive if the bucket already exists and is active, with
// MPOutOfBounds if tid or typ is out of range, and with MPMemError if
// allocation fails partway (in which case every partial slot is released).
func (m *Manager) Create(typ Type, tid int, entries int, entSize int) error {
	if typ >= numTypes || tid < 0 || tid >= constants.MaxThreads {
		return zerrors.New("mempool.Create", zerrors.MPOutOfBounds, "type/tid out of range")
	}
	key := bucketKey{typ, tid}

	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.buckets[key]; ok && p.active.Load() {
		return zerrors.New("mempool.Create", zerrors.MPActive, "bucket already active")
	}

	p := &Pool{entSize: entSize, capacity: entries}
	if err := p.fill(entries, entSize); err != nil {
		return err
	}
	p.active.Store(true)
	m.buckets[key] = p
	return nil
}

func (p *Pool) fill(entries, entSize int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.releaseAll()
			err = zerrors.New("mempool.Create", zerrors.MPMemError, "allocation failed, rolled back")
		}
	}()
	for i := 0; i < entries; i++ {
		e := &Entry{Opaque: make([]byte, entSize), EntryID: i}
		p.push(e)
	}
	return nil
}

func (p *Pool) releaseAll() {
	for p.pop() != nil {
	}
}

func (p *Pool) push(e *Entry) {
	for {
		head := p.head.Load()
		e.next.Store(head)
		if p.head.CompareAndSwap(head, e) {
			return
		}
	}
}

func (p *Pool) pop() *Entry {
	for {
		head := p.head.Load()
		if head == nil {
			return nil
		}
		next := head.next.Load()
		if p.head.CompareAndSwap(head, next) {
			head.next.Store(nil)
			return head
		}
	}
}

func (p *Pool) reconcile() {
	for {
		in := p.inCount.Load()
		if in == 0 {
			return
		}
		if p.inCount.CompareAndSwap(in, 0) {
			p.outCount.Add(^uint32(in - 1)) // atomic subtract `in`
			return
		}
	}
}

func (m *Manager) lookup(typ Type, tid int) (*Pool, error) {
	m.mu.RLock()
	p, ok := m.buckets[bucketKey{typ, tid}]
	m.mu.RUnlock()
	if !ok || !p.active.Load() {
		return nil, zerrors.New("mempool", zerrors.MPInvalid, "bucket not active")
	}
	return p, nil
}

// Get returns a slot, blocking with a short cooperative sleep while the
// bucket is nearly exhausted (fewer than 2 slots available), per spec.md
// §4.1's "get blocks until one is available" contract.
func (m *Manager) Get(typ Type, tid int) (*Entry, error) {
	p, err := m.lookup(typ, tid)
	if err != nil {
		return nil, err
	}
	for {
		p.reconcile()
		if p.capacity-int(p.outCount.Load()) >= 2 {
			break
		}
		time.Sleep(constants.MempoolRetryInterval)
	}
	for {
		if e := p.pop(); e != nil {
			p.outCount.Add(1)
			e.TID = tid
			return e, nil
		}
		time.Sleep(constants.MempoolRetryInterval)
	}
}

// Put returns a slot to its bucket. Per the SPSC discipline, Put must only
// be called by the single thread designated as that bucket's producer.
func (m *Manager) Put(e *Entry, typ Type, tid int) error {
	p, err := m.lookup(typ, tid)
	if err != nil {
		return err
	}
	p.push(e)
	for {
		in := p.inCount.Load()
		if p.inCount.CompareAndSwap(in, in+1) {
			return nil
		}
	}
}

// Left returns the approximate count of slots currently available.
func (m *Manager) Left(typ Type, tid int) (int, error) {
	p, err := m.lookup(typ, tid)
	if err != nil {
		return 0, err
	}
	p.reconcile()
	left := p.capacity - int(p.outCount.Load())
	if left < 0 {
		left = 0
	}
	return left, nil
}

// Destroy deactivates a bucket, releasing its pooled slots. Checked-out
// slots are left to the caller's own lifetime (as spec.md §4.1 specifies:
// "releases only pooled (not checked-out) slots").
func (m *Manager) Destroy(typ Type, tid int) error {
	key := bucketKey{typ, tid}

	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.buckets[key]
	if !ok || !p.active.Load() {
		return zerrors.New("mempool.Destroy", zerrors.MPInvalid, "bucket not active")
	}
	p.active.Store(false)
	p.releaseAll()
	delete(m.buckets, key)
	return nil
}
