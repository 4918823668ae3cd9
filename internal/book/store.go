package book

import (
	"math"
	"sort"

	"bookflow/models"
)

// sizeEpsilon is the threshold below which a bucket's aggregate no longer
// counts as occupied. Buckets decayed to it are deleted, never kept at
// zero, so phantom price levels cannot surface in the depth view.
const sizeEpsilon = 1e-12

type bucketKey struct {
	price float64
	side  models.Side
}

// bucket aggregates the live orders resting at one (price, side) pair.
// members holds arena slots in arrival order.
type bucket struct {
	totalSize float64
	members   []int
}

// Store is the canonical keyed set of resting orders. Orders live in an
// arena slice addressed through a stable oid->slot table; buckets hold
// slot indices rather than order copies. The store is not goroutine-safe:
// the engine's event loop serializes every mutation and read.
type Store struct {
	arena   []models.Order
	free    []int
	slots   map[uint64]int
	buckets map[bucketKey]*bucket
	tick    float64
	onDirty func()
	count   int
}

// NewStore creates an empty store. onDirty is invoked after every
// mutation that changed book state; it may be nil.
func NewStore(onDirty func()) *Store {
	return &Store{
		slots:   make(map[uint64]int),
		buckets: make(map[bucketKey]*bucket),
		onDirty: onDirty,
	}
}

// Len returns the number of live orders.
func (s *Store) Len() int {
	return s.count
}

// TickSize returns the tick size derived from the last snapshot, or 0
// when no snapshot has been applied yet.
func (s *Store) TickSize() float64 {
	return s.tick
}

// Reset replaces the entire book with the given snapshot order set and
// re-derives the tick size. The tick stays cached until the next reset:
// diffs cannot introduce a finer granularity than the snapshot exhibited.
func (s *Store) Reset(orders []models.Order) {
	s.arena = s.arena[:0]
	s.free = s.free[:0]
	s.slots = make(map[uint64]int, len(orders))
	s.buckets = make(map[bucketKey]*bucket)
	s.count = 0

	prices := make([]float64, 0, len(orders))
	for _, o := range orders {
		if o.Size <= sizeEpsilon {
			continue
		}
		s.insert(o)
		prices = append(prices, o.Price)
	}
	s.tick = DeriveTickSize(prices)
	s.markDirty()
}

// Clear drops all session state including the cached tick size. Used on
// explicit disconnect, where Reset's tick derivation would be wrong.
func (s *Store) Clear() {
	s.arena = s.arena[:0]
	s.free = s.free[:0]
	s.slots = make(map[uint64]int)
	s.buckets = make(map[bucketKey]*bucket)
	s.count = 0
	s.tick = 0
}

// Upsert inserts an order, first evicting any prior order with the same
// id from its bucket. Re-delivered oids on reconnect therefore replace
// rather than double-count. A size at or below the eviction threshold
// carries no book presence: it removes any prior order instead of
// parking a phantom zero-size level in its bucket.
func (s *Store) Upsert(o models.Order) {
	if o.Size <= sizeEpsilon {
		s.Remove(o.ID)
		return
	}
	if slot, ok := s.slots[o.ID]; ok {
		s.evict(slot)
		s.arena[slot] = o
		s.attach(slot)
	} else {
		s.insert(o)
	}
	s.markDirty()
}

// Remove deletes the order with the given id. Unknown ids are a no-op:
// the feed is not assumed gap-free or exactly-once.
func (s *Store) Remove(id uint64) bool {
	slot, ok := s.slots[id]
	if !ok {
		return false
	}
	s.evict(slot)
	delete(s.slots, id)
	s.free = append(s.free, slot)
	s.count--
	s.markDirty()
	return true
}

// Live returns every resting order, bucket by bucket, members in arrival
// order. Bucket visitation order is unspecified; the view builder imposes
// its own deterministic ordering.
func (s *Store) Live() []models.Order {
	out := make([]models.Order, 0, s.count)
	for _, b := range s.buckets {
		for _, slot := range b.members {
			out = append(out, s.arena[slot])
		}
	}
	return out
}

// BucketTotal returns the aggregated size at (price, side) and whether
// the bucket is occupied.
func (s *Store) BucketTotal(price float64, side models.Side) (float64, bool) {
	b, ok := s.buckets[bucketKey{price: price, side: side}]
	if !ok {
		return 0, false
	}
	return b.totalSize, true
}

func (s *Store) insert(o models.Order) {
	var slot int
	if n := len(s.free); n > 0 {
		slot = s.free[n-1]
		s.free = s.free[:n-1]
		s.arena[slot] = o
	} else {
		slot = len(s.arena)
		s.arena = append(s.arena, o)
	}
	s.slots[o.ID] = slot
	s.count++
	s.attach(slot)
}

func (s *Store) attach(slot int) {
	o := s.arena[slot]
	key := bucketKey{price: o.Price, side: o.Side}
	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{}
		s.buckets[key] = b
	}
	b.totalSize += o.Size
	b.members = append(b.members, slot)
}

func (s *Store) evict(slot int) {
	o := s.arena[slot]
	key := bucketKey{price: o.Price, side: o.Side}
	b, ok := s.buckets[key]
	if !ok {
		return
	}
	for i, m := range b.members {
		if m == slot {
			b.members = append(b.members[:i], b.members[i+1:]...)
			break
		}
	}
	b.totalSize -= o.Size
	if b.totalSize <= sizeEpsilon || len(b.members) == 0 {
		delete(s.buckets, key)
	}
}

func (s *Store) markDirty() {
	if s.onDirty != nil {
		s.onDirty()
	}
}

// DeriveTickSize returns the minimum positive difference between
// consecutive sorted unique prices, rounded to 8 decimal places to
// tolerate floating noise. Fewer than two distinct prices yield 1.
func DeriveTickSize(prices []float64) float64 {
	if len(prices) < 2 {
		return 1
	}
	uniq := make([]float64, len(prices))
	copy(uniq, prices)
	sort.Float64s(uniq)

	tick := math.MaxFloat64
	prev := uniq[0]
	for _, p := range uniq[1:] {
		d := roundTo8(p - prev)
		if d > 0 && d < tick {
			tick = d
		}
		prev = p
	}
	if tick == math.MaxFloat64 {
		return 1
	}
	return tick
}

func roundTo8(v float64) float64 {
	return math.Round(v*1e8) / 1e8
}
