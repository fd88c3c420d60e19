package roram

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/brineoram/roram/persistent"
)

func newTestCoordinator(t *testing.T, n, l, z, b int64) *Coordinator {
	t.Helper()
	params, err := persistent.NewParams(n, l, z, b)
	if err != nil {
		t.Fatal(err)
	}
	crypto := persistent.NewNoOpCryptoProvider(3)
	coord, err := NewCoordinator(params, crypto, BackendMemory, "", false)
	if err != nil {
		t.Fatal(err)
	}
	return coord
}

func payloadOf(b int64, fill byte) []byte {
	p := make([]byte, b)
	for i := range p {
		p[i] = fill
	}
	return p
}

func TestAccessReadOfUnwrittenAddressIsZero(t *testing.T) {
	coord := newTestCoordinator(t, 64, 8, 4, 16)
	out, err := coord.Access(5, 3, OpRead, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i, b := range out {
		if !bytes.Equal(b, make([]byte, 16)) {
			t.Errorf("unwritten block %d = %x, want all-zero", i, b)
		}
	}
}

func TestAccessWriteThenReadRoundTrip(t *testing.T) {
	coord := newTestCoordinator(t, 64, 8, 4, 16)

	data := [][]byte{payloadOf(16, 0xAA), payloadOf(16, 0xBB), payloadOf(16, 0xCC)}
	if _, err := coord.Access(10, 3, OpWrite, data); err != nil {
		t.Fatal(err)
	}

	out, err := coord.Access(10, 3, OpRead, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := range data {
		if !bytes.Equal(out[i], data[i]) {
			t.Errorf("block %d round trip = %x, want %x", i, out[i], data[i])
		}
	}
}

func TestAccessOutOfBounds(t *testing.T) {
	coord := newTestCoordinator(t, 16, 4, 4, 8)
	if _, err := coord.Access(14, 4, OpRead, nil); !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("Access past N = %v, want ErrOutOfBounds", err)
	}
}

func TestAccessRangeTooLarge(t *testing.T) {
	coord := newTestCoordinator(t, 64, 4, 4, 8)
	if _, err := coord.Access(0, 5, OpRead, nil); !errors.Is(err, ErrRangeTooLarge) {
		t.Fatalf("Access with r>L = %v, want ErrRangeTooLarge", err)
	}
}

func TestAccessZeroRangeIsNoOp(t *testing.T) {
	coord := newTestCoordinator(t, 64, 4, 4, 8)
	out, err := coord.Access(0, 0, OpRead, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 0 {
		t.Fatalf("Access(r=0) returned %d entries, want 0", len(out))
	}
}

func TestCounterMonotonic(t *testing.T) {
	coord := newTestCoordinator(t, 64, 8, 4, 16)
	prev := coord.Counter()
	for i := 0; i < 5; i++ {
		if _, err := coord.Access(uint64(i), 1, OpRead, nil); err != nil {
			t.Fatal(err)
		}
		cur := coord.Counter()
		if cur <= prev {
			t.Fatalf("counter did not advance: prev=%d cur=%d", prev, cur)
		}
		prev = cur
	}
}

// failingBackend always errors, used to simulate the mid-Access storage
// failure that must poison the coordinator.
type failingBackend struct{ persistent.StorageBackend }

func (failingBackend) ReadBuckets(level int, start, count uint64, out []persistent.Bucket) error {
	return persistent.ErrStorageIO
}

func TestCoordinatorBoundsErrorsDoNotPoison(t *testing.T) {
	coord := newTestCoordinator(t, 16, 4, 4, 8)
	if _, err := coord.Access(15, 4, OpRead, nil); !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("Access out of bounds = %v, want ErrOutOfBounds", err)
	}
	// Parameter validation failures aren't mid-Access failures; the
	// coordinator should still be usable afterward.
	if _, err := coord.Access(0, 1, OpRead, nil); err != nil {
		t.Fatalf("Access after a bounds error = %v, want success", err)
	}
}

func TestCoordinatorPoisonsOnStorageError(t *testing.T) {
	params, err := persistent.NewParams(16, 4, 4, 8)
	if err != nil {
		t.Fatal(err)
	}
	crypto := persistent.NewNoOpCryptoProvider(3)
	coord, err := NewCoordinator(params, crypto, BackendMemory, "", false)
	if err != nil {
		t.Fatal(err)
	}
	// Replace one sub-ORAM's backend with one that always fails reads, to
	// simulate a mid-Access storage failure without needing a real broken
	// file on disk.
	failing, err := persistent.NewSubORAM(params.Ell, params, failingBackend{}, crypto)
	if err != nil {
		t.Fatal(err)
	}
	coord.subs[params.Ell] = failing

	if _, err := coord.Access(0, 4, OpRead, nil); err == nil {
		t.Fatal("expected an error from a failing storage backend")
	}
	if _, err := coord.Access(0, 1, OpRead, nil); !errors.Is(err, ErrCoordinatorBroken) {
		t.Fatalf("Access after a storage error = %v, want ErrCoordinatorBroken", err)
	}
}

// countingBackend wraps a StorageBackend and counts how many ReadBuckets/
// WriteBuckets calls pass through it, independent of SeekCount's notion of
// contiguity. It's used to check that the number of backend calls a
// ReadRange/BatchEvict issues depends on tree height, not on how many
// logical addresses the request covers -- O(1) calls per level, not one
// per address.
type countingBackend struct {
	persistent.StorageBackend
	reads, writes int
}

func (c *countingBackend) ReadBuckets(level int, start, count uint64, out []persistent.Bucket) error {
	c.reads++
	return c.StorageBackend.ReadBuckets(level, start, count, out)
}

func (c *countingBackend) WriteBuckets(level int, start uint64, buckets []persistent.Bucket) error {
	c.writes++
	return c.StorageBackend.WriteBuckets(level, start, buckets)
}

// TestBackendCallCountIndependentOfRangeSize checks that a single Access
// with r=1 issues the same number of backend calls as one with r=L -- the
// per-level contiguous-range reads/writes never turn into one call per
// logical address.
func TestBackendCallCountIndependentOfRangeSize(t *testing.T) {
	const (
		n = 256
		l = 16
		z = 4
		b = 8
	)

	callCounts := func(r int64) (reads, writes int) {
		params, err := persistent.NewParams(n, l, z, b)
		if err != nil {
			t.Fatal(err)
		}
		crypto := persistent.NewNoOpCryptoProvider(17)
		coord, err := NewCoordinator(params, crypto, BackendMemory, "", false)
		if err != nil {
			t.Fatal(err)
		}

		counters := make([]*countingBackend, len(coord.subs))
		for idx, sub := range coord.subs {
			cb := &countingBackend{StorageBackend: sub.Backend()}
			counters[idx] = cb
			replacement, err := persistent.NewSubORAM(idx, params, cb, crypto)
			if err != nil {
				t.Fatal(err)
			}
			coord.subs[idx] = replacement
		}

		if _, err := coord.Access(0, r, OpRead, nil); err != nil {
			t.Fatal(err)
		}
		for _, cb := range counters {
			reads += cb.reads
			writes += cb.writes
		}
		return reads, writes
	}

	smallReads, smallWrites := callCounts(1)
	largeReads, largeWrites := callCounts(l)

	if smallReads != largeReads {
		t.Errorf("ReadBuckets calls for r=1 = %d, r=%d = %d, want equal (O(1) per level, not O(r))", smallReads, l, largeReads)
	}
	if smallWrites != largeWrites {
		t.Errorf("WriteBuckets calls for r=1 = %d, r=%d = %d, want equal (O(1) per level, not O(r))", smallWrites, l, largeWrites)
	}
}

// TestRandomizedWorkload fuzzes a sequence of range reads and writes
// against an in-memory reference model.
func TestRandomizedWorkload(t *testing.T) {
	const (
		n = 128
		l = 16
		z = 4
		b = 8
	)
	coord := newTestCoordinator(t, n, l, z, b)
	rng := rand.New(rand.NewSource(99))
	ref := make(map[uint64][]byte)

	for iter := 0; iter < 400; iter++ {
		count := int64(1 + rng.Intn(l))
		addr := uint64(rng.Int63n(n - count + 1))

		if rng.Intn(2) == 0 {
			data := make([][]byte, count)
			for i := range data {
				data[i] = payloadOf(b, byte(rng.Intn(256)))
			}
			if _, err := coord.Access(addr, count, OpWrite, data); err != nil {
				t.Fatal(err)
			}
			for i := int64(0); i < count; i++ {
				ref[addr+uint64(i)] = data[i]
			}
		} else {
			out, err := coord.Access(addr, count, OpRead, nil)
			if err != nil {
				t.Fatal(err)
			}
			for i := int64(0); i < count; i++ {
				want, ok := ref[addr+uint64(i)]
				if !ok {
					want = make([]byte, b)
				}
				if !bytes.Equal(out[i], want) {
					t.Fatalf("iter %d: addr %d = %x, want %x", iter, addr+uint64(i), out[i], want)
				}
			}
		}
	}
}

// TestIdenticalSessionsProduceIdenticalStorage builds two fresh coordinators
// from the same params and the same NoOpCryptoProvider seed, replays an
// identical trace of Access calls against both, and checks that every
// sub-ORAM's storage comes out byte-identical at every level. Path ORAM's
// only source of randomness is leaf sampling; with that seeded identically
// and driven through the same sequence of calls, two independent runs must
// make the same eviction decisions and land in the same physical buckets.
func TestIdenticalSessionsProduceIdenticalStorage(t *testing.T) {
	const (
		n = 64
		l = 8
		z = 4
		b = 16
	)

	build := func(seed int64) *Coordinator {
		params, err := persistent.NewParams(n, l, z, b)
		if err != nil {
			t.Fatal(err)
		}
		crypto := persistent.NewNoOpCryptoProvider(seed)
		coord, err := NewCoordinator(params, crypto, BackendMemory, "", false)
		if err != nil {
			t.Fatal(err)
		}
		return coord
	}

	type step struct {
		addr  uint64
		count int64
		write bool
		fill  byte
	}
	trace := []step{
		{addr: 0, count: 3, write: true, fill: 0x11},
		{addr: 10, count: 1, write: true, fill: 0x22},
		{addr: 0, count: 3, write: false},
		{addr: 20, count: 8, write: true, fill: 0x33},
		{addr: 5, count: 2, write: true, fill: 0x44},
		{addr: 20, count: 8, write: false},
		{addr: 40, count: 1, write: true, fill: 0x55},
		{addr: 0, count: 1, write: false},
	}

	replay := func(coord *Coordinator) {
		for _, s := range trace {
			var data [][]byte
			if s.write {
				data = make([][]byte, s.count)
				for i := range data {
					data[i] = payloadOf(b, s.fill)
				}
			}
			op := OpRead
			if s.write {
				op = OpWrite
			}
			if _, err := coord.Access(s.addr, s.count, op, data); err != nil {
				t.Fatalf("Access(%d, %d) = %v", s.addr, s.count, err)
			}
		}
	}

	coordA := build(42)
	coordB := build(42)
	replay(coordA)
	replay(coordB)

	if len(coordA.subs) != len(coordB.subs) {
		t.Fatalf("sub-ORAM count mismatch: %d vs %d", len(coordA.subs), len(coordB.subs))
	}

	params, err := persistent.NewParams(n, l, z, b)
	if err != nil {
		t.Fatal(err)
	}

	for idx := range coordA.subs {
		backendA := coordA.subs[idx].Backend()
		backendB := coordB.subs[idx].Backend()
		for level := 0; level <= params.Height; level++ {
			width := uint64(1) << uint(level)
			bucketsA := make([]persistent.Bucket, width)
			bucketsB := make([]persistent.Bucket, width)
			if err := backendA.ReadBuckets(level, 0, width, bucketsA); err != nil {
				t.Fatal(err)
			}
			if err := backendB.ReadBuckets(level, 0, width, bucketsB); err != nil {
				t.Fatal(err)
			}
			for i := uint64(0); i < width; i++ {
				rawA, err := persistent.MarshalBucket(bucketsA[i], params)
				if err != nil {
					t.Fatal(err)
				}
				rawB, err := persistent.MarshalBucket(bucketsB[i], params)
				if err != nil {
					t.Fatal(err)
				}
				if !bytes.Equal(rawA, rawB) {
					t.Fatalf("sub-ORAM %d level %d bucket %d differs between sessions", idx, level, i)
				}
			}
		}
	}
}
