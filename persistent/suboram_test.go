package persistent

import (
	"bytes"
	"math/rand"
	"testing"
)

func newTestSubORAM(t *testing.T, p *Params, index int) *SubORAM {
	t.Helper()
	crypto := NewNoOpCryptoProvider(5)
	backend := NewEncryptedBackend(NewMemoryBackend(p), crypto, p)
	sub, err := NewSubORAM(index, p, backend, crypto)
	if err != nil {
		t.Fatal(err)
	}
	return sub
}

// TestSubORAMReadWriteCorrectness exercises the ReadRange/BatchEvict cycle
// the way a coordinator would for a single sub-ORAM: read the current
// contents of a range, overwrite every address in it, retag for the leaf the
// read just committed, then purge+push+evict. It checks the sub-ORAM
// against an in-memory reference map across many random ranges.
func TestSubORAMReadWriteCorrectness(t *testing.T) {
	p, err := NewParams(64, 8, 4, 16)
	if err != nil {
		t.Fatal(err)
	}
	sub := newTestSubORAM(t, p, p.Ell)
	rangeSize := sub.rangeSize()

	rng := rand.New(rand.NewSource(11))
	ref := make(map[uint64][]byte)
	var cnt uint64

	for iter := 0; iter < 300; iter++ {
		addr := uint64(rng.Intn(int(p.N)/int(rangeSize))) * rangeSize

		blocks, newPath, err := sub.ReadRange(addr)
		if err != nil {
			t.Fatal(err)
		}
		for _, b := range blocks {
			if b.Addr < addr || b.Addr >= addr+rangeSize {
				t.Fatalf("ReadRange(%d) returned out-of-range block at %d", addr, b.Addr)
			}
			if want, ok := ref[b.Addr]; ok && !bytes.Equal(b.Payload, want) {
				t.Fatalf("ReadRange(%d) returned stale payload for addr %d", addr, b.Addr)
			}
		}

		w := make(map[uint64]Block, rangeSize)
		for _, b := range blocks {
			w[b.Addr] = b
		}
		for k := uint64(0); k < rangeSize; k++ {
			target := addr + k
			payload := make([]byte, p.B)
			rng.Read(payload)
			w[target] = Block{Payload: payload, Addr: target, Leaf: make([]uint64, p.Ell+1)}
			ref[target] = payload
		}
		for target, b := range w {
			b.Leaf[sub.Index] = newPath + (target - addr)
			w[target] = b
		}

		sub.Purge(addr, addr+rangeSize)
		for _, b := range w {
			sub.PutStash(b)
		}
		if err := sub.BatchEvict(rangeSize, cnt); err != nil {
			t.Fatal(err)
		}
		cnt += rangeSize
	}

	for start := uint64(0); start < uint64(p.N); start += rangeSize {
		blocks, _, err := sub.ReadRange(start)
		if err != nil {
			t.Fatal(err)
		}
		seen := make(map[uint64]bool, len(blocks))
		for _, b := range blocks {
			want, ok := ref[b.Addr]
			if !ok {
				t.Fatalf("final read returned unexpected address %d", b.Addr)
			}
			if !bytes.Equal(b.Payload, want) {
				t.Fatalf("final read mismatch at addr %d", b.Addr)
			}
			seen[b.Addr] = true
		}
		for target := start; target < start+rangeSize; target++ {
			if _, ok := ref[target]; ok && !seen[target] {
				t.Fatalf("committed address %d missing from final read", target)
			}
		}
	}
}

// TestSubORAMStashUniqueness checks that the stash never holds two entries
// for the same logical address.
func TestSubORAMStashUniqueness(t *testing.T) {
	p, err := NewParams(32, 4, 4, 8)
	if err != nil {
		t.Fatal(err)
	}
	sub := newTestSubORAM(t, p, 0)

	sub.PutStash(Block{Payload: make([]byte, p.B), Addr: 3, Leaf: make([]uint64, p.Ell+1)})
	sub.PutStash(Block{Payload: make([]byte, p.B), Addr: 3, Leaf: make([]uint64, p.Ell+1)})
	if got := sub.StashLen(); got != 1 {
		t.Errorf("stash has %d entries for one address, want 1", got)
	}
}

func TestWrapSegments(t *testing.T) {
	cases := []struct {
		width, start, count uint64
		want                []segment
	}{
		{8, 2, 3, []segment{{2, 3}}},
		{8, 6, 4, []segment{{6, 2}, {0, 2}}},
		{8, 0, 8, []segment{{0, 8}}},
	}
	for _, c := range cases {
		got := wrapSegments(c.width, c.start, c.count)
		if len(got) != len(c.want) {
			t.Fatalf("wrapSegments(%d,%d,%d) = %v, want %v", c.width, c.start, c.count, got, c.want)
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Fatalf("wrapSegments(%d,%d,%d) = %v, want %v", c.width, c.start, c.count, got, c.want)
			}
		}
	}
}
