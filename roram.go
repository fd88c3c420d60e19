// Package roram implements a range-aware Oblivious RAM: a family of
// sub-ORAM trees, keyed at increasing range granularities, coordinated so
// that a request for a contiguous range of logical blocks is served with
// storage I/O that's sequential within each touched tree rather than one
// random probe per block.
//
// Coordinator routes each request to the sub-ORAM whose range class covers
// it, then fans the touched blocks back out to every tree in the family so
// that all of them stay consistent; the externally observable I/O trace
// depends only on the request's range class, never on its payload, and not
// on its address except near the end of the address space: a request whose
// second aligned window would start past N reads one window instead of two.
package roram

import (
	"errors"
	"fmt"
	"sort"

	"github.com/brineoram/roram/persistent"
)

// Op selects whether an Access reads or writes.
type Op int

const (
	OpRead Op = iota
	OpWrite
)

var (
	// ErrOutOfBounds is returned when a+r exceeds N.
	ErrOutOfBounds = errors.New("roram: address range exceeds N")
	// ErrRangeTooLarge is returned when r exceeds L.
	ErrRangeTooLarge = errors.New("roram: requested range exceeds L")
	// ErrCoordinatorBroken is returned by Access and SaveSession after an
	// Access call has failed; a failure mid-Access can leave sub-ORAMs in divergent
	// states, so the instance must be discarded rather than retried.
	ErrCoordinatorBroken = errors.New("roram: coordinator is in an undefined state after a prior error and must be discarded")
)

// BackendKind selects which persistent.StorageBackend implementation backs
// each sub-ORAM.
type BackendKind int

const (
	// BackendMemory backs every sub-ORAM with a persistent.MemoryBackend.
	BackendMemory BackendKind = iota
	// BackendFile backs every sub-ORAM with its own persistent.FileBackend,
	// named "<prefix>_tree<i>".
	BackendFile
)

// Coordinator holds every sub-ORAM R_0..R_ell in a family, routes range
// requests to the right one, and fans cross-family eviction out to all of
// them. cnt, the global eviction counter, is its only persistent state
// beyond the sub-ORAMs themselves.
type Coordinator struct {
	params *persistent.Params
	crypto persistent.CryptoProvider
	subs   []*persistent.SubORAM
	closer []func() error

	cnt    uint64
	broken bool
}

// NewCoordinator builds a family of params.Ell+1 sub-ORAMs, each backed by
// its own storage backend of the requested kind. filePrefix is only
// consulted when kind is BackendFile; each sub-ORAM's file is named
// "<filePrefix>_tree<i>". countSeeks is advisory and has no effect beyond
// being threaded through to the caller's expectations -- seek counting in
// the underlying backends is always on, since it's cheap and purely
// observational.
func NewCoordinator(params *persistent.Params, crypto persistent.CryptoProvider, kind BackendKind, filePrefix string, countSeeks bool) (*Coordinator, error) {
	_ = countSeeks

	c := &Coordinator{params: params, crypto: crypto}
	for i := 0; i <= params.Ell; i++ {
		var (
			backend persistent.StorageBackend
			err     error
		)
		switch kind {
		case BackendMemory:
			backend = persistent.NewMemoryBackend(params)
		case BackendFile:
			if filePrefix == "" {
				return nil, fmt.Errorf("%w: file-backed coordinator requires a non-empty file prefix", persistent.ErrBadParameter)
			}
			fb, ferr := persistent.NewFileBackend(fmt.Sprintf("%s_tree%d", filePrefix, i), params)
			if ferr != nil {
				return nil, ferr
			}
			backend, err = fb, nil
			c.closer = append(c.closer, fb.Close)
		default:
			return nil, fmt.Errorf("%w: unknown backend kind %d", persistent.ErrBadParameter, kind)
		}
		if err != nil {
			return nil, err
		}

		enc := persistent.NewEncryptedBackend(backend, crypto, params)
		sub, err := persistent.NewSubORAM(i, params, enc, crypto)
		if err != nil {
			return nil, err
		}
		c.subs = append(c.subs, sub)
	}
	return c, nil
}

// Close releases every file-backed sub-ORAM's handle. It does not attempt
// to recover a broken coordinator -- there is no rollback story for a
// mid-Access failure.
func (c *Coordinator) Close() error {
	var first error
	for _, fn := range c.closer {
		if err := fn(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// SeekCount returns the sum of every backend's advisory seek counter.
func (c *Coordinator) SeekCount() uint64 {
	var total uint64
	for _, sub := range c.subs {
		total += sub.Backend().SeekCount()
	}
	return total
}

// StashSizes returns the current stash length of every sub-ORAM, indexed by
// sub-ORAM index. Used by the metrics gauges in metrics.go and by bench to
// report stash growth.
func (c *Coordinator) StashSizes() []int {
	out := make([]int, len(c.subs))
	for i, sub := range c.subs {
		out[i] = sub.StashLen()
	}
	return out
}

// Counter returns the coordinator's current global eviction counter, for
// tests asserting that it only ever increases.
func (c *Coordinator) Counter() uint64 { return c.cnt }

// LoadSession restores every sub-ORAM's stash and position map, plus the
// global eviction counter, from a previously saved session. It's meant to
// be called once, immediately after NewCoordinator, before any Access --
// the CLI's read/write/bench subcommands are separate processes that must
// pick up exactly where the last invocation left off.
func (c *Coordinator) LoadSession(sess *persistent.SQLiteSession) error {
	cnt, err := sess.LoadCounter()
	if err != nil {
		return err
	}
	c.cnt = cnt

	for _, sub := range c.subs {
		if err := sess.LoadSubORAM(sub, c.params); err != nil {
			return err
		}
	}
	return nil
}

// SaveSession persists every sub-ORAM's stash and position map, plus the
// global eviction counter, to sess. Meant to be called once per process
// invocation, after the last Access and before Close. A coordinator broken
// by a failed Access saves nothing.
func (c *Coordinator) SaveSession(sess *persistent.SQLiteSession) error {
	if c.broken {
		return ErrCoordinatorBroken
	}
	for _, sub := range c.subs {
		if err := sess.SaveSubORAM(sub, c.params); err != nil {
			return err
		}
	}
	return sess.SaveCounter(c.cnt)
}

// Access routes the request to the sub-ORAM for range class
// i = min(range_exponent(r), ell),
// reads the (up to) two range-aligned windows that cover [a, a+r), unions
// and retags the results, applies a write if requested, fans the touched
// window out to every sub-ORAM's stash, and triggers one cross-family
// eviction sized to the worst-case stash growth from the two reads.
func (c *Coordinator) Access(a uint64, r int64, op Op, data [][]byte) ([][]byte, error) {
	if c.broken {
		return nil, ErrCoordinatorBroken
	}

	n := uint64(c.params.N)
	if r < 0 || r > c.params.L {
		return nil, fmt.Errorf("%w: r=%d, L=%d", ErrRangeTooLarge, r, c.params.L)
	} else if a >= n && r > 0 {
		return nil, fmt.Errorf("%w: a=%d, N=%d", ErrOutOfBounds, a, n)
	} else if r > 0 && a+uint64(r) > n {
		return nil, fmt.Errorf("%w: a=%d, r=%d, N=%d", ErrOutOfBounds, a, r, n)
	}
	if op == OpWrite {
		if int64(len(data)) != r {
			return nil, fmt.Errorf("%w: write requires exactly r=%d payloads, got %d", persistent.ErrBadParameter, r, len(data))
		}
		for k, d := range data {
			if int64(len(d)) != c.params.B {
				return nil, fmt.Errorf("%w: payload %d is %d bytes, want %d", persistent.ErrBadParameter, k, len(d), c.params.B)
			}
		}
	}
	if r == 0 {
		return [][]byte{}, nil
	}

	result, err := c.access(a, uint64(r), op, data)
	if err != nil {
		c.broken = true
		return nil, err
	}
	return result, nil
}

func (c *Coordinator) access(a, r uint64, op Op, data [][]byte) ([][]byte, error) {
	i := persistent.RangeExponent(int64(r))
	if i > c.params.Ell {
		i = c.params.Ell
	}
	rangeSize := uint64(1) << uint(i)

	a0 := (a / rangeSize) * rangeSize
	a1 := a0 + rangeSize
	if a1 > uint64(c.params.N) {
		a1 = a0
	}

	sub := c.subs[i]
	blocks0, p0, err := sub.ReadRange(a0)
	if err != nil {
		return nil, err
	}
	p1 := p0
	var blocks1 []persistent.Block
	if a1 != a0 {
		blocks1, p1, err = sub.ReadRange(a1)
		if err != nil {
			return nil, err
		}
	}

	// Union by address: blocks0, then any address from blocks1 not already
	// present.
	w := make(map[uint64]persistent.Block, len(blocks0)+len(blocks1))
	for _, b := range blocks0 {
		w[b.Addr] = b
	}
	for _, b := range blocks1 {
		if _, ok := w[b.Addr]; !ok {
			w[b.Addr] = b
		}
	}

	// Apply the write, creating a fresh block for any address touched for
	// the first time. A new block's leaf vector must agree with what every
	// sub-ORAM currently expects for its address, or the copies fanned out
	// in step 6 would be indistinguishable from superseded garbage.
	if op == OpWrite {
		for k := uint64(0); k < r; k++ {
			addr := a + k
			b, ok := w[addr]
			if !ok {
				leaf := make([]uint64, c.params.Ell+1)
				for j, sub := range c.subs {
					leaf[j] = sub.CurrentTag(addr)
				}
				b = persistent.Block{
					Payload: make([]byte, c.params.B),
					Addr:    addr,
					Leaf:    leaf,
				}
			}
			b.Payload = append([]byte(nil), data[addr-a]...)
			w[addr] = b
		}
	}

	// Retag every block in W for R_i only: a contiguous logical range maps
	// to a contiguous leaf range, which is what gives BatchEvict its
	// sequential write pattern.
	for addr, b := range w {
		switch {
		case addr >= a0 && addr < a0+rangeSize:
			b.Leaf[i] = p0 + (addr - a0)
		case a1 != a0 && addr >= a1 && addr < a1+rangeSize:
			b.Leaf[i] = p1 + (addr - a1)
		}
		w[addr] = b
	}

	wList := make([]persistent.Block, 0, len(w))
	for _, b := range w {
		wList = append(wList, b)
	}
	sort.Slice(wList, func(x, y int) bool { return wList[x].Addr < wList[y].Addr })

	purgeLo, purgeHi := a0, a0+2*rangeSize
	for _, other := range c.subs {
		other.Purge(purgeLo, purgeHi)
		for _, b := range wList {
			other.PutStash(b)
		}
		if err := other.BatchEvict(2*rangeSize, c.cnt); err != nil {
			return nil, err
		}
	}
	c.cnt += 2 * rangeSize

	if op == OpWrite {
		return [][]byte{}, nil
	}

	out := make([][]byte, r)
	for k := uint64(0); k < r; k++ {
		addr := a + k
		if b, ok := w[addr]; ok {
			out[k] = append([]byte(nil), b.Payload...)
		} else {
			out[k] = make([]byte, c.params.B)
		}
	}
	return out, nil
}
