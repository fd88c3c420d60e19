package main

import "math/rand"

// traceOp is one synthetic Access call used by bench to drive a
// reproducible workload against a coordinator without requiring the
// operator to script one by hand.
type traceOp struct {
	addr  uint64
	count int64
	write bool
}

// genTrace produces a sequence of n range requests against a universe of
// size N, each sized uniformly between 1 and maxRange blocks and aligned so
// that addr+count never exceeds N. Roughly a third of the ops are writes.
func genTrace(rng *rand.Rand, n int, universe int64, maxRange int64) []traceOp {
	trace := make([]traceOp, n)
	for i := range trace {
		count := int64(1)
		if maxRange > 1 {
			count = 1 + rng.Int63n(maxRange)
		}
		if count > universe {
			count = universe
		}
		addr := uint64(rng.Int63n(universe - count + 1))
		trace[i] = traceOp{addr: addr, count: count, write: rng.Intn(3) == 0}
	}
	return trace
}
