package main

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/brineoram/roram"
	"github.com/spf13/cobra"
)

func newBenchCmd() *cobra.Command {
	var (
		ops         int
		maxRange    int64
		seed        int64
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Replay a synthetic range-access trace and report timing and I/O stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			s, err := openSession(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			if metricsAddr != "" {
				startMetricsServer(metricsAddr)
			}

			rng := rand.New(rand.NewSource(seed))
			trace := genTrace(rng, ops, cfg.N, maxRange)

			start := time.Now()
			for _, op := range trace {
				if err := runOp(s.coord, op, cfg.B); err != nil {
					return err
				}
			}
			elapsed := time.Since(start)

			reportMetrics(s.coord)
			fmt.Printf("ops=%d elapsed=%s avg=%s seek_count=%d stash_sizes=%v\n",
				len(trace), elapsed, elapsed/time.Duration(max(len(trace), 1)), s.coord.SeekCount(), s.coord.StashSizes())
			return nil
		},
	}
	cmd.Flags().IntVar(&ops, "ops", 100, "Number of synthetic range accesses to replay.")
	cmd.Flags().Int64Var(&maxRange, "range", 8, "Maximum range size per access.")
	cmd.Flags().Int64Var(&seed, "seed", 1, "Seed for the synthetic trace's RNG.")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "If set, serve prometheus metrics on this address while benchmarking.")
	return cmd
}

func runOp(coord *roram.Coordinator, op traceOp, b int64) error {
	if !op.write {
		_, err := coord.Access(op.addr, op.count, roram.OpRead, nil)
		return err
	}
	buffers := make([][]byte, op.count)
	for i := range buffers {
		buffers[i] = make([]byte, b)
	}
	_, err := coord.Access(op.addr, op.count, roram.OpWrite, buffers)
	return err
}
