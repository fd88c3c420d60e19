package main

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/brineoram/roram"
	"github.com/brineoram/roram/persistent"
	"github.com/spf13/cobra"
)

// newCompareCmd builds two in-memory coordinators -- the configured
// (N, L, Z, B) family and an L=1 baseline -- and, for every range class
// 2^0..2^ell, times the configured family serving whole-range reads against
// the baseline serving the same range as single-block accesses. Results go
// to stdout as a table and, with --csv, to a file.
func newCompareCmd() *cobra.Command {
	var (
		trials  int
		csvPath string
	)
	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Compare range reads against an L=1 per-block baseline",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			params, err := persistent.NewParams(cfg.N, cfg.L, cfg.Z, cfg.B)
			if err != nil {
				return err
			}
			baseline, err := persistent.NewParams(cfg.N, 1, cfg.Z, cfg.B)
			if err != nil {
				return err
			}

			crypto, err := newCryptoProvider(cfg)
			if err != nil {
				return err
			}
			configured, err := roram.NewCoordinator(params, crypto, roram.BackendMemory, "", false)
			if err != nil {
				return err
			}
			defer configured.Close()

			baselineCrypto, err := newCryptoProvider(cfg)
			if err != nil {
				return err
			}
			baselineCoord, err := roram.NewCoordinator(baseline, baselineCrypto, roram.BackendMemory, "", false)
			if err != nil {
				return err
			}
			defer baselineCoord.Close()

			var out *csv.Writer
			if csvPath != "" {
				fh, err := os.Create(csvPath)
				if err != nil {
					return err
				}
				defer fh.Close()
				out = csv.NewWriter(fh)
				defer out.Flush()
				out.Write([]string{"scheme", "range_exp", "range_size", "mean_ms", "std_ms", "ms_per_block", "mean_seeks"})
			}

			fmt.Printf("compare N=%d L=%d Z=%d B=%d trials=%d\n", cfg.N, cfg.L, cfg.Z, cfg.B, trials)
			fmt.Printf("%12s %10s %12s %16s %12s\n", "range_size", "scheme", "mean_ms", "ms_per_block", "mean_seeks")

			for exp := 0; exp <= params.Ell; exp++ {
				size := int64(1) << uint(exp)
				if size > cfg.N {
					break
				}

				ranged, err := measure(configured, cfg.N, size, trials, false)
				if err != nil {
					return err
				}
				single, err := measure(baselineCoord, cfg.N, size, trials, true)
				if err != nil {
					return err
				}

				for _, m := range []struct {
					scheme string
					stats  runStats
				}{{"ranged", ranged}, {"baseline", single}} {
					fmt.Printf("%12d %10s %12.3f %16.3f %12.1f\n",
						size, m.scheme, m.stats.meanMS, m.stats.meanMS/float64(size), m.stats.meanSeeks)
					if out != nil {
						out.Write([]string{
							m.scheme,
							strconv.Itoa(exp),
							strconv.FormatInt(size, 10),
							strconv.FormatFloat(m.stats.meanMS, 'f', 3, 64),
							strconv.FormatFloat(m.stats.stdMS, 'f', 3, 64),
							strconv.FormatFloat(m.stats.meanMS/float64(size), 'f', 3, 64),
							strconv.FormatFloat(m.stats.meanSeeks, 'f', 1, 64),
						})
					}
				}
			}
			if csvPath != "" {
				fmt.Printf("wrote %s\n", csvPath)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&trials, "trials", 5, "Trials per range class.")
	cmd.Flags().StringVar(&csvPath, "csv", "", "If set, also write per-class results to this CSV file.")
	return cmd
}

type runStats struct {
	meanMS    float64
	stdMS     float64
	meanSeeks float64
}

// measure times `trials` reads of `size` blocks each against coord. With
// perBlock set, each range is served as `size` single-block accesses, which
// is how an L=1 family has to satisfy a range request.
func measure(coord *roram.Coordinator, n, size int64, trials int, perBlock bool) (runStats, error) {
	samples := make([]float64, 0, trials)
	var seeks uint64

	for t := 0; t < trials; t++ {
		addr := uint64(0)
		if n > size {
			addr = uint64((int64(t) * 17) % (n - size))
		}

		seekBefore := coord.SeekCount()
		start := time.Now()
		if perBlock {
			for k := int64(0); k < size; k++ {
				if _, err := coord.Access(addr+uint64(k), 1, roram.OpRead, nil); err != nil {
					return runStats{}, err
				}
			}
		} else {
			if _, err := coord.Access(addr, size, roram.OpRead, nil); err != nil {
				return runStats{}, err
			}
		}
		samples = append(samples, float64(time.Since(start).Microseconds())/1000.0)
		seeks += coord.SeekCount() - seekBefore
	}

	var mean float64
	for _, s := range samples {
		mean += s
	}
	mean /= float64(len(samples))

	var variance float64
	for _, s := range samples {
		variance += (s - mean) * (s - mean)
	}
	std := 0.0
	if len(samples) > 1 {
		std = math.Sqrt(variance / float64(len(samples)-1))
	}

	return runStats{
		meanMS:    mean,
		stdMS:     std,
		meanSeeks: float64(seeks) / float64(trials),
	}, nil
}
