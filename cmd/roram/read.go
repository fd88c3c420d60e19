package main

import (
	"encoding/hex"
	"fmt"

	"github.com/brineoram/roram"
	"github.com/spf13/cobra"
)

func newReadCmd() *cobra.Command {
	var (
		addr  uint64
		count int64
	)
	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read a contiguous range of logical blocks",
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

			blocks, err := s.coord.Access(addr, count, roram.OpRead, nil)
			if err != nil {
				return err
			}
			for k, b := range blocks {
				fmt.Printf("%d\t%s\n", addr+uint64(k), hex.EncodeToString(b))
			}
			return nil
		},
	}
	cmd.Flags().Uint64Var(&addr, "addr", 0, "Starting logical address.")
	cmd.Flags().Int64Var(&count, "range", 1, "Number of contiguous blocks to read.")
	return cmd
}
