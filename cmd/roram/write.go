package main

import (
	"fmt"

	"github.com/brineoram/roram"
	"github.com/spf13/cobra"
)

func newWriteCmd() *cobra.Command {
	var (
		addr  uint64
		count int64
		data  string
	)
	cmd := &cobra.Command{
		Use:   "write",
		Short: "Write the same payload across a contiguous range of logical blocks",
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

			payload := make([]byte, cfg.B)
			copy(payload, data)

			buffers := make([][]byte, count)
			for i := range buffers {
				buffers[i] = payload
			}

			if _, err := s.coord.Access(addr, count, roram.OpWrite, buffers); err != nil {
				return err
			}
			fmt.Printf("wrote %d block(s) starting at %d\n", count, addr)
			return nil
		},
	}
	cmd.Flags().Uint64Var(&addr, "addr", 0, "Starting logical address.")
	cmd.Flags().Int64Var(&count, "range", 1, "Number of contiguous blocks to write.")
	cmd.Flags().StringVar(&data, "data", "", "Payload to write to every block in the range, truncated or zero-padded to B bytes.")
	return cmd
}
