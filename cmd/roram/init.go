package main

import (
	"log"

	"github.com/spf13/cobra"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a new rORAM family's on-disk files and session store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			sess, err := openSession(cfg)
			if err != nil {
				return err
			}
			if err := sess.Close(); err != nil {
				return err
			}

			log.Printf("initialized rORAM family: N=%d L=%d Z=%d B=%d backend=%s", cfg.N, cfg.L, cfg.Z, cfg.B, cfg.Backend)
			return nil
		},
	}
}
