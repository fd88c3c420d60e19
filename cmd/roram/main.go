// Command roram drives the range-aware ORAM family in this module through
// five subcommands: init, read, write, bench, and compare. All of them read
// their sizing and backend configuration from a shared YAML file and keep
// cross-invocation state (stashes, position maps, the eviction counter) in
// a sqlite session database next to the tree files.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	root := &cobra.Command{
		Use:   "roram",
		Short: "Drive a range-aware oblivious RAM family",
	}
	root.PersistentFlags().StringVar(&cfgPath, "cfg", "./roram.yaml", "Location of the config file.")

	root.AddCommand(newInitCmd())
	root.AddCommand(newReadCmd())
	root.AddCommand(newWriteCmd())
	root.AddCommand(newBenchCmd())
	root.AddCommand(newCompareCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// cfgPath is set by the root command's persistent --cfg flag and read by
// every subcommand's RunE.
var cfgPath string
