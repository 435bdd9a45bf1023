package main

import (
	"fmt"
	"os"

	"github.com/dgraph-io/memquota"
	"github.com/dgraph-io/memquota/z"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "limits",
		Short: "Show the limit the process-wide tracker would enforce",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			z.StatsPrint()
			val, ok := os.LookupEnv(memquota.LimitEnv)
			if !ok {
				val = "(unset)"
			}
			fmt.Printf("%s=%s\n", memquota.LimitEnv, val)

			// The first allocation bootstraps the tracker and reads the limit.
			memquota.Free(memquota.Malloc(1))
			fmt.Printf("Default limit: %s\n", humanize.IBytes(memquota.DefaultLimit))
			fmt.Printf("Effective: %s\n", memquota.Default().Stats())
			return nil
		},
	})
}
