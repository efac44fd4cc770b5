package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/blecon/internal/bledb"
)

var uuidCmd = &cobra.Command{
	Use:   "uuid <uuid>...",
	Short: "Look up Bluetooth SIG names for UUIDs",
	Long: `Print the assigned name of each UUID. Short ("180f"), prefixed ("0x180F")
and full 128-bit forms are accepted.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runUUID,
}

func runUUID(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	for _, arg := range args {
		u := bledb.NormalizeUUID(arg)
		name, kind := bledb.Lookup(u)
		if name == "" {
			fmt.Fprintf(out, "%s\tunknown\n", u)
			continue
		}
		fmt.Fprintf(out, "%s\t%s\t%s\n", u, kind, name)
	}
	return nil
}
