package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Version is the application version, which can be set at build time:
//
//	go build -ldflags "-X github.com/xkilldash9x/marquee/cmd.Version=1.2.3"
var Version = "1.0"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the marquee version",
		Args:  cobra.NoArgs,
		// Printing the version must work without a config file or logger,
		// so the root's PersistentPreRunE is overridden with a no-op.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "marquee %s %s/%s\n", Version, runtime.GOOS, runtime.GOARCH)
		},
	}
}
