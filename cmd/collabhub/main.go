// collabhub is the real-time collaborative document editing hub.
package main

import (
	goflag "flag"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "collabhub",
		Short:         "Real-time collaborative document editing hub",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	// Expose glog's -v/-logtostderr flags alongside our own.
	root.PersistentFlags().AddGoFlagSet(goflag.CommandLine)

	root.AddCommand(newServeCmd())
	root.AddCommand(newTokenCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "collabhub:", err)
		os.Exit(1)
	}
}
