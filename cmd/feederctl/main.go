// Command feederctl talks to a running catfeeder over its HTTP API.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var version = "dev"

const defaultAddr = "http://127.0.0.1:8080"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)

	root := &cobra.Command{
		Use:           "feederctl",
		Short:         "Control a catfeeder daemon",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	if env := os.Getenv("FEEDERCTL_ADDR"); env != "" {
		addr = env
	} else {
		addr = defaultAddr
	}
	root.PersistentFlags().StringVar(&addr, "addr", addr, "Base URL of the catfeeder API")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "Request timeout")

	client := func() *apiClient { return newAPIClient(addr, timeout) }

	root.AddCommand(statusCmd(client))
	root.AddCommand(feedCmd(client))
	root.AddCommand(machinesCmd(client))
	root.AddCommand(reloadCmd(client))
	root.AddCommand(healthCmd(client))
	root.AddCommand(eventsCmd(client))
	return root
}
