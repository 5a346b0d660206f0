package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent-supervisor",
		Short: "Brokers coding-agent CLI sessions between a tool-protocol control plane and agent processes",
	}
	cmd.AddCommand(serveCmd())
	return cmd
}
