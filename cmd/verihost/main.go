// Command verihost is a debug CLI for running the tiered verification
// cascade against a single address from the command line, outside the
// queue worker.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "verihost",
	Short: "Tiered email deliverability verifier",
	Long:  "verihost runs the cache/fast/SMTP/pattern/enrichment verification cascade against a single address.",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
