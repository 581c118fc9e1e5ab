// AutoData — autonomous dataset collection from natural-language requests.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "autodata",
	Short: "AutoData — autonomous dataset collection driven by natural language.",
	Long: `AutoData turns a natural-language dataset request into a finished dataset.
A fixed pipeline of specialized model-backed workers plans the collection,
researches sources and tools, designs a blueprint, writes and tests the
collection code, and validates the result before the run completes.`,
	RunE:          runCollect, // Default to a collection run.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(runCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
