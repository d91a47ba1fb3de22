// Command mcprouter is the MCP gateway: it fronts a set of independent
// upstream MCP servers, each in its own container, behind one merged
// tool/resource/prompt catalog spoken over stdio or HTTP.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mcprouter",
	Short: "MCP gateway",
	Long: `mcprouter aggregates independent upstream MCP servers, each running
in its own container, behind one unified MCP protocol surface.`,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(resetCmd)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
