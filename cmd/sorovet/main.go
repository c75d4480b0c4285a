package main

import (
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// App version (set via linker flags -ldflags="-X main.appVersion=...")
var appVersion = "dev"

var rootCmd = &cobra.Command{
	Use:   "sorovet",
	Short: "Soroban contract analysis service",
	Long:  `sorovet analyzes Soroban smart-contract sources for structural issues and serves diagnostics, completions, and hover docs over LSP`,
}

func main() {
	rootCmd.Version = appVersion

	rootCmd.AddCommand(lspCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(rulesCmd)

	rootCmd.PersistentFlags().String("log-level", "", "override configured log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().String("color", "auto", "colorize output (auto|on|off)")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// isTerminal reports whether f is attached to a terminal.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// useColor resolves the --color persistent flag against the output terminal.
func useColor(cmd *cobra.Command, out *os.File) bool {
	colorFlag, err := cmd.Root().PersistentFlags().GetString("color")
	if err != nil {
		return false
	}
	return colorFlag == "on" || (colorFlag == "auto" && isTerminal(out))
}
