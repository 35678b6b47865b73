package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.3.0"

var noColor bool

var rootCmd = &cobra.Command{
	Use:           "quill",
	Short:         "Persona-calibrated document drafting over a local knowledge base",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(personaCmd)
	rootCmd.AddCommand(sourceCmd)
	rootCmd.AddCommand(compileCmd)
	rootCmd.AddCommand(draftCmd)
	rootCmd.AddCommand(pathwaysCmd)
	rootCmd.AddCommand(rateCmd)
	rootCmd.AddCommand(suggestCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+err.Error()))
		os.Exit(1)
	}
}
