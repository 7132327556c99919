package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "deskmate",
	Short: "deskmate — internal helpdesk assistant with intent routing and a local knowledge base",
	Long: `deskmate is an internal helpdesk assistant. It classifies each request
(greeting, direct tool, FAQ, general question), runs direct tools like
password-reset guidance and owner lookup, and answers knowledge questions
from a locally indexed document corpus via a local Ollama backend.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.Version = version

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(askCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
