package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	debugFlag bool
	plainFlag bool
)

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Print debug output (tool calls, skipped frames)")
	rootCmd.PersistentFlags().BoolVar(&plainFlag, "plain", false, "Plain text output, no markdown rendering")
}

var rootCmd = &cobra.Command{
	Use:   "thinkterm",
	Short: "Chat with local thinking models from the terminal",
	Long: `thinkterm streams answers from Ollama-style thinking models, keeping
deliberation and answer text cleanly separated, and lets the model call
web search and page-fetch tools mid-turn.

Examples:
  thinkterm ask "why is the sky blue"
  thinkterm ask -s "weather in Wellington today"   # with web tools
  thinkterm ask --think low "2+2"
  thinkterm sessions                               # list saved exchanges`,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
