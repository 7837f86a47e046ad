package cmd

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/avhult/thinkterm/internal/config"
)

var sessionsLimit int

func init() {
	sessionsCmd.Flags().IntVarP(&sessionsLimit, "limit", "n", 20, "Number of exchanges to show")
	rootCmd.AddCommand(sessionsCmd)
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List saved exchanges",
	RunE:  runSessions,
}

func runSessions(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	exchanges, err := store.List(cmd.Context(), sessionsLimit)
	if err != nil {
		return err
	}
	if len(exchanges) == 0 {
		fmt.Println("No saved exchanges.")
		return nil
	}

	timeStyle := lipgloss.NewStyle().Faint(true)
	modelStyle := lipgloss.NewStyle().Bold(true)
	for _, e := range exchanges {
		prompt := e.Prompt
		if len(prompt) > 72 {
			prompt = prompt[:69] + "..."
		}
		prompt = strings.ReplaceAll(prompt, "\n", " ")
		line := fmt.Sprintf("%s  %s  %s",
			timeStyle.Render(e.CreatedAt.Local().Format("2006-01-02 15:04")),
			modelStyle.Render(e.Model),
			prompt,
		)
		if e.Truncated {
			line += timeStyle.Render("  (truncated)")
		}
		fmt.Println(line)
	}
	return nil
}
