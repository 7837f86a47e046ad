package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/avhult/thinkterm/internal/config"
	"github.com/avhult/thinkterm/internal/llm"
	"github.com/avhult/thinkterm/internal/search"
	"github.com/avhult/thinkterm/internal/session"
	"github.com/avhult/thinkterm/internal/signal"
)

var (
	askModel        string
	askThink        string
	askSearch       bool
	askHideThinking bool
)

func init() {
	askCmd.Flags().StringVarP(&askModel, "model", "m", "", "Override the configured model")
	askCmd.Flags().StringVar(&askThink, "think", "", "Think level: off, low, medium, high")
	askCmd.Flags().BoolVarP(&askSearch, "search", "s", false, "Enable web search and page fetch tools")
	askCmd.Flags().BoolVar(&askHideThinking, "hide-thinking", false, "Hide deliberation text from output")
	rootCmd.AddCommand(askCmd)
}

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question and stream the answer",
	RunE:  runAsk,
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	cfg.ApplyOverrides(askModel, askThink)

	question, err := readQuestion(args)
	if err != nil {
		return err
	}

	think, err := parseThinkLevel(cfg.Think)
	if err != nil {
		return err
	}

	provider := llm.NewOllamaProvider(cfg.Ollama.BaseURL, cfg.Ollama.APIKey, cfg.Ollama.Model)
	engine := llm.NewEngine(provider, llm.NewToolRegistry())

	useTools := askSearch || cfg.Search.Enabled
	if useTools {
		if cfg.Search.Endpoint == "" {
			return fmt.Errorf("search requested but search.endpoint is not configured")
		}
		backend := search.NewClient(cfg.Search.Endpoint, cfg.Search.APIKey)
		engine.RegisterTool(llm.NewWebSearchTool(backend))
		engine.RegisterTool(llm.NewReadURLTool(backend))
	}

	ctx, stop := signal.NotifyContext(context.Background())
	defer stop()

	var printed int
	result, err := engine.Run(ctx, llm.Request{
		Messages:     []llm.Message{llm.UserText(question)},
		Think:        think,
		ToolsEnabled: useTools,
		HideThinking: askHideThinking,
		Debug:        debugFlag,
		OnUpdate: func(text string) {
			// The transcript only ever grows; print the new tail.
			if len(text) > printed {
				os.Stdout.WriteString(text[printed:])
				printed = len(text)
			}
		},
	})
	if err != nil {
		return err
	}
	fmt.Println()

	if !plainFlag && term.IsTerminal(int(os.Stdout.Fd())) {
		renderAnswer(result.Text)
	}
	if result.WasTruncated {
		warn := lipgloss.NewStyle().Faint(true).Render("(response truncated)")
		fmt.Fprintln(os.Stderr, warn)
	}

	saveExchange(cmd.Context(), cfg, question, result)
	return nil
}

func readQuestion(args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	if term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("no question provided")
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	question := strings.TrimSpace(string(data))
	if question == "" {
		return "", fmt.Errorf("no question provided")
	}
	return question, nil
}

func parseThinkLevel(level string) (llm.ThinkLevel, error) {
	switch level {
	case "off", "":
		return llm.ThinkOff, nil
	case "low":
		return llm.ThinkLow, nil
	case "medium":
		return llm.ThinkMedium, nil
	case "high":
		return llm.ThinkHigh, nil
	default:
		return llm.ThinkOff, fmt.Errorf("unknown think level %q (use off, low, medium or high)", level)
	}
}

var thinkBlockRe = regexp.MustCompile(`(?s)<think>\n?.*?\n?</think>\n*`)

// renderAnswer re-renders the final answer as markdown below the streamed
// plain text, with deliberation stripped.
func renderAnswer(transcript string) {
	answer := strings.TrimSpace(thinkBlockRe.ReplaceAllString(transcript, ""))
	if answer == "" {
		return
	}
	separator := lipgloss.NewStyle().Faint(true).Render(strings.Repeat("─", 40))
	fmt.Println(separator)
	rendered, err := glamour.Render(answer, "auto")
	if err != nil {
		fmt.Println(answer)
		return
	}
	fmt.Print(rendered)
}

// saveExchange persists the finished exchange. Persistence failures are
// reported but never fail the command.
func saveExchange(ctx context.Context, cfg *config.Config, question string, result *llm.Result) {
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := openStore(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: session store unavailable: %v\n", err)
		return
	}
	defer store.Close()

	exchange := session.Exchange{
		Model:      cfg.Ollama.Model,
		Think:      cfg.Think,
		Prompt:     question,
		Transcript: result.Text,
		Truncated:  result.WasTruncated,
	}
	if result.Usage != nil {
		exchange.InputTokens = result.Usage.InputTokens
		exchange.OutputTokens = result.Usage.OutputTokens
	}
	if err := store.Save(ctx, exchange); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to save session: %v\n", err)
	}
}

func openStore(cfg *config.Config) (session.Store, error) {
	if !cfg.Session.Enabled {
		return session.NoopStore{}, nil
	}
	dbPath := cfg.Session.Path
	if dbPath == "" {
		dataDir, err := config.GetDataDir()
		if err != nil {
			return nil, err
		}
		dbPath = filepath.Join(dataDir, "sessions.db")
	}
	return session.NewSQLiteStore(dbPath)
}
