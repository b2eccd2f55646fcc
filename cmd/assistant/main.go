// Command assistant is a terminal front end for the academic assistant.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"academic-assistant/internal/app"
	"academic-assistant/internal/config"
)

var (
	assistantApp *app.App
	verbose      bool
	sessionFlag  string
)

var rootCmd = &cobra.Command{
	Use:   "assistant",
	Short: "Academic assistant for lecture notes and papers",
	Long: `Chat with an LLM tutor, ask questions grounded in your PDFs,
summarize documents and quiz yourself on them.

Run "assistant chat" for the interactive loop.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		_ = godotenv.Load()

		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		assistantApp, err = app.Build(cmd.Context(), cfg, logger, prometheus.NewRegistry())
		return err
	},
	PersistentPostRunE: func(*cobra.Command, []string) error {
		if assistantApp == nil {
			return nil
		}
		return assistantApp.Close()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output to stderr")
	rootCmd.PersistentFlags().StringVar(&sessionFlag, "session", "cli", "session id")

	rootCmd.AddCommand(chatCmd, askCmd, docsCmd, indexCmd, summarizeCmd, quizCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
