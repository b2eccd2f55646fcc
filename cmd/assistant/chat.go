package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"academic-assistant/internal/domain"
	"academic-assistant/internal/session"
	"academic-assistant/internal/usecase"
)

var (
	chatMode     string
	chatDocument string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive conversation",
	Long: `Start a line-oriented conversation with the assistant.

Commands:
  /mode <explain|qa>  switch between explanations and document answers
  /doc <name>         select a document (empty name clears the selection)
  /clear              forget the conversation so far
  /history            print the conversation so far
  /quit               leave`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c := &chat{uc: assistantApp.Assistant, sessionID: sessionFlag, out: cmd.OutOrStdout()}
		if chatMode != "" {
			if err := c.command(cmd.Context(), "/mode "+chatMode); err != nil {
				return err
			}
		}
		if chatDocument != "" {
			if err := c.command(cmd.Context(), "/doc "+chatDocument); err != nil {
				return err
			}
		}
		return c.run(cmd.Context(), cmd.InOrStdin())
	},
}

func init() {
	chatCmd.Flags().StringVar(&chatMode, "mode", "", "initial mode (explain or qa)")
	chatCmd.Flags().StringVar(&chatDocument, "document", "", "initial document")
}

var errQuit = errors.New("quit")

type chatAssistant interface {
	Ask(ctx context.Context, in usecase.AskInput) (usecase.AskOutput, error)
	History(ctx context.Context, sessionID string) (usecase.HistoryOutput, error)
	ClearHistory(ctx context.Context, sessionID string) error
	SelectMode(ctx context.Context, sessionID, mode string) (session.State, error)
	SelectDocument(ctx context.Context, in usecase.SelectInput) (usecase.SelectOutput, error)
	ClearDocument(ctx context.Context, sessionID string) (session.State, error)
}

type chat struct {
	uc        chatAssistant
	sessionID string
	out       io.Writer
}

func (c *chat) run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	c.prompt()
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case strings.HasPrefix(line, "/"):
			err := c.command(ctx, line)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				c.printError(err)
			}
		default:
			out, err := c.uc.Ask(ctx, usecase.AskInput{SessionID: c.sessionID, Query: line})
			if err != nil {
				c.printError(err)
				break
			}
			fmt.Fprintf(c.out, "\n%s\n\n", out.Answer)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.prompt()
	}
	return scanner.Err()
}

func (c *chat) prompt() {
	fmt.Fprint(c.out, "> ")
}

func (c *chat) command(ctx context.Context, line string) error {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/quit", "/exit":
		return errQuit
	case "/mode":
		state, err := c.uc.SelectMode(ctx, c.sessionID, arg)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "mode: %s\n", state.Mode)
	case "/doc":
		if arg == "" {
			if _, err := c.uc.ClearDocument(ctx, c.sessionID); err != nil {
				return err
			}
			fmt.Fprintln(c.out, "document cleared")
			return nil
		}
		out, err := c.uc.SelectDocument(ctx, usecase.SelectInput{SessionID: c.sessionID, Name: arg})
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "document: %s (%d chunks)\n", out.Session.Document, out.Chunks)
	case "/clear":
		if err := c.uc.ClearHistory(ctx, c.sessionID); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "conversation cleared")
	case "/history":
		out, err := c.uc.History(ctx, c.sessionID)
		if err != nil {
			return err
		}
		if len(out.Turns) == 0 {
			fmt.Fprintln(c.out, "(no history)")
			return nil
		}
		fmt.Fprintln(c.out, domain.Transcript(out.Turns))
	default:
		return fmt.Errorf("unknown command %s", name)
	}
	return nil
}

func (c *chat) printError(err error) {
	fmt.Fprintln(c.out, describe(err))
}

// describe renders an error for the terminal, preferring the user notice.
func describe(err error) string {
	var uerr *usecase.Error
	if errors.As(err, &uerr) {
		if uerr.Notice != "" {
			return "⚠️ " + uerr.Notice
		}
		if uerr.Reason != "" {
			return fmt.Sprintf("error: %s (%s)", uerr.Code, uerr.Reason)
		}
		return fmt.Sprintf("error: %s", uerr.Code)
	}
	return "error: " + err.Error()
}
