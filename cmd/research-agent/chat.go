package main

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	apperrors "research-agent/internal/common/errors"
	"research-agent/internal/history"
	"research-agent/internal/models"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Ask questions interactively",
	Long:  "Start an interactive session. Type a question, or /history, /stats, /help, /quit.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s, err := newSession(ctx)
		if err != nil {
			return err
		}
		defer s.close()

		return chat(ctx, s.orchestrator, history.New(s.cfg.Pipeline.HistorySize), cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

const chatHelp = `Commands:
  /history  list recent questions
  /stats    show research statistics
  /help     show this help
  /quit     leave the session`

// chat reads one question per line until EOF, /quit or ctx is cancelled.
// Failed researches are recorded and do not end the session.
func chat(ctx context.Context, r Researcher, hist *history.History, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, "Research agent ready. Ask a question, or /help.")
	reader := bufio.NewReader(in)
	for {
		fmt.Fprint(out, "> ")
		raw, err := reader.ReadString('\n')
		if err != nil && !stderrors.Is(err, io.EOF) {
			fmt.Fprintln(out)
			return err
		}
		if raw == "" && err != nil {
			fmt.Fprintln(out)
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}

		line := strings.TrimSpace(raw)
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/help":
			fmt.Fprintln(out, chatHelp)
			continue
		case "/history":
			printHistory(out, hist.Entries())
			continue
		case "/stats":
			printStats(out, hist.Stats())
			continue
		}

		if verr := models.Query(line).Validate(); verr != nil {
			var se *apperrors.StandardError
			if stderrors.As(verr, &se) {
				fmt.Fprintf(out, "Invalid question: %s\n", se.Details)
			} else {
				fmt.Fprintf(out, "Invalid question: %v\n", verr)
			}
			continue
		}

		start := time.Now()
		answer, rerr := ask(ctx, r, line, out, true)
		if rerr != nil {
			hist.Add(models.HistoryEntry{
				Question: line,
				Duration: time.Since(start),
				Failed:   true,
			})
			continue
		}
		hist.Add(history.FromAnswer(answer))
	}
}
