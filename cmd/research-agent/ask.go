package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"research-agent/internal/models"
	"research-agent/internal/pipeline"
)

// Researcher runs one research with a progress observer.
type Researcher interface {
	ResearchWithProgress(ctx context.Context, question string, progress pipeline.ProgressFunc) (*models.Answer, error)
}

var flagQuiet bool

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Research a single question and print the answer",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s, err := newSession(ctx)
		if err != nil {
			return err
		}
		defer s.close()

		_, err = ask(ctx, s.orchestrator, strings.Join(args, " "), cmd.OutOrStdout(), !flagQuiet)
		return err
	},
}

func init() {
	askCmd.Flags().BoolVarP(&flagQuiet, "quiet", "q", false, "hide stage progress")
}

// ask runs one research and renders it to out. A failed research prints the
// apology and returns the error.
func ask(ctx context.Context, r Researcher, question string, out io.Writer, progress bool) (*models.Answer, error) {
	var onProgress pipeline.ProgressFunc
	if progress {
		onProgress = func(stage string, done, total int) {
			fmt.Fprintf(out, "  [%d/%d] %s\n", done, total, stage)
		}
	}

	answer, err := r.ResearchWithProgress(ctx, question, onProgress)
	if err != nil {
		fmt.Fprintln(out, pipeline.Apology(err))
		return nil, err
	}
	printAnswer(out, answer)
	return answer, nil
}
