package main

import (
	"bytes"
	"context"
	stderrors "errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "research-agent/internal/common/errors"
	"research-agent/internal/history"
	"research-agent/internal/models"
	"research-agent/internal/pipeline"
)

type scriptedResearcher struct {
	calls int
}

func (s *scriptedResearcher) ResearchWithProgress(_ context.Context, question string, progress pipeline.ProgressFunc) (*models.Answer, error) {
	s.calls++
	if progress != nil {
		progress(pipeline.StageSearchGoogle, 1, 9)
		progress(pipeline.StageSynthesize, 9, 9)
	}
	if strings.Contains(question, "fail") {
		return nil, apperrors.NewResearchFailedError(pipeline.StageSynthesize, stderrors.New("model overloaded"))
	}
	return &models.Answer{
		Question:     question,
		Text:         "Answer to " + question,
		Sources:      []models.SourceID{models.SourceGoogle, models.SourceBing},
		Unavailable:  []models.SourceID{models.SourceReddit},
		SelectedURLs: []string{},
		Duration:     2 * time.Second,
	}, nil
}

func TestAsk(t *testing.T) {
	tests := []struct {
		name           string
		question       string
		progress       bool
		wantErr        bool
		validateOutput func(t *testing.T, out string)
	}{
		{
			name:     "answer with progress",
			question: "best budget laptop",
			progress: true,
			validateOutput: func(t *testing.T, out string) {
				assert.Contains(t, out, "[1/9] search_google")
				assert.Contains(t, out, "Answer to best budget laptop")
				assert.Contains(t, out, "Sources: Google, Bing")
				assert.Contains(t, out, "Unavailable: Reddit")
			},
		},
		{
			name:     "quiet",
			question: "best budget laptop",
			validateOutput: func(t *testing.T, out string) {
				assert.NotContains(t, out, "search_google")
			},
		},
		{
			name:     "failure prints apology",
			question: "please fail",
			wantErr:  true,
			validateOutput: func(t *testing.T, out string) {
				assert.Contains(t, out, "I apologize, but I encountered an error while researching your question: ")
				assert.Contains(t, out, "model overloaded")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			_, err := ask(context.Background(), &scriptedResearcher{}, tt.question, &out, tt.progress)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			tt.validateOutput(t, out.String())
		})
	}
}

func TestChat_SessionKeepsHistory(t *testing.T) {
	r := &scriptedResearcher{}
	hist := history.New(10)
	in := strings.NewReader("first question\n\nplease fail\n/history\n/stats\n/quit\nnever asked\n")
	var out bytes.Buffer

	require.NoError(t, chat(context.Background(), r, hist, in, &out))

	assert.Equal(t, 2, r.calls, "blank lines and commands are not researched")
	entries := hist.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "first question", entries[0].Question)
	assert.True(t, entries[1].Failed)

	text := out.String()
	assert.Contains(t, text, " 1. first question (2 sources, 2s)")
	assert.Contains(t, text, "please fail (failed")
	assert.Contains(t, text, "Total researches: 2")
	assert.Contains(t, text, "Failed: 1")
}

func TestChat_EOFEndsSession(t *testing.T) {
	var out bytes.Buffer
	err := chat(context.Background(), &scriptedResearcher{}, history.New(5), strings.NewReader("/help\n"), &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "/history  list recent questions")
}

func TestChat_OversizedLineIsRejected(t *testing.T) {
	r := &scriptedResearcher{}
	hist := history.New(5)
	in := strings.NewReader(strings.Repeat("x", 200*1024) + "\nsecond question")
	var out bytes.Buffer

	require.NoError(t, chat(context.Background(), r, hist, in, &out))

	assert.Equal(t, 1, r.calls, "only the valid question is researched")
	assert.Contains(t, out.String(), "Invalid question: question exceeds 2000 characters")
	assert.Contains(t, out.String(), "Answer to second question")
	require.Len(t, hist.Entries(), 1)
	assert.Equal(t, "second question", hist.Entries()[0].Question)
}

func TestPrintHistory_Empty(t *testing.T) {
	var out bytes.Buffer
	printHistory(&out, nil)
	assert.Equal(t, "No researches yet.\n", out.String())
}
