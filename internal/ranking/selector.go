package ranking

import (
	"context"
	"fmt"
	"strings"

	"research-agent/internal/common/logger"
	"research-agent/internal/common/metrics"
	"research-agent/internal/models"
)

// URLSelector is the language-model capability used to pick threads.
type URLSelector interface {
	SelectURLs(ctx context.Context, question, corpus string) ([]string, error)
}

// Selector picks up to max discussion URLs for a deep dive. It never fails:
// every problem degrades to an empty decision with a reason.
type Selector struct {
	llm    URLSelector
	max    int
	logger logger.Logger
}

func NewSelector(llm URLSelector, max int, log logger.Logger) *Selector {
	if max <= 0 || max > models.MaxSelectedURLs {
		max = models.MaxSelectedURLs
	}
	return &Selector{llm: llm, max: max, logger: log}
}

func (s *Selector) Select(ctx context.Context, q models.Query, payload models.DiscussionPayload) models.SelectionDecision {
	decision := s.selectURLs(ctx, q, payload)
	metrics.SelectionDecisions.WithLabelValues(string(decision.Reason)).Inc()
	return decision
}

func (s *Selector) selectURLs(ctx context.Context, q models.Query, payload models.DiscussionPayload) models.SelectionDecision {
	candidates := DedupeURLs(payload.URLs())
	if len(candidates) == 0 {
		return models.SelectionDecision{URLs: []string{}, Reason: models.SelectionNoCandidates}
	}

	picked, err := s.llm.SelectURLs(ctx, q.String(), DiscussionCorpus(payload))
	if err != nil {
		s.logger.Warn("url selection unavailable, skipping discussion deep dive", map[string]interface{}{
			"error":      err.Error(),
			"candidates": len(candidates),
		})
		return models.SelectionDecision{URLs: []string{}, Reason: models.SelectionCapabilityUnavailable}
	}

	// only URLs observed in this request's payload, in the payload's spelling
	known := make(map[string]string, len(candidates))
	for _, c := range candidates {
		known[NormalizeURL(c)] = c
	}

	urls := make([]string, 0, s.max)
	seen := make(map[string]struct{}, s.max)
	for _, p := range picked {
		key := NormalizeURL(p)
		original, ok := known[key]
		if !ok {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		urls = append(urls, original)
		if len(urls) == s.max {
			break
		}
	}

	if len(urls) == 0 {
		if len(picked) > 0 {
			s.logger.Debug("selected urls not present in discussion payload", map[string]interface{}{
				"returned": len(picked),
			})
		}
		return models.SelectionDecision{URLs: []string{}, Reason: models.SelectionNoRelevant}
	}
	return models.SelectionDecision{URLs: urls, Reason: models.SelectionSelected}
}

// DiscussionCorpus renders posts as the numbered list the selection prompt expects.
func DiscussionCorpus(payload models.DiscussionPayload) string {
	var b strings.Builder
	for i, p := range payload.Posts {
		if p.URL == "" {
			continue
		}
		fmt.Fprintf(&b, "%d. %s\n   url: %s\n   score: %d, comments: %d", i+1, p.Title, p.URL, p.Score, p.CommentCount)
		if p.Community != "" {
			fmt.Fprintf(&b, ", community: r/%s", strings.TrimPrefix(p.Community, "r/"))
		}
		b.WriteString("\n")
	}
	return b.String()
}
