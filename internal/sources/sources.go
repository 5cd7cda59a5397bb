// Package sources adapts the search engines and the discussion dataset to the
// common SourceResult shape. Adapters never return errors: every failure becomes a
// tagged, empty result so one source cannot take the others down.
package sources

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	apperrors "research-agent/internal/common/errors"
	"research-agent/internal/common/logger"
	"research-agent/internal/common/metrics"
	"research-agent/internal/models"
	"research-agent/internal/snapshot"
)

// Adapter is one information source.
type Adapter interface {
	ID() models.SourceID
	Search(ctx context.Context, q models.Query, timeout time.Duration) models.SourceResult
}

// Caller is the synchronous HTTP gateway.
type Caller interface {
	Call(ctx context.Context, endpoint string, payload interface{}, timeout time.Duration) (json.RawMessage, error)
}

// Fetcher runs one trigger/poll/download cycle.
type Fetcher interface {
	Fetch(ctx context.Context, spec snapshot.TriggerSpec, maxWait time.Duration) (json.RawMessage, error)
}

// failure converts err into the matching empty result and logs it.
func failure(log logger.Logger, source models.SourceID, err error) models.SourceResult {
	var res models.SourceResult
	if apperrors.IsTimeout(err) {
		res = models.NewTimedOutResult(source, err.Error())
	} else {
		res = models.NewErrorResult(source, err.Error())
	}
	log.Warn("source unavailable", map[string]interface{}{
		"source":    string(source),
		"kind":      string(res.Kind),
		"errorCode": string(apperrors.CodeOf(err)),
		"error":     err.Error(),
	})
	return res
}

func observe(res models.SourceResult) models.SourceResult {
	metrics.SourceResults.WithLabelValues(string(res.Source), string(res.Kind)).Inc()
	return res
}

// plainText flattens any HTML markup in s and collapses whitespace.
func plainText(s string) string {
	if strings.ContainsAny(s, "<&") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(s)); err == nil {
			s = doc.Text()
		}
	}
	return strings.Join(strings.Fields(s), " ")
}
