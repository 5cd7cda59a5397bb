package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	apperrors "research-agent/internal/common/errors"
	"research-agent/internal/common/logger"
	"research-agent/internal/models"
)

const serpEndpoint = "/request"

const (
	GoogleSearchURL = "https://www.google.com/search"
	BingSearchURL   = "https://www.bing.com/search"
)

// SERPAdapter queries one search engine through the SERP proxy zone.
type SERPAdapter struct {
	id        models.SourceID
	searchURL string
	zone      string
	gw        Caller
	logger    logger.Logger
}

func NewSERPAdapter(id models.SourceID, searchURL, zone string, gw Caller, log logger.Logger) *SERPAdapter {
	return &SERPAdapter{
		id:        id,
		searchURL: searchURL,
		zone:      zone,
		gw:        gw,
		logger:    log.With(map[string]interface{}{"source": string(id)}),
	}
}

func NewGoogleAdapter(gw Caller, zone string, log logger.Logger) *SERPAdapter {
	return NewSERPAdapter(models.SourceGoogle, GoogleSearchURL, zone, gw, log)
}

func NewBingAdapter(gw Caller, zone string, log logger.Logger) *SERPAdapter {
	return NewSERPAdapter(models.SourceBing, BingSearchURL, zone, gw, log)
}

func (a *SERPAdapter) ID() models.SourceID { return a.id }

type serpItem struct {
	Title       string `json:"title"`
	Link        string `json:"link"`
	URL         string `json:"url"`
	Description string `json:"description"`
	Snippet     string `json:"snippet"`
	Rank        int    `json:"rank"`
}

type serpResponse struct {
	Knowledge map[string]interface{} `json:"knowledge"`
	Organic   []serpItem             `json:"organic"`
}

func (a *SERPAdapter) Search(ctx context.Context, q models.Query, timeout time.Duration) models.SourceResult {
	start := time.Now()
	payload := map[string]string{
		"zone":   a.zone,
		"url":    fmt.Sprintf("%s?q=%s&brd_json=1&num=10", a.searchURL, url.QueryEscape(q.String())),
		"format": "raw",
	}

	raw, err := a.gw.Call(ctx, serpEndpoint, payload, timeout)
	if err != nil {
		return observe(failure(a.logger, a.id, err))
	}

	var resp serpResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &resp); err != nil {
			return observe(failure(a.logger, a.id, apperrors.NewInvalidPayloadError(serpEndpoint, 200, err)))
		}
	}

	payloadOut := models.SearchPayload{Knowledge: resp.Knowledge}
	for i, item := range resp.Organic {
		if len(payloadOut.Organic) == models.MaxOrganicItems {
			break
		}
		link := item.Link
		if link == "" {
			link = item.URL
		}
		snippet := item.Description
		if snippet == "" {
			snippet = item.Snippet
		}
		rank := item.Rank
		if rank == 0 {
			rank = i + 1
		}
		payloadOut.Organic = append(payloadOut.Organic, models.OrganicItem{
			Title:   plainText(item.Title),
			URL:     link,
			Snippet: plainText(snippet),
			Rank:    rank,
		})
	}

	a.logger.Info("search completed", map[string]interface{}{
		"organic":    len(payloadOut.Organic),
		"durationMs": time.Since(start).Milliseconds(),
	})
	return observe(models.NewSearchResult(a.id, payloadOut))
}
