package sources

import (
	"context"
	"time"

	"research-agent/internal/common/logger"
	"research-agent/internal/models"
	"research-agent/internal/ranking"
	"research-agent/internal/snapshot"
)

// Dataset ids and inputs for the discussion provider.
const (
	DefaultDiscussionDataset = "gd_lvz8ah06191smkebj4"
	DefaultPostsDataset      = "gd_lvzdpsdlw09j6t702"

	discussionRecency  = "All time"
	discussionSort     = "Top"
	postCommentLimit   = 20
	maxRetrievedThread = 3
)

// DiscussionAdapter searches the discussion dataset by keyword. It is the one
// asynchronous source: results arrive through a snapshot job.
type DiscussionAdapter struct {
	fetcher   Fetcher
	datasetID string
	logger    logger.Logger
}

func NewDiscussionAdapter(f Fetcher, datasetID string, log logger.Logger) *DiscussionAdapter {
	if datasetID == "" {
		datasetID = DefaultDiscussionDataset
	}
	return &DiscussionAdapter{
		fetcher:   f,
		datasetID: datasetID,
		logger:    log.With(map[string]interface{}{"source": string(models.SourceReddit)}),
	}
}

func (a *DiscussionAdapter) ID() models.SourceID { return models.SourceReddit }

func (a *DiscussionAdapter) Search(ctx context.Context, q models.Query, timeout time.Duration) models.SourceResult {
	spec := snapshot.TriggerSpec{
		Operation:  "reddit_search",
		DatasetID:  a.datasetID,
		DiscoverBy: "keyword",
		Inputs: []map[string]interface{}{{
			"keyword":      q.String(),
			"date":         discussionRecency,
			"sort_by":      discussionSort,
			"num_of_posts": models.MaxPosts,
		}},
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	raw, err := a.fetcher.Fetch(ctx, spec, timeout)
	if err != nil {
		return observe(failure(a.logger, models.SourceReddit, err))
	}
	records, err := snapshot.DecodeRecords(raw)
	if err != nil {
		return observe(failure(a.logger, models.SourceReddit, err))
	}

	posts := make([]models.Post, 0, len(records))
	for _, r := range records {
		p := models.Post{
			Title:        plainText(r.String("title")),
			URL:          r.String("url"),
			Score:        r.Int("score"),
			CommentCount: r.Int("num_comments"),
			Community:    r.String("subreddit"),
		}
		if p.URL == "" {
			continue
		}
		posts = append(posts, p)
	}

	ranked := ranking.RankPosts(posts)
	a.logger.Info("discussion search completed", map[string]interface{}{
		"records": len(records),
		"posts":   len(ranked),
	})
	return observe(models.NewDiscussionResult(models.SourceReddit, models.DiscussionPayload{Posts: ranked}))
}

// PostRetriever downloads full comment threads for selected discussion URLs.
type PostRetriever struct {
	fetcher   Fetcher
	datasetID string
	logger    logger.Logger
}

func NewPostRetriever(f Fetcher, datasetID string, log logger.Logger) *PostRetriever {
	if datasetID == "" {
		datasetID = DefaultPostsDataset
	}
	return &PostRetriever{
		fetcher:   f,
		datasetID: datasetID,
		logger:    log.With(map[string]interface{}{"component": "post_retriever"}),
	}
}

// Retrieve fetches comments for at most three urls, ranked by score and capped.
// An empty url list returns an empty result without touching the network.
func (r *PostRetriever) Retrieve(ctx context.Context, urls []string, timeout time.Duration) (models.RetrievedPosts, error) {
	if len(urls) == 0 {
		return models.RetrievedPosts{URLs: []string{}, Comments: []models.Comment{}}, nil
	}
	if len(urls) > maxRetrievedThread {
		urls = urls[:maxRetrievedThread]
	}

	inputs := make([]map[string]interface{}, 0, len(urls))
	for _, u := range urls {
		inputs = append(inputs, map[string]interface{}{
			"url":              u,
			"days_ago":         0,
			"load_all_replies": false,
			"comment_limit":    postCommentLimit,
		})
	}
	spec := snapshot.TriggerSpec{
		Operation:  "reddit_posts",
		DatasetID:  r.datasetID,
		DiscoverBy: "url",
		Inputs:     inputs,
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	raw, err := r.fetcher.Fetch(ctx, spec, timeout)
	if err != nil {
		return models.RetrievedPosts{}, err
	}
	records, err := snapshot.DecodeRecords(raw)
	if err != nil {
		return models.RetrievedPosts{}, err
	}

	comments := make([]models.Comment, 0, len(records))
	for _, rec := range records {
		text := plainText(rec.String("comment"))
		if text == "" {
			continue
		}
		comments = append(comments, models.Comment{
			ID:    rec.String("comment_id"),
			Text:  text,
			Date:  rec.String("date_posted"),
			Score: rec.Int("score"),
		})
	}

	out := models.RetrievedPosts{
		URLs:     append([]string(nil), urls...),
		Comments: ranking.RankComments(comments, models.MaxComments),
	}
	r.logger.Info("posts retrieved", map[string]interface{}{
		"urls":     len(urls),
		"records":  len(records),
		"comments": len(out.Comments),
	})
	return out, nil
}
