// Package ranking orders and deduplicates multi-source sub-results and hosts the
// discussion URL selector.
package ranking

import (
	"net/url"
	"sort"
	"strings"

	"research-agent/internal/models"
)

// RankPosts orders posts by engagement (score + comments), highest first.
// Ties keep discovery order. The input slice is not modified.
func RankPosts(posts []models.Post) []models.Post {
	out := make([]models.Post, len(posts))
	copy(out, posts)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Engagement() > out[j].Engagement()
	})
	return out
}

// RankComments orders comments by score, highest first, keeping discovery order
// for ties, and truncates to limit when limit > 0.
func RankComments(comments []models.Comment, limit int) []models.Comment {
	out := make([]models.Comment, len(comments))
	copy(out, comments)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// NormalizeURL returns the comparison form of a URL: lower-case scheme and host,
// no fragment, no trailing slash. Unparseable input is only trimmed.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.TrimRight(raw, "/")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(strings.TrimPrefix(u.Host, "www."))
	u.Fragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String()
}

// DedupeURLs keeps the first occurrence of each normalized URL, in input order.
func DedupeURLs(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		key := NormalizeURL(u)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, u)
	}
	return out
}
