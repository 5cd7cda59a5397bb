package models

import (
	"strings"
	"unicode/utf8"

	apperrors "research-agent/internal/common/errors"
)

const (
	MaxQueryLength  = 2000
	MaxOrganicItems = 8
	MaxPosts        = 12
	MaxComments     = 50
	MaxSelectedURLs = 3
)

// Query is the user's question. It is read-only once validated.
type Query string

func (q Query) String() string { return string(q) }

// Validate rejects blank and oversized questions.
func (q Query) Validate() error {
	s := strings.TrimSpace(string(q))
	if s == "" {
		return apperrors.NewInvalidQueryError("question is empty")
	}
	if utf8.RuneCountInString(s) > MaxQueryLength {
		return apperrors.NewInvalidQueryError("question exceeds 2000 characters")
	}
	return nil
}

// SourceID identifies one of the three information sources.
type SourceID string

const (
	SourceGoogle SourceID = "google"
	SourceBing   SourceID = "bing"
	SourceReddit SourceID = "reddit"
)

// AllSources returns the sources in presentation order.
func AllSources() []SourceID {
	return []SourceID{SourceGoogle, SourceBing, SourceReddit}
}

// Title returns the display name used in prompts and placeholders.
func (s SourceID) Title() string {
	switch s {
	case SourceGoogle:
		return "Google"
	case SourceBing:
		return "Bing"
	case SourceReddit:
		return "Reddit"
	}
	return string(s)
}

type ResultKind string

const (
	KindSearch     ResultKind = "search"
	KindDiscussion ResultKind = "discussion"
	KindError      ResultKind = "error"
	KindTimedOut   ResultKind = "timed_out"
)

// SourceResult is a tagged union. Use the constructors: an error or timed_out
// result never carries a payload.
type SourceResult struct {
	Source     SourceID           `json:"source"`
	Kind       ResultKind         `json:"kind"`
	Search     *SearchPayload     `json:"search,omitempty"`
	Discussion *DiscussionPayload `json:"discussion,omitempty"`
	Reason     string             `json:"reason,omitempty"`
}

func NewSearchResult(source SourceID, payload SearchPayload) SourceResult {
	if len(payload.Organic) > MaxOrganicItems {
		payload.Organic = payload.Organic[:MaxOrganicItems]
	}
	return SourceResult{Source: source, Kind: KindSearch, Search: &payload}
}

func NewDiscussionResult(source SourceID, payload DiscussionPayload) SourceResult {
	if len(payload.Posts) > MaxPosts {
		payload.Posts = payload.Posts[:MaxPosts]
	}
	return SourceResult{Source: source, Kind: KindDiscussion, Discussion: &payload}
}

func NewErrorResult(source SourceID, reason string) SourceResult {
	return SourceResult{Source: source, Kind: KindError, Reason: reason}
}

func NewTimedOutResult(source SourceID, reason string) SourceResult {
	return SourceResult{Source: source, Kind: KindTimedOut, Reason: reason}
}

// Failed reports an error or timed_out result.
func (r SourceResult) Failed() bool {
	return r.Kind == KindError || r.Kind == KindTimedOut
}

// HasData reports whether the result carries at least one usable item.
func (r SourceResult) HasData() bool {
	switch r.Kind {
	case KindSearch:
		return r.Search != nil && (len(r.Search.Organic) > 0 || len(r.Search.Knowledge) > 0)
	case KindDiscussion:
		return r.Discussion != nil && len(r.Discussion.Posts) > 0
	}
	return false
}

// Posts returns the discussion posts, or nil for any other kind.
func (r SourceResult) Posts() []Post {
	if r.Kind != KindDiscussion || r.Discussion == nil {
		return nil
	}
	return r.Discussion.Posts
}

type SearchPayload struct {
	Knowledge map[string]interface{} `json:"knowledge,omitempty"`
	Organic   []OrganicItem          `json:"organic"`
}

type OrganicItem struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
	Rank    int    `json:"rank"`
}

type DiscussionPayload struct {
	Posts []Post `json:"posts"`
}

// URLs returns the post URLs in ranked order.
func (p DiscussionPayload) URLs() []string {
	out := make([]string, 0, len(p.Posts))
	for _, post := range p.Posts {
		if post.URL != "" {
			out = append(out, post.URL)
		}
	}
	return out
}

type Post struct {
	Title        string `json:"title"`
	URL          string `json:"url"`
	Score        int    `json:"score"`
	CommentCount int    `json:"commentCount"`
	Community    string `json:"community,omitempty"`
}

// Engagement is the ranking key for discussion posts.
func (p Post) Engagement() int {
	return p.Score + p.CommentCount
}

type Comment struct {
	ID    string `json:"id"`
	Text  string `json:"text"`
	Date  string `json:"date,omitempty"`
	Score int    `json:"score"`
}

// RetrievedPosts is the full-content result for the selected URLs.
type RetrievedPosts struct {
	URLs     []string  `json:"urls"`
	Comments []Comment `json:"comments"`
}

func (r RetrievedPosts) Empty() bool {
	return len(r.Comments) == 0
}
