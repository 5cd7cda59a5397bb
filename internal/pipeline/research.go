package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"research-agent/internal/common/llm"
	"research-agent/internal/models"
	"research-agent/internal/ranking"
	"research-agent/internal/sources"
)

// Stage names of the research graph.
const (
	StageSearchGoogle  = "search_google"
	StageSearchBing    = "search_bing"
	StageSearchReddit  = "search_reddit"
	StageSelectURLs    = "select_urls"
	StageRetrievePosts = "retrieve_posts"
	StageAnalyzeGoogle = "analyze_google"
	StageAnalyzeBing   = "analyze_bing"
	StageAnalyzeReddit = "analyze_reddit"
	StageSynthesize    = "synthesize"
)

var (
	KeyQuery     = NewKey[models.Query]("query")
	KeyGoogle    = NewKey[models.SourceResult]("google_results")
	KeyBing      = NewKey[models.SourceResult]("bing_results")
	KeyReddit    = NewKey[models.SourceResult]("reddit_results")
	KeySelection = NewKey[models.SelectionDecision]("selected_reddit_urls")
	KeyPosts     = NewKey[models.RetrievedPosts]("reddit_post_data")

	KeyGoogleAnalysis = NewKey[models.AnalysisResult]("google_analysis")
	KeyBingAnalysis   = NewKey[models.AnalysisResult]("bing_analysis")
	KeyRedditAnalysis = NewKey[models.AnalysisResult]("reddit_analysis")

	KeyAnswer = NewKey[string]("final_answer")
)

// adapters enforce their own budgets; the stage timeout leaves room for that
// result to arrive before the stage is cut off
const stageGrace = time.Second

// PostFetcher retrieves comments for selected discussion threads.
type PostFetcher interface {
	Retrieve(ctx context.Context, urls []string, timeout time.Duration) (models.RetrievedPosts, error)
}

// Budgets are the per-stage time limits.
type Budgets struct {
	Search     time.Duration
	Discussion time.Duration
	Selection  time.Duration
	Retrieval  time.Duration
	Analysis   time.Duration
	Synthesis  time.Duration
}

// DefaultBudgets are the production limits.
func DefaultBudgets() Budgets {
	return Budgets{
		Search:     15 * time.Second,
		Discussion: 20 * time.Second,
		Selection:  20 * time.Second,
		Retrieval:  15 * time.Second,
		Analysis:   25 * time.Second,
		Synthesis:  45 * time.Second,
	}
}

// Unavailable is the analysis placeholder for a source with no usable data.
func Unavailable(source models.SourceID) models.AnalysisResult {
	return models.AnalysisResult{
		Source:    source,
		Text:      fmt.Sprintf("%s results unavailable: no usable data was returned for this source.", source.Title()),
		Available: false,
	}
}

// errNoData marks an analysis stage whose source produced nothing to analyze.
var errNoData = fmt.Errorf("no usable data")

// ResearchStages builds the nine research stages.
func ResearchStages(google, bing, reddit sources.Adapter, posts PostFetcher, selector *ranking.Selector, capability llm.Capability, b Budgets) []Stage {
	return []Stage{
		searchStage(StageSearchGoogle, google, KeyGoogle, b.Search),
		searchStage(StageSearchBing, bing, KeyBing, b.Search),
		searchStage(StageSearchReddit, reddit, KeyReddit, b.Discussion),
		// joins on all three searches even though only the discussion payload is read
		{
			Name:    StageSelectURLs,
			Inputs:  []AnyKey{KeyQuery, KeyGoogle, KeyBing, KeyReddit},
			Outputs: []AnyKey{KeySelection},
			Timeout: b.Selection,
			Run: func(ctx context.Context, in View) (*Outputs, error) {
				reddit := Get(in, KeyReddit)
				var payload models.DiscussionPayload
				if reddit.Discussion != nil {
					payload = *reddit.Discussion
				}
				decision := selector.Select(ctx, Get(in, KeyQuery), payload)
				return Set(in.Outputs(), KeySelection, decision), nil
			},
			Fallback: func(in View, err error) *Outputs {
				return Set(in.Outputs(), KeySelection, models.SelectionDecision{
					URLs:   []string{},
					Reason: models.SelectionCapabilityUnavailable,
				})
			},
		},
		{
			Name:    StageRetrievePosts,
			Inputs:  []AnyKey{KeySelection},
			Outputs: []AnyKey{KeyPosts},
			Timeout: b.Retrieval + stageGrace,
			Run: func(ctx context.Context, in View) (*Outputs, error) {
				selection := Get(in, KeySelection)
				if selection.Empty() {
					return Set(in.Outputs(), KeyPosts, emptyPosts()), nil
				}
				retrieved, err := posts.Retrieve(ctx, selection.URLs, b.Retrieval)
				if err != nil {
					return nil, err
				}
				return Set(in.Outputs(), KeyPosts, retrieved), nil
			},
			Fallback: func(in View, err error) *Outputs {
				return Set(in.Outputs(), KeyPosts, emptyPosts())
			},
		},
		analyzeSearchStage(StageAnalyzeGoogle, models.SourceGoogle, KeyGoogle, KeyGoogleAnalysis, capability, b.Analysis),
		analyzeSearchStage(StageAnalyzeBing, models.SourceBing, KeyBing, KeyBingAnalysis, capability, b.Analysis),
		{
			Name:    StageAnalyzeReddit,
			Inputs:  []AnyKey{KeyQuery, KeyReddit, KeyPosts},
			Outputs: []AnyKey{KeyRedditAnalysis},
			Timeout: b.Analysis,
			Run: func(ctx context.Context, in View) (*Outputs, error) {
				corpus := renderDiscussion(Get(in, KeyReddit), Get(in, KeyPosts))
				if corpus == "" {
					return nil, errNoData
				}
				text, err := capability.Summarize(ctx, Get(in, KeyQuery).String(), corpus)
				if err != nil {
					return nil, err
				}
				return Set(in.Outputs(), KeyRedditAnalysis, models.AnalysisResult{
					Source: models.SourceReddit, Text: text, Available: true,
				}), nil
			},
			Fallback: func(in View, err error) *Outputs {
				return Set(in.Outputs(), KeyRedditAnalysis, Unavailable(models.SourceReddit))
			},
		},
		{
			Name:    StageSynthesize,
			Inputs:  []AnyKey{KeyQuery, KeyGoogleAnalysis, KeyBingAnalysis, KeyRedditAnalysis},
			Outputs: []AnyKey{KeyAnswer},
			Timeout: b.Synthesis,
			Fatal:   true,
			Run: func(ctx context.Context, in View) (*Outputs, error) {
				analyses := []models.AnalysisResult{
					Get(in, KeyGoogleAnalysis),
					Get(in, KeyBingAnalysis),
					Get(in, KeyRedditAnalysis),
				}
				text, err := capability.Synthesize(ctx, Get(in, KeyQuery).String(), analyses)
				if err != nil {
					return nil, err
				}
				return Set(in.Outputs(), KeyAnswer, text), nil
			},
		},
	}
}

func searchStage(name string, adapter sources.Adapter, out Key[models.SourceResult], budget time.Duration) Stage {
	id := adapter.ID()
	return Stage{
		Name:    name,
		Inputs:  []AnyKey{KeyQuery},
		Outputs: []AnyKey{out},
		Timeout: budget + stageGrace,
		Run: func(ctx context.Context, in View) (*Outputs, error) {
			return Set(in.Outputs(), out, adapter.Search(ctx, Get(in, KeyQuery), budget)), nil
		},
		Fallback: func(in View, err error) *Outputs {
			return Set(in.Outputs(), out, models.NewErrorResult(id, fmt.Sprint(err)))
		},
	}
}

func analyzeSearchStage(name string, source models.SourceID, in Key[models.SourceResult], out Key[models.AnalysisResult], capability llm.Capability, budget time.Duration) Stage {
	return Stage{
		Name:    name,
		Inputs:  []AnyKey{KeyQuery, in},
		Outputs: []AnyKey{out},
		After:   []string{StageRetrievePosts},
		Timeout: budget,
		Run: func(ctx context.Context, v View) (*Outputs, error) {
			res := Get(v, in)
			if !res.HasData() {
				return nil, errNoData
			}
			text, err := capability.Summarize(ctx, Get(v, KeyQuery).String(), renderSearch(res))
			if err != nil {
				return nil, err
			}
			return Set(v.Outputs(), out, models.AnalysisResult{Source: source, Text: text, Available: true}), nil
		},
		Fallback: func(v View, err error) *Outputs {
			return Set(v.Outputs(), out, Unavailable(source))
		},
	}
}

func emptyPosts() models.RetrievedPosts {
	return models.RetrievedPosts{URLs: []string{}, Comments: []models.Comment{}}
}

// renderSearch turns a search payload into prompt text.
func renderSearch(res models.SourceResult) string {
	var b strings.Builder
	p := res.Search
	if len(p.Knowledge) > 0 {
		keys := make([]string, 0, len(p.Knowledge))
		for k := range p.Knowledge {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("Knowledge panel:\n")
		for _, k := range keys {
			v, err := json.Marshal(p.Knowledge[k])
			if err != nil {
				continue
			}
			fmt.Fprintf(&b, "- %s: %s\n", k, v)
		}
		b.WriteString("\n")
	}
	if len(p.Organic) > 0 {
		b.WriteString("Search results:\n")
		for _, item := range p.Organic {
			fmt.Fprintf(&b, "%d. %s\n   %s\n", item.Rank, item.Title, item.URL)
			if item.Snippet != "" {
				fmt.Fprintf(&b, "   %s\n", item.Snippet)
			}
		}
	}
	return b.String()
}

// renderDiscussion combines the thread list and any retrieved comments. It is
// empty when neither produced anything.
func renderDiscussion(res models.SourceResult, posts models.RetrievedPosts) string {
	var b strings.Builder
	if res.HasData() {
		b.WriteString("Discussion threads:\n")
		b.WriteString(ranking.DiscussionCorpus(*res.Discussion))
	}
	if !posts.Empty() {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Top comments from selected threads:\n")
		for _, c := range posts.Comments {
			fmt.Fprintf(&b, "- [score %d] %s\n", c.Score, c.Text)
		}
	}
	return b.String()
}
