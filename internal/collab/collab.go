// Package collab defines the collaborators that sit around the price core:
// news retrieval, narrative analysis, and report assembly. Only the report
// assembly lives here; news and analysis are supplied by the caller.
package collab

import (
	"context"
	"time"

	"marketfeed/internal/provider"
)

type Article struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	URL         string    `json:"url"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"published_at"`
}

type NewsFetcher interface {
	FetchNews(ctx context.Context, query string, limit int) ([]Article, error)
}

// NewsFunc adapts a function to NewsFetcher.
type NewsFunc func(ctx context.Context, query string, limit int) ([]Article, error)

func (f NewsFunc) FetchNews(ctx context.Context, query string, limit int) ([]Article, error) {
	return f(ctx, query, limit)
}

type Analysis struct {
	Recommendation string `json:"recommendation"`
	RiskScore      string `json:"risk_score"`
	Text           string `json:"text"`
}

// AnalysisContext is everything an Analyzer gets to see about an asset.
type AnalysisContext struct {
	Record provider.Record   `json:"record"`
	Fields map[string]string `json:"fields"`
	News   []Article         `json:"news,omitempty"`
}

type Analyzer interface {
	Analyze(ctx context.Context, prompt string, ac AnalysisContext) (Analysis, error)
}

// AnalyzerFunc adapts a function to Analyzer.
type AnalyzerFunc func(ctx context.Context, prompt string, ac AnalysisContext) (Analysis, error)

func (f AnalyzerFunc) Analyze(ctx context.Context, prompt string, ac AnalysisContext) (Analysis, error) {
	return f(ctx, prompt, ac)
}

func BuildContext(rec provider.Record, news []Article) AnalysisContext {
	return AnalysisContext{Record: rec, Fields: Fields(rec), News: news}
}
