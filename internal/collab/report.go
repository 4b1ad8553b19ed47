package collab

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"marketfeed/internal/logging"
	"marketfeed/internal/provider"
)

// Resolver is the part of the fetch service a report needs.
type Resolver interface {
	Resolve(ctx context.Context, query string) (provider.ResolvedQuery, error)
}

type Report struct {
	Query       string                 `json:"query"`
	Resolved    provider.ResolvedQuery `json:"resolved"`
	Fields      map[string]string      `json:"fields"`
	News        []Article              `json:"news,omitempty"`
	Analysis    *Analysis              `json:"analysis,omitempty"`
	Notes       []string               `json:"notes,omitempty"`
	GeneratedAt time.Time              `json:"generated_at"`
}

// Reporter assembles a Report. News and Analyzer are optional; each runs under
// Timeout and a failure only adds a note.
type Reporter struct {
	Resolver  Resolver
	News      NewsFetcher
	Analyzer  Analyzer
	NewsLimit int
	Timeout   time.Duration
	Log       logrus.FieldLogger
}

func (r *Reporter) Build(ctx context.Context, query string) (Report, error) {
	rq, err := r.Resolver.Resolve(ctx, query)
	if err != nil {
		return Report{}, err
	}
	log := logging.Component(r.Log, "report").WithField("query", query)
	rep := Report{
		Query:       query,
		Resolved:    rq,
		Fields:      Fields(rq.Record),
		GeneratedAt: time.Now().UTC(),
	}

	if r.News != nil {
		limit := r.NewsLimit
		if limit <= 0 {
			limit = 5
		}
		nctx, cancel := r.bound(ctx)
		news, err := r.News.FetchNews(nctx, newsQuery(rq), limit)
		cancel()
		if err != nil {
			log.WithError(err).Warn("news unavailable")
			rep.Notes = append(rep.Notes, "news unavailable: "+err.Error())
		} else {
			rep.News = news
		}
	}

	if r.Analyzer != nil {
		ac := BuildContext(rq.Record, rep.News)
		actx, cancel := r.bound(ctx)
		a, err := r.Analyzer.Analyze(actx, Prompt(ac), ac)
		cancel()
		if err != nil {
			log.WithError(err).Warn("analysis unavailable")
			rep.Notes = append(rep.Notes, "analysis unavailable: "+err.Error())
		} else {
			rep.Analysis = &a
		}
	}
	return rep, nil
}

func (r *Reporter) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.Timeout <= 0 {
		return context.WithTimeout(ctx, 30*time.Second)
	}
	return context.WithTimeout(ctx, r.Timeout)
}

func newsQuery(rq provider.ResolvedQuery) string {
	name := rq.Record.DisplayName
	if name == "" {
		name = rq.CanonicalID
	}
	return name + " market news"
}

// Prompt renders the analysis request for ac.
func Prompt(ac AnalysisContext) string {
	f := ac.Fields
	var b strings.Builder
	fmt.Fprintf(&b, "ASSET: %s (%s, %s)\n", f["name"], f["symbol"], f["asset_class"])
	fmt.Fprintf(&b, "Current Price: %s\n", f["price"])
	fmt.Fprintf(&b, "24h Range: %s - %s\n", f["day_low"], f["day_high"])
	fmt.Fprintf(&b, "24h Change: %s\n", f["change_pct_24h"])
	fmt.Fprintf(&b, "Volume: %s\n", f["volume"])
	fmt.Fprintf(&b, "Market Cap: %s\n", f["market_cap"])
	fmt.Fprintf(&b, "Price consistency: %s\n", f["grade"])
	if len(ac.News) > 0 {
		b.WriteString("Headlines:\n")
		for _, a := range ac.News {
			fmt.Fprintf(&b, "- %s (%s)\n", a.Title, a.Source)
		}
	}
	b.WriteString("Provide technical setup, fundamental assessment, a recommendation and a risk score out of 10.")
	return b.String()
}
