package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"marketfeed/internal/app"
	"marketfeed/internal/config"
	"marketfeed/internal/logging"
	"marketfeed/internal/provider"
)

func main() {
	var (
		queriesCSV string
		class      string
		mode       string
		timeout    int
		configPath string
		verbose    bool
	)
	flag.StringVar(&queriesCSV, "q", os.Getenv("QUERIES"), "comma-separated coins, tickers or free-form queries (positional args also accepted)")
	flag.StringVar(&class, "class", "auto", "crypto, equity or auto")
	flag.StringVar(&mode, "mode", "fetch", "fetch, verify or report")
	flag.IntVar(&timeout, "timeout", 30, "overall timeout seconds")
	flag.StringVar(&configPath, "config", os.Getenv("CONFIG_FILE"), "path to a JSON or YAML config file (optional)")
	flag.BoolVar(&verbose, "v", false, "log at debug level to stderr")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fatal("config: %v", err)
	}
	level := "warn"
	if verbose {
		level = "debug"
	}
	log := logging.NewWithOutput(os.Stderr, level, cfg.Logging.Format)

	queries := append(splitCSV(queriesCSV), flag.Args()...)
	if len(queries) == 0 {
		fatal("no queries given")
	}

	a, err := app.Build(cfg, log)
	if err != nil {
		fatal("build: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
	defer cancel()

	out, failed := run(ctx, a, log, mode, provider.ParseAssetClass(class), queries)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(out); err != nil {
		fatal("encode: %v", err)
	}
	if failed {
		os.Exit(1)
	}
}

// row is one line of CLI output.
type row struct {
	Query        string                  `json:"query"`
	Record       *provider.Record        `json:"record,omitempty"`
	Resolved     *provider.ResolvedQuery `json:"resolved,omitempty"`
	Verification *provider.Verification  `json:"verification,omitempty"`
	Report       any                     `json:"report,omitempty"`
	Error        string                  `json:"error,omitempty"`
	Suggestions  []string                `json:"suggestions,omitempty"`
}

func run(ctx context.Context, a *app.App, log logrus.FieldLogger, mode string, class provider.AssetClass, queries []string) ([]row, bool) {
	var rows []row
	failed := false
	add := func(r row, err error) {
		if err != nil {
			failed = true
			r.Error = err.Error()
			var ue *provider.UnresolvedError
			if errors.As(err, &ue) {
				r.Suggestions = ue.Suggestions
			}
			log.WithField("query", r.Query).WithError(err).Debug("query failed")
		}
		rows = append(rows, r)
	}

	switch mode {
	case "verify":
		for _, q := range queries {
			v, err := a.Service.Verify(ctx, q, class)
			r := row{Query: q}
			if err == nil {
				r.Verification = &v
			}
			add(r, err)
		}
	case "report":
		for _, q := range queries {
			rep, err := a.Reporter.Build(ctx, q)
			r := row{Query: q}
			if err == nil {
				r.Report = rep
			}
			add(r, err)
		}
	default:
		results := a.Service.FetchBatch(ctx, queries, class)
		seen := map[string]bool{}
		for _, q := range queries {
			q = strings.TrimSpace(q)
			if q == "" || seen[q] {
				continue
			}
			seen[q] = true
			res := results[q]
			add(row{Query: q, Record: res.Record, Resolved: res.Resolved}, res.Err)
		}
	}
	return rows, failed
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "fetch: "+format+"\n", args...)
	os.Exit(2)
}
