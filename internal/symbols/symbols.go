// Package symbols holds the curated crypto lookup tables used to classify
// queries and to map coins onto exchange trading pairs.
package symbols

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"marketfeed/internal/provider"
)

//go:embed defaults.yaml
var defaultTables []byte

// Tables is the on-disk shape of the lookup tables.
type Tables struct {
	// Symbols maps an upper-case ticker symbol to a provider coin id.
	Symbols map[string]string `yaml:"symbols"`
	// Names maps a lower-case display name to a provider coin id.
	Names map[string]string `yaml:"names"`
	// Pairs maps a coin id to an exchange trading pair.
	Pairs map[string]string `yaml:"pairs"`
}

// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	symbols map[string]string
	names   map[string]string
	pairs   map[string]string
	ids     map[string]struct{}
	curated map[string]struct{}
}

// Default returns a Registry seeded with the embedded tables.
func Default() *Registry {
	var t Tables
	if err := yaml.Unmarshal(defaultTables, &t); err != nil {
		panic(fmt.Sprintf("symbols: embedded tables: %v", err))
	}
	r := &Registry{
		symbols: map[string]string{},
		names:   map[string]string{},
		pairs:   map[string]string{},
		ids:     map[string]struct{}{},
		curated: map[string]struct{}{},
	}
	r.merge(t, true)
	return r
}

// Load returns the default Registry overlaid with the tables in path.
// Entries in the file win over embedded ones.
func Load(path string) (*Registry, error) {
	r := Default()
	if path == "" {
		return r, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read symbol tables: %w", err)
	}
	var t Tables
	if err := yaml.Unmarshal(b, &t); err != nil {
		return nil, fmt.Errorf("parse symbol tables: %w", err)
	}
	r.merge(t, true)
	return r, nil
}

func (r *Registry) merge(t Tables, curated bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range t.Symbols {
		k, v = normSymbol(k), strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		r.symbols[k] = v
		r.ids[v] = struct{}{}
		if curated {
			r.curated[k] = struct{}{}
		}
	}
	for k, v := range t.Names {
		k, v = normName(k), strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		r.names[k] = v
		r.ids[v] = struct{}{}
	}
	for k, v := range t.Pairs {
		k, v = strings.TrimSpace(k), strings.ToUpper(strings.TrimSpace(v))
		if k == "" || v == "" {
			continue
		}
		r.pairs[k] = v
	}
}

func normSymbol(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }
func normName(s string) string   { return strings.ToLower(strings.Join(strings.Fields(s), " ")) }

// LookupSymbol maps a ticker symbol (any case) to a coin id.
func (r *Registry) LookupSymbol(q string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.symbols[normSymbol(q)]
	return id, ok
}

// LookupName maps a display name (any case, any inner spacing) to a coin id.
func (r *Registry) LookupName(q string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.names[normName(q)]
	return id, ok
}

func (r *Registry) IsCryptoSymbol(q string) bool {
	_, ok := r.LookupSymbol(q)
	return ok
}

// IsCuratedSymbol reports whether q is in the curated symbol table.
// Symbols added by Merge are not curated.
func (r *Registry) IsCuratedSymbol(q string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.curated[normSymbol(q)]
	return ok
}

func (r *Registry) IsCryptoName(q string) bool {
	_, ok := r.LookupName(q)
	return ok
}

// KnownID reports whether id is the target of any table entry.
func (r *Registry) KnownID(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ids[id]
	return ok
}

// Pair returns the exchange trading pair for a coin id or a ticker symbol.
func (r *Registry) Pair(idOrSymbol string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key := strings.ToLower(strings.TrimSpace(idOrSymbol))
	if p, ok := r.pairs[key]; ok {
		return p, true
	}
	if id, ok := r.symbols[normSymbol(key)]; ok {
		p, ok := r.pairs[id]
		return p, ok
	}
	return "", false
}

// Merge folds a provider market listing into the tables. Curated symbols are
// never replaced. When two listed coins share a symbol the larger market cap
// wins. It returns the number of symbols added or changed.
func (r *Registry) Merge(listings []provider.Listing) int {
	best := map[string]provider.Listing{}
	for _, l := range listings {
		sym := normSymbol(l.Symbol)
		if sym == "" || l.ID == "" {
			continue
		}
		if cur, ok := best[sym]; !ok || l.MarketCap > cur.MarketCap {
			best[sym] = l
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	changed := 0
	for sym, l := range best {
		if _, ok := r.curated[sym]; ok {
			continue
		}
		if r.symbols[sym] != l.ID {
			r.symbols[sym] = l.ID
			changed++
		}
		r.ids[l.ID] = struct{}{}
		if name := normName(l.Name); name != "" {
			if _, ok := r.names[name]; !ok {
				r.names[name] = l.ID
			}
		}
	}
	return changed
}

// Len reports the sizes of the symbol and name tables.
func (r *Registry) Len() (symbols, names int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.symbols), len(r.names)
}
