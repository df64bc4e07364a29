// Package extract turns loosely formatted text into items. Parsing runs an
// ordered chain of strategies: strict JSON, bullet/numbered lines,
// "Key: Value" lines, plain delimited lines, then raw passthrough. Each
// strategy is pure.
package extract

import (
	"strings"

	"github.com/alexanderramin/blueprint/internal/domain"
)

// Strategy names reported in Result.Strategy.
const (
	StrategyJSON      = "json"
	StrategyBullets   = "bullets"
	StrategyKeyValue  = "key_value"
	StrategyDelimited = "delimited"
	StrategyRaw       = "raw"
)

// Options steer group assignment while parsing.
type Options struct {
	// DefaultGroup is used for items that name no group.
	DefaultGroup domain.ItemGroup
	// Groups are the groups the caller accepts; headings and keys that match
	// one of them switch the current group.
	Groups []domain.ItemGroup
}

// Result is the outcome of running the chain.
type Result struct {
	Items    []domain.Item
	Strategy string
	// Raw is set when no structured strategy matched and the input was kept
	// verbatim as a single item.
	Raw bool
}

// Strategy parses raw text into items, reporting whether it matched.
type Strategy interface {
	Name() string
	Parse(raw string, opts Options) ([]domain.Item, bool)
}

// DefaultChain is the ordered strategy chain used by Items.
var DefaultChain = []Strategy{
	jsonStrategy{},
	bulletStrategy{},
	keyValueStrategy{},
	delimiterStrategy{},
}

// Items runs DefaultChain over raw.
func Items(raw string, opts Options) Result {
	return Run(DefaultChain, raw, opts)
}

// Run tries each strategy in order and falls back to raw passthrough. It
// never panics and always returns a storable result; empty input yields no
// items.
func Run(chain []Strategy, raw string, opts Options) Result {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Result{Strategy: StrategyRaw, Raw: true}
	}
	for _, s := range chain {
		items, ok := s.Parse(text, opts)
		if ok && len(items) > 0 {
			return Result{Items: normalize(items, opts), Strategy: s.Name()}
		}
	}
	return Result{
		Items:    []domain.Item{{Group: opts.DefaultGroup, Title: collapseSpace(text)}},
		Strategy: StrategyRaw,
		Raw:      true,
	}
}

func normalize(items []domain.Item, opts Options) []domain.Item {
	out := make([]domain.Item, 0, len(items))
	for _, it := range items {
		it.Title = collapseSpace(it.Title)
		it.Description = collapseSpace(it.Description)
		if it.Title == "" && it.Description != "" {
			it.Title, it.Description = it.Description, ""
		}
		if it.Title == "" {
			continue
		}
		if it.Group == "" || !acceptsGroup(opts, it.Group) {
			it.Group = opts.DefaultGroup
		}
		out = append(out, it)
	}
	return out
}

func acceptsGroup(opts Options, g domain.ItemGroup) bool {
	if len(opts.Groups) == 0 {
		return true
	}
	for _, og := range opts.Groups {
		if og == g {
			return true
		}
	}
	return false
}

// matchGroup maps a heading or key such as "Milestones" or "assessment
// criteria" to an accepted group.
func matchGroup(label string, opts Options) (domain.ItemGroup, bool) {
	l := strings.ToLower(strings.TrimSpace(label))
	l = strings.Trim(l, "#*_: ")
	if l == "" {
		return "", false
	}
	for _, g := range opts.Groups {
		name := string(g)
		if l == name || l == name+"s" || strings.HasSuffix(l, " "+name) || strings.HasSuffix(l, " "+name+"s") {
			return g, true
		}
		if g == domain.GroupCriterion && (l == "criteria" || strings.HasSuffix(l, " criteria") || l == "assessment") {
			return g, true
		}
	}
	return "", false
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
