package extract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/alexanderramin/blueprint/internal/domain"
)

// jsonStrategy accepts an array of items or strings, an object with an
// "items" array, or an object keyed by group name.
type jsonStrategy struct{}

func (jsonStrategy) Name() string { return StrategyJSON }

func (jsonStrategy) Parse(raw string, opts Options) ([]domain.Item, bool) {
	block, ok := CleanJSON(raw)
	if !ok {
		return nil, false
	}
	var v any
	if err := json.Unmarshal([]byte(block), &v); err != nil {
		return nil, false
	}
	items := itemsFromJSON(v, "", opts)
	return items, len(items) > 0
}

var (
	titleKeys = []string{"title", "name", "text", "label", "item"}
	descKeys  = []string{"description", "detail", "details", "summary", "notes"}
	groupKeys = []string{"group", "type", "category", "kind"}
)

func itemsFromJSON(v any, group domain.ItemGroup, opts Options) []domain.Item {
	switch t := v.(type) {
	case []any:
		var out []domain.Item
		for _, el := range t {
			out = append(out, itemsFromJSON(el, group, opts)...)
		}
		return out
	case string:
		return []domain.Item{{Group: group, Title: t}}
	case map[string]any:
		if nested, ok := t["items"]; ok {
			return itemsFromJSON(nested, group, opts)
		}
		if grouped := groupedObject(t, opts); grouped != nil {
			return grouped
		}
		if it, ok := itemFromObject(t, group, opts); ok {
			return []domain.Item{it}
		}
	}
	return nil
}

// groupedObject handles {"milestones": [...], "artifacts": [...]}. Keys are
// visited in sorted order so output is stable.
func groupedObject(obj map[string]any, opts Options) []domain.Item {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []domain.Item
	matched := false
	for _, k := range keys {
		g, ok := matchGroup(k, opts)
		if !ok {
			continue
		}
		if _, isList := obj[k].([]any); !isList {
			continue
		}
		matched = true
		out = append(out, itemsFromJSON(obj[k], g, opts)...)
	}
	if !matched {
		return nil
	}
	return orderByGroups(out, opts)
}

func itemFromObject(obj map[string]any, group domain.ItemGroup, opts Options) (domain.Item, bool) {
	it := domain.Item{Group: group}
	used := map[string]bool{}
	if k, s := firstString(obj, titleKeys); k != "" {
		it.Title, used[k] = s, true
	}
	if k, s := firstString(obj, descKeys); k != "" {
		it.Description, used[k] = s, true
	}
	if k, s := firstString(obj, groupKeys); k != "" {
		if g, ok := matchGroup(s, opts); ok {
			it.Group = g
		}
		used[k] = true
	}
	if it.Title == "" {
		return domain.Item{}, false
	}
	for k, v := range obj {
		if used[k] || k == "id" {
			continue
		}
		if it.Extensions == nil {
			it.Extensions = map[string]string{}
		}
		switch t := v.(type) {
		case string:
			it.Extensions[k] = t
		case nil:
		default:
			b, err := json.Marshal(t)
			if err == nil {
				it.Extensions[k] = string(b)
			}
		}
	}
	return it, true
}

func firstString(obj map[string]any, keys []string) (string, string) {
	for _, k := range keys {
		for name, v := range obj {
			if !strings.EqualFold(name, k) {
				continue
			}
			switch t := v.(type) {
			case string:
				return name, t
			case float64, bool:
				return name, fmt.Sprint(t)
			}
		}
	}
	return "", ""
}

func orderByGroups(items []domain.Item, opts Options) []domain.Item {
	rank := map[domain.ItemGroup]int{}
	for i, g := range opts.Groups {
		rank[g] = i
	}
	sort.SliceStable(items, func(i, j int) bool {
		return rank[items[i].Group] < rank[items[j].Group]
	})
	return items
}

var (
	bulletRe  = regexp.MustCompile(`^\s*(?:[-*+•]|\d{1,3}[.)]|[a-zA-Z][.)])\s+(.+)$`)
	headingRe = regexp.MustCompile(`^\s*(?:#{1,6}\s*)?(?:\*\*|__)?([^:*_#]{1,40}?)(?:\*\*|__)?\s*:?\s*(?:\*\*|__)?\s*$`)
	kvRe      = regexp.MustCompile(`^\s*([^:]{1,60}?)\s*:\s+(.+)$`)
)

// bulletStrategy reads "-", "*", "1." and "a)" lists. Heading lines naming a
// group ("Milestones:", "## Artifacts") switch the group of what follows;
// other plain lines directly after a bullet extend its description.
type bulletStrategy struct{}

func (bulletStrategy) Name() string { return StrategyBullets }

func (bulletStrategy) Parse(raw string, opts Options) ([]domain.Item, bool) {
	var items []domain.Item
	group := opts.DefaultGroup
	for _, line := range strings.Split(raw, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if m := bulletRe.FindStringSubmatch(line); m != nil {
			title, desc := splitTitle(stripEmphasis(m[1]))
			items = append(items, domain.Item{Group: group, Title: title, Description: desc})
			continue
		}
		if m := headingRe.FindStringSubmatch(line); m != nil {
			if g, ok := matchGroup(m[1], opts); ok {
				group = g
				continue
			}
		}
		if n := len(items); n > 0 {
			items[n-1].Description = strings.TrimSpace(items[n-1].Description + " " + strings.TrimSpace(line))
		}
	}
	return items, len(items) > 0
}

// keyValueStrategy reads "Key: Value" lines. A key naming a group yields one
// item per comma or semicolon separated value; any other key becomes an item
// titled by the key. At least two lines must match, or one line keyed by a
// group.
type keyValueStrategy struct{}

func (keyValueStrategy) Name() string { return StrategyKeyValue }

func (keyValueStrategy) Parse(raw string, opts Options) ([]domain.Item, bool) {
	var items []domain.Item
	matchedLines, groupLines, plainLines := 0, 0, 0
	for _, line := range strings.Split(raw, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		m := kvRe.FindStringSubmatch(line)
		if m == nil {
			plainLines++
			continue
		}
		matchedLines++
		key, value := stripEmphasis(m[1]), strings.TrimSpace(m[2])
		if g, ok := matchGroup(key, opts); ok {
			groupLines++
			for _, part := range splitList(value) {
				items = append(items, domain.Item{Group: g, Title: part})
			}
			continue
		}
		items = append(items, domain.Item{Group: opts.DefaultGroup, Title: key, Description: value})
	}
	if plainLines > matchedLines {
		return nil, false
	}
	if matchedLines < 2 && groupLines == 0 {
		return nil, false
	}
	return items, len(items) > 0
}

// delimiterStrategy treats several plain lines, or a single line with
// semicolons, as one item each.
type delimiterStrategy struct{}

func (delimiterStrategy) Name() string { return StrategyDelimited }

func (delimiterStrategy) Parse(raw string, opts Options) ([]domain.Item, bool) {
	var parts []string
	for _, line := range strings.Split(raw, "\n") {
		if l := strings.TrimSpace(line); l != "" {
			parts = append(parts, l)
		}
	}
	if len(parts) == 1 && strings.Contains(parts[0], ";") {
		parts = splitList(parts[0])
	}
	if len(parts) < 2 {
		return nil, false
	}
	items := make([]domain.Item, 0, len(parts))
	for _, p := range parts {
		title, desc := splitTitle(stripEmphasis(p))
		items = append(items, domain.Item{Group: opts.DefaultGroup, Title: title, Description: desc})
	}
	return items, true
}

// splitTitle separates "Title: description" or "Title - description".
func splitTitle(s string) (string, string) {
	for _, sep := range []string{": ", " - ", " – ", " — "} {
		if i := strings.Index(s, sep); i > 0 && i <= 60 {
			return strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+len(sep):])
		}
	}
	return strings.TrimSpace(s), ""
}

func splitList(s string) []string {
	sep := ","
	if strings.Contains(s, ";") {
		sep = ";"
	}
	var out []string
	for _, p := range strings.Split(s, sep) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func stripEmphasis(s string) string {
	return strings.TrimSpace(strings.NewReplacer("**", "", "__", "", "`", "").Replace(s))
}
