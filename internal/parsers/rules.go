package parsers

// Path addresses a value inside a decoded JSON record.
type Path []string

func (p Path) lookup(rec map[string]any) (any, bool) {
	var cur any = rec
	for _, key := range p {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[key]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

// Rules is an ordered fallback chain. The first path that yields a usable
// value wins; a new producer schema is supported by appending a path.
type Rules []Path

func (r Rules) Int64(rec map[string]any) (int64, bool) {
	for _, p := range r {
		raw, ok := p.lookup(rec)
		if !ok {
			continue
		}
		if n, ok := ParseTokenCount(raw); ok {
			return n, true
		}
	}
	return 0, false
}

func (r Rules) String(rec map[string]any) string {
	for _, p := range r {
		raw, ok := p.lookup(rec)
		if !ok {
			continue
		}
		if s := stringValue(raw); s != "" {
			return s
		}
	}
	return ""
}

func (r Rules) Value(rec map[string]any) (any, bool) {
	for _, p := range r {
		if raw, ok := p.lookup(rec); ok {
			return raw, true
		}
	}
	return nil, false
}

// usageRules lists field names under message.usage first, then top-level usage.
func usageRules(names ...string) Rules {
	out := make(Rules, 0, len(names)*2)
	for _, n := range names {
		out = append(out, Path{"message", "usage", n})
	}
	for _, n := range names {
		out = append(out, Path{"usage", n})
	}
	return out
}

// Schema groups the extraction rules for every field the parser reads.
type Schema struct {
	Role       Rules
	Model      Rules
	Timestamp  Rules
	Content    Rules
	Input      Rules
	Output     Rules
	CacheRead  Rules
	CacheWrite Rules

	MarkerType       Rules
	MarkerCustomType Rules
	MarkerProvider   Rules
	MarkerModelID    Rules
}

// DefaultSchema covers the envelope ({message:{...}}), flat, and OpenClaw
// session shapes seen across producer versions.
var DefaultSchema = Schema{
	Role:       Rules{{"message", "role"}, {"role"}},
	Model:      Rules{{"message", "model"}, {"model"}},
	Timestamp:  Rules{{"timestamp"}, {"message", "timestamp"}, {"ts"}},
	Content:    Rules{{"message", "content"}, {"content"}},
	Input:      usageRules("input", "prompt_tokens", "input_tokens"),
	Output:     usageRules("output", "completion_tokens", "output_tokens"),
	CacheRead:  usageRules("cacheRead", "cache_read_input_tokens", "cache_read_tokens"),
	CacheWrite: usageRules("cacheWrite", "cache_creation_input_tokens", "cache_write_tokens"),

	MarkerType:       Rules{{"type"}},
	MarkerCustomType: Rules{{"customType"}},
	MarkerProvider:   Rules{{"provider"}, {"data", "provider"}},
	MarkerModelID:    Rules{{"modelId"}, {"data", "modelId"}},
}
