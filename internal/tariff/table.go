package tariff

import (
	"strings"
)

// Rates are USD per 1000 tokens.
type Rates struct {
	Input      float64 `json:"input"`
	Output     float64 `json:"output"`
	CacheRead  float64 `json:"cacheRead"`
	CacheWrite float64 `json:"cacheWrite"`
}

type Model struct {
	ID    string
	Rates Rates
}

type Provider struct {
	Name   string
	Models []Model
}

// Table is the immutable provider → model → rates lookup. It is safe for
// concurrent use because nothing mutates it after NewTable returns.
type Table struct {
	providers []Provider
	byModel   map[string]entry
	byQual    map[string]entry
}

type entry struct {
	provider string
	rates    Rates
}

// NewTable indexes providers in declaration order. When two providers list
// the same model id, the first declared provider owns it.
func NewTable(providers []Provider) *Table {
	t := &Table{
		providers: make([]Provider, 0, len(providers)),
		byModel:   make(map[string]entry),
		byQual:    make(map[string]entry),
	}
	for _, p := range providers {
		models := append([]Model(nil), p.Models...)
		t.providers = append(t.providers, Provider{Name: p.Name, Models: models})
		for _, m := range models {
			e := entry{provider: p.Name, rates: m.Rates}
			if _, exists := t.byModel[m.ID]; !exists {
				t.byModel[m.ID] = e
			}
			qualified := p.Name + "/" + m.ID
			if _, exists := t.byQual[qualified]; !exists {
				t.byQual[qualified] = e
			}
		}
	}
	return t
}

// Lookup finds rates for a model id. An exact id match wins; otherwise an id
// of the form "provider/model" matches the model listed under that provider.
func (t *Table) Lookup(model string) (string, Rates, bool) {
	if t == nil {
		return "", Rates{}, false
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return "", Rates{}, false
	}
	if e, ok := t.byModel[model]; ok {
		return e.provider, e.rates, true
	}
	if e, ok := t.byQual[model]; ok {
		return e.provider, e.rates, true
	}
	return "", Rates{}, false
}

// Providers returns provider names in declaration order.
func (t *Table) Providers() []string {
	if t == nil {
		return nil
	}
	out := make([]string, 0, len(t.providers))
	for _, p := range t.providers {
		out = append(out, p.Name)
	}
	return out
}

// ModelCount is the number of priced (provider, model) pairs.
func (t *Table) ModelCount() int {
	if t == nil {
		return 0
	}
	n := 0
	for _, p := range t.providers {
		n += len(p.Models)
	}
	return n
}
