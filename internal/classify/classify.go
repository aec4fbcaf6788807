// Package classify assigns a task category to free text using an ordered
// keyword taxonomy.
package classify

import (
	"strings"

	"github.com/janekbaraniewski/costledger/internal/core"
)

// Category is one taxonomy entry. Keywords are matched in order.
type Category struct {
	Name     string
	Keywords []string
}

// Taxonomy is an ordered list of categories. Declaration order decides ties:
// the first category with any matching keyword wins.
type Taxonomy struct {
	categories []Category
}

// NewTaxonomy builds a taxonomy from categories in declaration order.
// Keywords are stored lower-cased and blank keywords are dropped.
func NewTaxonomy(categories []Category) Taxonomy {
	out := make([]Category, 0, len(categories))
	for _, c := range categories {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			continue
		}
		keywords := make([]string, 0, len(c.Keywords))
		for _, kw := range c.Keywords {
			kw = strings.ToLower(kw)
			if strings.TrimSpace(kw) == "" {
				continue
			}
			keywords = append(keywords, kw)
		}
		out = append(out, Category{Name: name, Keywords: keywords})
	}
	return Taxonomy{categories: out}
}

// Categories returns a copy of the taxonomy in declaration order.
func (t Taxonomy) Categories() []Category {
	out := make([]Category, len(t.categories))
	for i, c := range t.categories {
		out[i] = Category{Name: c.Name, Keywords: append([]string(nil), c.Keywords...)}
	}
	return out
}

func (t Taxonomy) Len() int { return len(t.categories) }

// Classify returns the first category whose keyword appears in text as a
// case-insensitive substring, or core.CategoryOther.
func (t Taxonomy) Classify(text string) string {
	if text == "" {
		return core.CategoryOther
	}
	lower := strings.ToLower(text)
	for _, c := range t.categories {
		for _, kw := range c.Keywords {
			if strings.Contains(lower, kw) {
				return c.Name
			}
		}
	}
	return core.CategoryOther
}
