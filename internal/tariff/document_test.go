package tariff

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const costRatesJSON = `{
  "version": "1.0.0",
  "providers": {
    "openai": {
      "models": {
        "gpt-4o": {"input": 0.0025, "output": 0.01}
      }
    },
    "anthropic": {
      "models": {
        "claude-sonnet-4-5": {"input": 0.003, "output": 0.015, "cacheRead": 0.0003, "cacheWrite": 0.00375}
      }
    }
  },
  "taskCategories": {
    "strategy": ["planning"],
    "routine": ["heartbeat", "email"],
    "development": ["code", "review"]
  }
}`

func TestParse_JSONDocumentKeepsOrder(t *testing.T) {
	doc, err := Parse([]byte(costRatesJSON))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if doc.Version != "v1.0.0" {
		t.Fatalf("version = %q, want v1.0.0", doc.Version)
	}

	providers := doc.Table.Providers()
	if len(providers) != 2 || providers[0] != "openai" || providers[1] != "anthropic" {
		t.Fatalf("providers = %v, want [openai anthropic]", providers)
	}

	cats := doc.Taxonomy.Categories()
	want := []string{"strategy", "routine", "development"}
	if len(cats) != len(want) {
		t.Fatalf("categories = %d, want %d", len(cats), len(want))
	}
	for i, name := range want {
		if cats[i].Name != name {
			t.Fatalf("category[%d] = %q, want %q", i, cats[i].Name, name)
		}
	}

	provider, rates, ok := doc.Table.Lookup("claude-sonnet-4-5")
	if !ok || provider != "anthropic" {
		t.Fatalf("lookup = %q %v", provider, ok)
	}
	if rates.CacheWrite != 0.00375 {
		t.Fatalf("cacheWrite = %v, want 0.00375", rates.CacheWrite)
	}
}

func TestParse_YAMLDocument(t *testing.T) {
	doc, err := Parse([]byte(`
providers:
  deepseek:
    models:
      deepseek-chat:
        input: 0.00014
        output: 0.00028
taskCategories:
  audio: [tts, voice]
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if doc.Table.ModelCount() != 1 {
		t.Fatalf("model count = %d, want 1", doc.Table.ModelCount())
	}
	if got := doc.Taxonomy.Classify("Voice memo"); got != "audio" {
		t.Fatalf("Classify = %q, want audio", got)
	}
}

func TestParse_MissingTaxonomyIsAllowed(t *testing.T) {
	doc, err := Parse([]byte(`{"providers": {}}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if doc.Taxonomy.Len() != 0 {
		t.Fatalf("taxonomy len = %d, want 0", doc.Taxonomy.Len())
	}
}

func TestParse_ConfigurationErrors(t *testing.T) {
	tests := map[string]string{
		"empty":             ``,
		"not json":          `{{{`,
		"scalar root":       `42`,
		"no providers":      `{"taskCategories": {}}`,
		"providers list":    `{"providers": []}`,
		"negative rate":     `{"providers": {"p": {"models": {"m": {"input": -1}}}}}`,
		"non-numeric rate":  `{"providers": {"p": {"models": {"m": {"input": "cheap"}}}}}`,
		"bad keywords":      `{"providers": {}, "taskCategories": {"routine": "heartbeat"}}`,
		"future version":    `{"version": "2.0.0", "providers": {}}`,
		"malformed version": `{"version": "one", "providers": {}}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(body))
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, ErrConfig) {
				t.Fatalf("error %v does not wrap ErrConfig", err)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("Load missing file error = %v, want ErrConfig", err)
	}
}

func TestLoad_FromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cost-rates.json")
	if err := os.WriteFile(path, []byte(costRatesJSON), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	doc, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc.Table.ModelCount() != 2 {
		t.Fatalf("model count = %d, want 2", doc.Table.ModelCount())
	}
}
