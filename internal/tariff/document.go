package tariff

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"

	"github.com/janekbaraniewski/costledger/internal/classify"
)

// ErrConfig marks a missing or malformed tariff document. The service
// refuses to start on it.
var ErrConfig = errors.New("tariff configuration error")

// SupportedMajor is the newest document major version this build understands.
const SupportedMajor = "v1"

// Document is the parsed tariff configuration: pricing plus task taxonomy.
type Document struct {
	Version  string
	Table    *Table
	Taxonomy classify.Taxonomy
}

type rateDoc struct {
	Input      *float64 `yaml:"input"`
	Output     *float64 `yaml:"output"`
	CacheRead  *float64 `yaml:"cacheRead"`
	CacheWrite *float64 `yaml:"cacheWrite"`
}

// Load reads a tariff document from path. JSON documents are accepted as-is
// since they are valid YAML.
func Load(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("%w: reading %s: %v", ErrConfig, path, err)
	}
	doc, err := Parse(data)
	if err != nil {
		return Document{}, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Parse decodes a tariff document. Mapping order of providers and task
// categories is preserved, which plain map decoding would lose.
func Parse(data []byte) (Document, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return Document{}, fmt.Errorf("%w: empty document", ErrConfig)
	}
	top := root.Content[0]
	if top.Kind != yaml.MappingNode {
		return Document{}, fmt.Errorf("%w: top level must be a mapping", ErrConfig)
	}

	var (
		doc          Document
		providersSet bool
		providers    []Provider
		categories   []classify.Category
	)
	for i := 0; i+1 < len(top.Content); i += 2 {
		key, val := top.Content[i].Value, top.Content[i+1]
		switch key {
		case "version":
			v, err := checkVersion(val.Value)
			if err != nil {
				return Document{}, err
			}
			doc.Version = v
		case "providers":
			ps, err := parseProviders(val)
			if err != nil {
				return Document{}, err
			}
			providers = ps
			providersSet = true
		case "taskCategories":
			cs, err := parseCategories(val)
			if err != nil {
				return Document{}, err
			}
			categories = cs
		}
	}
	if !providersSet {
		return Document{}, fmt.Errorf("%w: missing providers section", ErrConfig)
	}

	doc.Table = NewTable(providers)
	doc.Taxonomy = classify.NewTaxonomy(categories)
	return doc, nil
}

func checkVersion(raw string) (string, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return "", nil
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return "", fmt.Errorf("%w: invalid version %q", ErrConfig, raw)
	}
	if semver.Compare(semver.Major(v), SupportedMajor) > 0 {
		return "", fmt.Errorf("%w: version %s is newer than supported %s", ErrConfig, v, SupportedMajor)
	}
	return v, nil
}

func parseProviders(node *yaml.Node) ([]Provider, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: providers must be a mapping", ErrConfig)
	}
	out := make([]Provider, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := strings.TrimSpace(node.Content[i].Value)
		body := node.Content[i+1]
		if name == "" {
			return nil, fmt.Errorf("%w: provider with empty name", ErrConfig)
		}
		if body.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("%w: provider %s must be a mapping", ErrConfig, name)
		}
		p := Provider{Name: name}
		for j := 0; j+1 < len(body.Content); j += 2 {
			if body.Content[j].Value != "models" {
				continue
			}
			models, err := parseModels(name, body.Content[j+1])
			if err != nil {
				return nil, err
			}
			p.Models = models
		}
		out = append(out, p)
	}
	return out, nil
}

func parseModels(provider string, node *yaml.Node) ([]Model, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: %s.models must be a mapping", ErrConfig, provider)
	}
	out := make([]Model, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		id := strings.TrimSpace(node.Content[i].Value)
		if id == "" {
			return nil, fmt.Errorf("%w: %s has a model with empty id", ErrConfig, provider)
		}
		var rd rateDoc
		if err := node.Content[i+1].Decode(&rd); err != nil {
			return nil, fmt.Errorf("%w: %s/%s rates: %v", ErrConfig, provider, id, err)
		}
		rates := Rates{
			Input:      deref(rd.Input),
			Output:     deref(rd.Output),
			CacheRead:  deref(rd.CacheRead),
			CacheWrite: deref(rd.CacheWrite),
		}
		for _, r := range []float64{rates.Input, rates.Output, rates.CacheRead, rates.CacheWrite} {
			if r < 0 || math.IsNaN(r) || math.IsInf(r, 0) {
				return nil, fmt.Errorf("%w: %s/%s has invalid rate %v", ErrConfig, provider, id, r)
			}
		}
		out = append(out, Model{ID: id, Rates: rates})
	}
	return out, nil
}

func parseCategories(node *yaml.Node) ([]classify.Category, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: taskCategories must be a mapping", ErrConfig)
	}
	out := make([]classify.Category, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		var keywords []string
		if err := node.Content[i+1].Decode(&keywords); err != nil {
			return nil, fmt.Errorf("%w: taskCategories.%s must be a list of keywords: %v", ErrConfig, name, err)
		}
		out = append(out, classify.Category{Name: name, Keywords: keywords})
	}
	return out, nil
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
