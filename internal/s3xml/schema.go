package s3xml

import (
	"embed"
	"fmt"
	"strconv"
	"sync"

	"github.com/beevik/etree"
	"gopkg.in/yaml.v3"
)

//go:embed schemas/*.yaml
var schemaFS embed.FS

// Schema is an immutable validation ruleset for one document type, loaded
// from the resource named by the snake-cased root tag.
type Schema struct {
	Root     string                 `yaml:"root"`
	Elements map[string]ElementRule `yaml:"elements"`
}

// ElementRule constrains one element: which children it may carry and in
// what multiplicity, and whether it carries text.
type ElementRule struct {
	Children []ChildRule `yaml:"children"`
	Text     bool        `yaml:"text"`
}

// ChildRule bounds occurrences of one child tag. Max is a number or
// "unbounded"; empty means exactly the default bound of 1.
type ChildRule struct {
	Tag string `yaml:"tag"`
	Min int    `yaml:"min"`
	Max string `yaml:"max"`
}

func (c ChildRule) maxCount() (int, bool) {
	switch c.Max {
	case "":
		return 1, false
	case "unbounded":
		return 0, true
	default:
		n, err := strconv.Atoi(c.Max)
		if err != nil {
			return 1, false
		}
		return n, false
	}
}

var (
	schemaMu    sync.RWMutex
	schemaCache = map[string]*Schema{}
)

// loadSchema returns the schema named by a snake-cased root tag, reading and
// caching it on first use. Schemas are immutable, so the cache is write-once
// read-many for the process lifetime.
func loadSchema(name string) (*Schema, error) {
	schemaMu.RLock()
	s, ok := schemaCache[name]
	schemaMu.RUnlock()
	if ok {
		return s, nil
	}

	schemaMu.Lock()
	defer schemaMu.Unlock()
	if s, ok := schemaCache[name]; ok {
		return s, nil
	}

	data, err := schemaFS.ReadFile("schemas/" + name + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("s3xml: schema resource %q: %w", name, err)
	}
	s = &Schema{}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("s3xml: schema resource %q: %w", name, err)
	}
	schemaCache[name] = s
	return s, nil
}

// Validate checks a canonicalized tree against the schema. Violations are
// reported as DocumentInvalidError carrying the violated rule.
func (s *Schema) Validate(root *etree.Element) error {
	if root.Tag != s.Root {
		return &DocumentInvalidError{
			Schema: s.Root,
			Reason: fmt.Sprintf("expected root element %s, got %s", s.Root, root.Tag),
		}
	}
	return s.validateElement(root)
}

func (s *Schema) validateElement(e *etree.Element) error {
	rule, ok := s.Elements[e.Tag]
	if !ok {
		// Element without a declared rule: any content accepted.
		return nil
	}

	allowed := map[string]ChildRule{}
	for _, c := range rule.Children {
		allowed[c.Tag] = c
	}

	counts := map[string]int{}
	for _, child := range e.ChildElements() {
		if _, ok := allowed[child.Tag]; !ok {
			return &DocumentInvalidError{
				Schema: s.Root,
				Reason: fmt.Sprintf("unexpected element %s inside %s", child.Tag, e.Tag),
			}
		}
		counts[child.Tag]++
		if err := s.validateElement(child); err != nil {
			return err
		}
	}

	for _, c := range rule.Children {
		n := counts[c.Tag]
		if n < c.Min {
			return &DocumentInvalidError{
				Schema: s.Root,
				Reason: fmt.Sprintf("element %s requires at least %d %s", e.Tag, c.Min, c.Tag),
			}
		}
		if max, unbounded := c.maxCount(); !unbounded && n > max {
			return &DocumentInvalidError{
				Schema: s.Root,
				Reason: fmt.Sprintf("element %s allows at most %d %s", e.Tag, max, c.Tag),
			}
		}
	}
	return nil
}
