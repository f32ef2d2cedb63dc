package interpreter

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"duck-ask/internal/domain"
)

//go:embed catalog_demo.yaml
var demoCatalogYAML []byte

const noMatchQuestion = "I could not match that to a known question. Which of these did you mean?"

// Catalog is a deterministic interpreter driven by a YAML phrase catalog.
// It needs no network access and backs the demo data source.
type Catalog struct {
	Intents []Intent `yaml:"intents"`
}

// Intent maps keywords to a query, optionally after asking which option
// the user wants.
type Intent struct {
	Name string `yaml:"name"`
	// DataSource restricts the intent to one source. Empty matches all.
	DataSource string   `yaml:"data_source"`
	Example    string   `yaml:"example"`
	Keywords   []string `yaml:"keywords"`
	Query      string   `yaml:"query"`
	Clarify    *Clarify `yaml:"clarify"`
}

// Clarify is the follow-up question of an intent.
type Clarify struct {
	Question string   `yaml:"question"`
	Options  []Option `yaml:"options"`
}

// Option is one accepted answer and the query it selects.
type Option struct {
	Label string `yaml:"label"`
	Query string `yaml:"query"`
}

// Compile-time check.
var _ domain.Interpreter = (*Catalog)(nil)

// ParseCatalog decodes and validates catalog YAML. Unknown fields are
// rejected.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadCatalog reads a catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	c, err := ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// DemoCatalog returns the built-in catalog for the demo data source.
func DemoCatalog() *Catalog {
	c, err := ParseCatalog(demoCatalogYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded demo catalog: %v", err))
	}
	return c
}

func (c *Catalog) validate() error {
	if len(c.Intents) == 0 {
		return domain.ErrValidation("catalog has no intents")
	}
	for i, in := range c.Intents {
		if strings.TrimSpace(in.Name) == "" {
			return domain.ErrValidation("intents[%d]: name is required", i)
		}
		if len(in.Keywords) == 0 {
			return domain.ErrValidation("intent %q: at least one keyword is required", in.Name)
		}
		hasQuery := strings.TrimSpace(in.Query) != ""
		if in.Clarify == nil && !hasQuery {
			return domain.ErrValidation("intent %q: query or clarify is required", in.Name)
		}
		if in.Clarify != nil {
			if strings.TrimSpace(in.Clarify.Question) == "" || len(in.Clarify.Options) == 0 {
				return domain.ErrValidation("intent %q: clarify needs a question and options", in.Name)
			}
			for _, opt := range in.Clarify.Options {
				if strings.TrimSpace(opt.Label) == "" || strings.TrimSpace(opt.Query) == "" {
					return domain.ErrValidation("intent %q: every option needs a label and a query", in.Name)
				}
			}
		}
	}
	return nil
}

// Interpret matches the question and every prior answer against the
// catalog keywords.
func (c *Catalog) Interpret(_ context.Context, req domain.InterpretRequest) (*domain.Interpretation, error) {
	texts := []string{normalize(req.RawText)}
	var answers []string
	for _, turn := range req.PriorTurns {
		if turn.AnswerText != nil {
			a := normalize(*turn.AnswerText)
			texts = append(texts, a)
			answers = append(answers, a)
		}
	}

	intent := c.match(req.DataSourceRef, texts)
	if intent == nil {
		return &domain.Interpretation{
			Ambiguous:   true,
			Question:    noMatchQuestion,
			Suggestions: c.examples(req.DataSourceRef),
		}, nil
	}
	if intent.Clarify == nil {
		return &domain.Interpretation{GeneratedQueryText: strings.TrimSpace(intent.Query)}, nil
	}

	// The latest answer wins; the question itself may already name an option.
	for i := len(answers) - 1; i >= 0; i-- {
		if opt := intent.option(answers[i], true); opt != nil {
			return &domain.Interpretation{GeneratedQueryText: strings.TrimSpace(opt.Query)}, nil
		}
	}
	if opt := intent.option(texts[0], false); opt != nil {
		return &domain.Interpretation{GeneratedQueryText: strings.TrimSpace(opt.Query)}, nil
	}

	labels := make([]string, 0, len(intent.Clarify.Options))
	for _, opt := range intent.Clarify.Options {
		labels = append(labels, opt.Label)
	}
	return &domain.Interpretation{
		Ambiguous:   true,
		Question:    intent.Clarify.Question,
		Suggestions: labels,
	}, nil
}

func (c *Catalog) match(dataSource string, texts []string) *Intent {
	for i := range c.Intents {
		in := &c.Intents[i]
		if in.DataSource != "" && in.DataSource != dataSource {
			continue
		}
		for _, kw := range in.Keywords {
			kw = normalize(kw)
			for _, text := range texts {
				if strings.Contains(text, kw) {
					return in
				}
			}
		}
	}
	return nil
}

func (c *Catalog) examples(dataSource string) []string {
	var out []string
	for _, in := range c.Intents {
		if in.DataSource != "" && in.DataSource != dataSource {
			continue
		}
		if in.Example != "" {
			out = append(out, in.Example)
		} else {
			out = append(out, in.Keywords[0])
		}
	}
	return out
}

// option finds the option named by text: exactly when exact is set,
// otherwise anywhere inside text.
func (in *Intent) option(text string, exact bool) *Option {
	for i := range in.Clarify.Options {
		label := normalize(in.Clarify.Options[i].Label)
		if (exact && text == label) || (!exact && strings.Contains(text, label)) {
			return &in.Clarify.Options[i]
		}
	}
	return nil
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
