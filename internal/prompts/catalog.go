package prompts

import (
	_ "embed"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultCatalog []byte

var ErrEmptyCatalog = errors.New("prompt catalog is empty")

type Prompt struct {
	ID    string `yaml:"id" json:"id"`
	Title string `yaml:"title" json:"title"`
	Text  string `yaml:"text" json:"text"`
}

type file struct {
	Prompts []Prompt `yaml:"prompts"`
}

// Catalog is a read-only set of preset scenarios.
type Catalog struct {
	prompts []Prompt

	mu  sync.Mutex
	rng *rand.Rand
}

// Default returns the catalog embedded in the binary.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads a catalog from path, or the embedded one when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML catalog. Entries without text are skipped.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse prompt catalog: %w", err)
	}
	out := make([]Prompt, 0, len(f.Prompts))
	for i, p := range f.Prompts {
		p.Text = strings.TrimSpace(p.Text)
		if p.Text == "" {
			continue
		}
		if p.ID == "" {
			p.ID = fmt.Sprintf("prompt-%d", i+1)
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, ErrEmptyCatalog
	}
	return &Catalog{prompts: out, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}, nil
}

// WithSource replaces the random source used by Random.
func (c *Catalog) WithSource(src rand.Source) *Catalog {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rng = rand.New(src)
	return c
}

func (c *Catalog) All() []Prompt {
	out := make([]Prompt, len(c.prompts))
	copy(out, c.prompts)
	return out
}

// Random picks a scenario uniformly.
func (c *Catalog) Random() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prompts[c.rng.Intn(len(c.prompts))].Text
}

func (c *Catalog) Len() int { return len(c.prompts) }
