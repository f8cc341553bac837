package formats

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MikeSquared-Agency/reshaper/internal/store"
)

const (
	// CustomKey selects caller-supplied free text instead of a named format.
	CustomKey  = "custom"
	DefaultKey = "hubverse"
)

var (
	ErrUnknownFormat = errors.New("unknown output format")
	ErrReadOnly      = errors.New("format cannot be modified")
	ErrInvalidKey    = errors.New("invalid format key")
	ErrNoCatalog     = errors.New("format catalog not configured")
)

var validKey = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

//go:embed builtin
var builtinFS embed.FS

// Selection is the user's choice of output format.
type Selection struct {
	Key    string `json:"key"`
	Custom string `json:"custom,omitempty"`
}

// Spec is a resolved format specification. The text is opaque and only ever
// injected into prompts.
type Spec struct {
	Key    string `json:"key"`
	Title  string `json:"title"`
	Text   string `json:"text"`
	Custom bool   `json:"custom"`
	Source string `json:"source"`
}

// Catalog stores user-defined formats.
type Catalog interface {
	GetFormat(ctx context.Context, key string) (*store.Format, error)
	UpsertFormat(ctx context.Context, f store.Format) (*store.Format, error)
	ListFormats(ctx context.Context) ([]store.Format, error)
	DeleteFormat(ctx context.Context, key string) error
}

type Provider struct {
	builtin map[string]Spec
	order   []string
	catalog Catalog
	logger  *slog.Logger
}

type builtinFile struct {
	Formats []struct {
		Key   string `yaml:"key"`
		Title string `yaml:"title"`
		File  string `yaml:"file"`
	} `yaml:"formats"`
}

// NewProvider loads the embedded formats. catalog may be nil, in which case
// only built-in and custom formats resolve.
func NewProvider(catalog Catalog, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	raw, err := builtinFS.ReadFile("builtin/formats.yaml")
	if err != nil {
		return nil, fmt.Errorf("read builtin formats: %w", err)
	}
	var file builtinFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse builtin formats: %w", err)
	}

	p := &Provider{builtin: make(map[string]Spec), catalog: catalog, logger: logger}
	for _, f := range file.Formats {
		text, err := builtinFS.ReadFile(path.Join("builtin", f.File))
		if err != nil {
			return nil, fmt.Errorf("read builtin format %s: %w", f.Key, err)
		}
		p.builtin[f.Key] = Spec{Key: f.Key, Title: f.Title, Text: string(text), Source: "builtin"}
		p.order = append(p.order, f.Key)
	}
	return p, nil
}

// Resolve turns a selection into format text. An empty key means the default
// built-in format.
func (p *Provider) Resolve(ctx context.Context, sel Selection) (Spec, error) {
	key := strings.TrimSpace(sel.Key)
	if key == "" {
		key = DefaultKey
	}
	if key == CustomKey {
		return Spec{Key: CustomKey, Title: "Custom format", Text: sel.Custom, Custom: true, Source: "request"}, nil
	}
	if spec, ok := p.builtin[key]; ok {
		return spec, nil
	}
	if p.catalog == nil {
		return Spec{}, fmt.Errorf("%w: %s", ErrUnknownFormat, key)
	}

	f, err := p.catalog.GetFormat(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return Spec{}, fmt.Errorf("%w: %s", ErrUnknownFormat, key)
	}
	if err != nil {
		return Spec{}, fmt.Errorf("lookup format %s: %w", key, err)
	}
	return fromStore(*f), nil
}

// List returns built-in formats followed by saved ones. A catalog failure is
// logged and only the built-ins are returned.
func (p *Provider) List(ctx context.Context) []Spec {
	out := make([]Spec, 0, len(p.order))
	for _, k := range p.order {
		out = append(out, p.builtin[k])
	}
	if p.catalog == nil {
		return out
	}
	saved, err := p.catalog.ListFormats(ctx)
	if err != nil {
		p.logger.Warn("list saved formats failed", "error", err)
		return out
	}
	for _, f := range saved {
		out = append(out, fromStore(f))
	}
	return out
}

// Save stores a user-defined format. Built-in keys and the custom key are
// reserved.
func (p *Provider) Save(ctx context.Context, key, title, text string) (Spec, error) {
	if !validKey.MatchString(key) {
		return Spec{}, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if _, ok := p.builtin[key]; ok || key == CustomKey {
		return Spec{}, fmt.Errorf("%w: %s", ErrReadOnly, key)
	}
	if p.catalog == nil {
		return Spec{}, ErrNoCatalog
	}
	f, err := p.catalog.UpsertFormat(ctx, store.Format{Key: key, Title: title, Content: text})
	if err != nil {
		return Spec{}, err
	}
	p.logger.Info("format saved", "key", key, "bytes", len(text))
	return fromStore(*f), nil
}

// Delete removes a saved format.
func (p *Provider) Delete(ctx context.Context, key string) error {
	if _, ok := p.builtin[key]; ok || key == CustomKey {
		return fmt.Errorf("%w: %s", ErrReadOnly, key)
	}
	if p.catalog == nil {
		return ErrNoCatalog
	}
	err := p.catalog.DeleteFormat(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrUnknownFormat, key)
	}
	if err != nil {
		return fmt.Errorf("delete format %s: %w", key, err)
	}
	p.logger.Info("format deleted", "key", key)
	return nil
}

func fromStore(f store.Format) Spec {
	return Spec{Key: f.Key, Title: f.Title, Text: f.Content, Source: "catalog"}
}
