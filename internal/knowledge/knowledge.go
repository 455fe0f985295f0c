// Package knowledge loads the troubleshooting tree the assistant walks users through.
package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/h1v3-io/helpdesk/pkg/protocol"
)

// maxDocumentSize caps how much of a knowledge base document is read.
const maxDocumentSize = 8 << 20

// Loader fetches a knowledge base.
type Loader interface {
	Load(ctx context.Context) (*protocol.KnowledgeBase, error)
}

// LoadError reports that the knowledge base could not be fetched or decoded.
// It is fatal to the session that requested it.
type LoadError struct {
	Source string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("knowledge: load %s: %v", e.Source, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// IsLoadError reports whether err is or wraps a *LoadError.
func IsLoadError(err error) bool {
	var le *LoadError
	return errors.As(err, &le)
}

// New returns an HTTPLoader for http(s) sources and a FileLoader otherwise.
func New(source string, client *http.Client) Loader {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return &HTTPLoader{URL: source, Client: client}
	}
	return &FileLoader{Path: source}
}

// HTTPLoader fetches a JSON knowledge base with a GET request.
type HTTPLoader struct {
	URL    string
	Client *http.Client
}

func (l *HTTPLoader) Load(ctx context.Context) (*protocol.KnowledgeBase, error) {
	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.URL, nil)
	if err != nil {
		return nil, &LoadError{Source: l.URL, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, &LoadError{Source: l.URL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &LoadError{Source: l.URL, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, &LoadError{Source: l.URL, Err: err}
	}
	kb, err := Decode(data, false)
	if err != nil {
		return nil, &LoadError{Source: l.URL, Err: err}
	}
	return kb, nil
}

// FileLoader reads a knowledge base from disk. Files ending in .yaml or
// .yml are decoded as YAML, everything else as JSON.
type FileLoader struct {
	Path string
}

func (l *FileLoader) Load(ctx context.Context) (*protocol.KnowledgeBase, error) {
	data, err := os.ReadFile(l.Path)
	if err != nil {
		return nil, &LoadError{Source: l.Path, Err: err}
	}
	ext := strings.ToLower(filepath.Ext(l.Path))
	kb, err := Decode(data, ext == ".yaml" || ext == ".yml")
	if err != nil {
		return nil, &LoadError{Source: l.Path, Err: err}
	}
	return kb, nil
}

// Decode parses a knowledge base document.
func Decode(data []byte, isYAML bool) (*protocol.KnowledgeBase, error) {
	var kb protocol.KnowledgeBase
	if isYAML {
		if err := yaml.Unmarshal(data, &kb); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
		return &kb, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&kb); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	return &kb, nil
}

// Validate returns every structural problem found in kb, or nil.
func Validate(kb *protocol.KnowledgeBase) error {
	if kb == nil {
		return errors.New("knowledge base is nil")
	}

	var errs []string
	if kb.Categories.Len() == 0 {
		errs = append(errs, "casos_soporte is empty")
	}
	for _, cat := range kb.Categories.All() {
		if cat.Value.Title == "" {
			errs = append(errs, fmt.Sprintf("category %q: titulo is required", cat.Key))
		}
		if cat.Value.Subcategories.Len() == 0 {
			errs = append(errs, fmt.Sprintf("category %q: no subcategories", cat.Key))
		}
		for _, sub := range cat.Value.Subcategories.All() {
			where := cat.Key + "/" + sub.Key
			if sub.Value.Title == "" {
				errs = append(errs, fmt.Sprintf("subcategory %q: titulo is required", where))
			}
			if len(sub.Value.Steps) == 0 {
				errs = append(errs, fmt.Sprintf("subcategory %q: pasos is empty", where))
			}
			for i, opt := range sub.Value.FinalOptions {
				if opt.Title == "" {
					errs = append(errs, fmt.Sprintf("subcategory %q: opciones_finales[%d]: titulo is required", where, i))
				}
			}
		}
	}
	for _, p := range kb.Policies.All() {
		if p.Value.Title == "" {
			errs = append(errs, fmt.Sprintf("policy %q: titulo is required", p.Key))
		}
		if p.Value.Content == "" {
			errs = append(errs, fmt.Sprintf("policy %q: contenido is empty", p.Key))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("knowledge base validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
