// Package file serves AAS environment documents stored on local disk and
// watches a directory for environments being added, changed or removed.
package file

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentstation/assetsync/internal/aasjson"
	"github.com/agentstation/assetsync/pkg/errors"
	"github.com/agentstation/assetsync/pkg/sources"
)

// Scheme prefixes the URI of file sources.
const Scheme = "file://"

// Source is a sources.Source reading one environment file. The file is read
// on every fetch, so edits show up in the next cycle.
type Source struct {
	path   string
	format aasjson.Format
}

var _ sources.Source = (*Source)(nil)

// New creates a Source for path. The format follows the file extension.
func New(path string) (*Source, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.WrapIO("resolve", path, err)
	}
	format, ok := FormatOf(abs)
	if !ok {
		return nil, &errors.ValidationError{
			Field:   "path",
			Value:   path,
			Message: "environment files must end in .json, .yaml or .yml",
		}
	}
	return &Source{path: abs, format: format}, nil
}

// FormatOf returns the serialization format implied by the extension.
func FormatOf(path string) (aasjson.Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return aasjson.FormatJSON, true
	case ".yaml", ".yml":
		return aasjson.FormatYAML, true
	}
	return "", false
}

// URIFor returns the source URI of an environment file.
func URIFor(path string) string {
	return Scheme + filepath.ToSlash(path)
}

// PathOf returns the file path of a file source URI.
func PathOf(uri string) (string, bool) {
	if !strings.HasPrefix(uri, Scheme) {
		return "", false
	}
	return filepath.FromSlash(strings.TrimPrefix(uri, Scheme)), true
}

// URI implements sources.Source.
func (s *Source) URI() string {
	return URIFor(s.path)
}

// Path returns the absolute file path.
func (s *Source) Path() string {
	return s.path
}

// Available implements sources.Source.
func (s *Source) Available(context.Context) bool {
	info, err := os.Stat(s.path)
	return err == nil && !info.IsDir()
}

// FetchTopLevel implements sources.Source. A file is a single page.
func (s *Source) FetchTopLevel(ctx context.Context, category sources.Category, _ string) (sources.Page, error) {
	if err := ctx.Err(); err != nil {
		return sources.Page{}, err
	}
	env, err := s.Load()
	if err != nil {
		return sources.Page{}, err
	}
	switch category {
	case sources.Shells:
		return sources.Page{Nodes: env.Shells}, nil
	case sources.Submodels:
		return sources.Page{Nodes: env.Submodels}, nil
	case sources.ConceptDescriptions:
		return sources.Page{Nodes: env.ConceptDescriptions}, nil
	}
	return sources.Page{}, errors.NewAPIError(s.URI(), 404, "unknown category "+category.String())
}

// Load reads and decodes the whole environment.
func (s *Source) Load() (*aasjson.Environment, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("environment", s.path)
		}
		return nil, errors.WrapIO("read", s.path, err)
	}
	env, err := aasjson.DecodeEnvironment(data, s.format)
	if err != nil {
		var parseErr *errors.ParseError
		if errors.As(err, &parseErr) {
			parseErr.File = s.path
		}
		return nil, err
	}
	return env, nil
}
