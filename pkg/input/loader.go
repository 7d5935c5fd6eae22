// Package input reads the legacy model export the engine synthesizes from.
package input

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/staging-engine/pkg/apperrors"
	"github.com/ekaya-inc/staging-engine/pkg/models"
)

// Format is the encoding of an input document.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks the format from the file extension. Anything that is not
// .json is read as YAML, which also accepts JSON documents.
func FormatFromPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// Load reads and decodes the schema input at path.
func Load(path string) (*models.SchemaInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read input %s: %w", path, err)
	}
	in, err := Decode(bytes.NewReader(data), FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("decode input %s: %w", path, err)
	}
	return in, nil
}

// Decode reads one schema input document from r.
func Decode(r io.Reader, format Format) (*models.SchemaInput, error) {
	var in models.SchemaInput

	switch format {
	case FormatJSON:
		dec := json.NewDecoder(r)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&in); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("%w: empty document", apperrors.ErrInvalidInput)
			}
			return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
		}
	case FormatYAML:
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(&in); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("%w: empty document", apperrors.ErrInvalidInput)
			}
			return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
		}
	default:
		return nil, fmt.Errorf("%w: unknown input format %q", apperrors.ErrInvalidInput, format)
	}

	return &in, nil
}
