// Package format validates configuration documents against a declared
// format. A document's format is fixed when the config is created and is
// always supplied by the caller; nothing here sniffs content.
package format

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Format identifies a supported configuration document format.
type Format string

// Supported formats.
const (
	JSON Format = "json"
	YAML Format = "yaml"
	TOML Format = "toml"
	XML  Format = "xml"
)

// ErrUnsupported is returned when a format name is not one of the
// supported formats.
var ErrUnsupported = errors.New("unsupported format")

// ErrInvalid marks validation failures. Use errors.Is(err, ErrInvalid) to
// detect them; errors.As with *Error exposes the format and parser error.
var ErrInvalid = errors.New("invalid document")

// Error reports a document that failed validation under its declared format.
type Error struct {
	Format Format
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid %s document: %v", e.Format, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports ErrInvalid so callers can classify without unwrapping.
func (*Error) Is(target error) bool { return target == ErrInvalid }

// validators maps each format to its parser. Dispatch is by this closed
// table, never by inspecting content.
var validators = map[Format]func([]byte) error{
	JSON: validateJSON,
	YAML: validateYAML,
	TOML: validateTOML,
	XML:  validateXML,
}

// All returns the supported formats in a stable order.
func All() []Format {
	return []Format{JSON, YAML, TOML, XML}
}

// Parse converts a format name (as supplied by a client) to a Format.
func Parse(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := validators[f]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupported, s)
	}
	return f, nil
}

// FromExtension maps a file extension (with or without the leading dot)
// to a Format. Extensions are how format is persisted in backend paths.
func FromExtension(ext string) (Format, error) {
	return Parse(strings.TrimPrefix(ext, "."))
}

// Ext returns the file extension for the format, without the leading dot.
func (f Format) Ext() string { return string(f) }

// Valid reports whether f is one of the supported formats.
func (f Format) Valid() bool {
	_, ok := validators[f]
	return ok
}

// Validate checks that raw parses without structural error under format f.
// It is a pure function: no side effects, no content interpretation.
func Validate(f Format, raw []byte) error {
	validate, ok := validators[f]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupported, string(f))
	}
	if err := validate(raw); err != nil {
		return &Error{Format: f, Err: err}
	}
	return nil
}

func validateJSON(raw []byte) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return errors.New("empty document")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	// Trailing non-whitespace after the first value is a structural error.
	if err := dec.Decode(new(any)); err != io.EOF {
		return errors.New("trailing data after document")
	}
	return nil
}

func validateYAML(raw []byte) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return errors.New("empty document")
	}
	var v any
	return yaml.Unmarshal(raw, &v)
}

func validateTOML(raw []byte) error {
	var v map[string]any
	return toml.Unmarshal(raw, &v)
}

func validateXML(raw []byte) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return errors.New("empty document")
	}
	dec := xml.NewDecoder(bytes.NewReader(raw))
	seenElement := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if _, ok := tok.(xml.StartElement); ok {
			seenElement = true
		}
	}
	if !seenElement {
		return errors.New("no root element")
	}
	return nil
}
