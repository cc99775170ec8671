package protocol

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Decode reads protocol definitions from YAML or JSON. The document is
// either a list of definitions or a mapping with a "protocols" list.
func Decode(data []byte) ([]Definition, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse protocols: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]

	var defs []Definition
	switch root.Kind {
	case yaml.SequenceNode:
		if err := root.Decode(&defs); err != nil {
			return nil, fmt.Errorf("decode protocols: %w", err)
		}
	case yaml.MappingNode:
		var wrapper struct {
			Protocols []Definition `yaml:"protocols"`
		}
		if err := root.Decode(&wrapper); err != nil {
			return nil, fmt.Errorf("decode protocols: %w", err)
		}
		defs = wrapper.Protocols
	default:
		return nil, fmt.Errorf("decode protocols: unexpected document kind %d", root.Kind)
	}
	return defs, nil
}

// LoadFile reads protocol definitions from a YAML or JSON file
func LoadFile(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read protocol file: %w", err)
	}
	return Decode(data)
}

// FileSource serves definitions from a file read once at construction
type FileSource struct {
	path string
	defs []Definition
}

// NewFileSource loads path and returns a source serving its definitions
func NewFileSource(path string) (*FileSource, error) {
	defs, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return &FileSource{path: path, defs: defs}, nil
}

// Definitions returns the loaded definitions
func (s *FileSource) Definitions(ctx context.Context) ([]Definition, error) {
	out := make([]Definition, len(s.defs))
	copy(out, s.defs)
	return out, nil
}

// Path returns the file the definitions were read from
func (s *FileSource) Path() string { return s.path }
