package plans

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the YAML layout of a plan catalog override
type File struct {
	Version string `yaml:"version"`
	Plans   []Plan `yaml:"plans"`
}

// LoadFile reads a catalog from YAML. Unknown keys are rejected so typos
// do not silently fall back to zero limits.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plans file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML catalog
func Parse(data []byte) (*Catalog, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse plans file: %w", err)
	}
	if len(f.Plans) == 0 {
		return nil, fmt.Errorf("plans file defines no plans")
	}
	return NewCatalog(f.Plans)
}
