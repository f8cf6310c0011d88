package glossary

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MimeLyc/livesub/pkg/file"
)

// Filenames are looked up, in order, by FindInAncestors.
var Filenames = []string{"glossary.yaml", "glossary.yml", "glossary.json"}

type fileFormat struct {
	Terms []string `json:"terms" yaml:"terms"`
}

// FindInAncestors walks up from startDir looking for a glossary file.
// Returns the first found path or empty string.
func FindInAncestors(startDir string) string {
	return file.FindUp(startDir, Filenames...)
}

// Load reads a glossary file. Both a bare list of terms and an object with a
// "terms" key are accepted, in YAML (.yaml, .yml) or JSON (.json).
func Load(path string) (*Glossary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var terms []string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		terms, err = decodeJSON(data)
	case ".yaml", ".yml":
		terms, err = decodeYAML(data)
	default:
		return nil, fmt.Errorf("unsupported glossary file %q", path)
	}
	if err != nil {
		return nil, fmt.Errorf("parse glossary %s: %w", path, err)
	}
	return New(terms...), nil
}

// Save writes the glossary entries to path in the format implied by its extension.
func Save(path string, g *Glossary) error {
	doc := fileFormat{Terms: g.Entries()}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = json.MarshalIndent(doc, "", "  ")
	case ".yaml", ".yml":
		data, err = yaml.Marshal(doc)
	default:
		return fmt.Errorf("unsupported glossary file %q", path)
	}
	if err != nil {
		return err
	}
	return file.WriteAtomic(path, data, 0o644)
}

func decodeJSON(data []byte) ([]string, error) {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var doc fileFormat
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc.Terms, nil
}

func decodeYAML(data []byte) ([]string, error) {
	var list []string
	if err := yaml.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var doc fileFormat
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc.Terms, nil
}
