package schema

import (
	"fmt"
	"os"
	"path/filepath"
)

// ReadDocumentFile reads and decodes a document export.
func ReadDocumentFile(path string) (*Document, error) {
	// #nosec G304 - path comes from the CLI
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read document file %s: %w", path, err)
	}

	doc, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse document file %s: %w", path, err)
	}

	return doc, nil
}

// WriteDocumentFile writes doc to path as indented JSON, creating parent
// directories as needed.
func WriteDocumentFile(path string, doc *Document) error {
	if err := doc.Validate(); err != nil {
		return fmt.Errorf("cannot write invalid document: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	data, err := doc.EncodeIndent()
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write document file %s: %w", path, err)
	}

	return nil
}
