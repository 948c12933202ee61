package index

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LoadJSON reads a path → GUID dump and returns it as an in-memory index.
func LoadJSON(path string) (*MemoryIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open index dump %s: %w", path, err)
	}
	defer f.Close()

	table, err := ReadJSON(f)
	if err != nil {
		return nil, fmt.Errorf("read index dump %s: %w", path, err)
	}
	return NewMemoryIndex(table), nil
}

// ReadJSON decodes a path → GUID object.
func ReadJSON(r io.Reader) (map[string]string, error) {
	table := make(map[string]string)
	if err := json.NewDecoder(r).Decode(&table); err != nil {
		return nil, err
	}
	return table, nil
}

// WriteJSON encodes a path → GUID table as an indented object. Keys are
// written in sorted order.
func WriteJSON(w io.Writer, table map[string]string) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(table)
}

// WriteJSONFile writes a dump file, creating parent directories.
func WriteJSONFile(path string, table map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteJSON(f, table); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
