package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Load reads the dataset file at path. The format is chosen by extension.
func Load(path string) (*DataSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}
	ds, err := Decode(filepath.Ext(path), data)
	if err != nil {
		return nil, fmt.Errorf("dataset %s: %w", path, err)
	}
	return ds, nil
}

// Decode parses data in the format named by ext (".yaml", ".yml", ".json" or ".toml").
func Decode(ext string, data []byte) (*DataSet, error) {
	var (
		ds  *DataSet
		err error
	)
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		ds, err = decodeYAML(data)
	case ".json":
		ds, err = decodeJSON(data)
	case ".toml":
		ds, err = decodeTOML(data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, err
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return ds, nil
}

func decodeYAML(data []byte) (*DataSet, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	ds := &DataSet{}
	if len(doc.Content) == 0 {
		return ds, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: top level must map table names to rows", ErrMalformed)
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		name := root.Content[i].Value
		var rows []map[string]any
		if err := root.Content[i+1].Decode(&rows); err != nil {
			return nil, fmt.Errorf("%w: table %s: %w", ErrMalformed, name, err)
		}
		ds.Tables = append(ds.Tables, newTable(name, rows))
	}
	return ds, nil
}

func decodeJSON(data []byte) (*DataSet, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	ds := &DataSet{}
	tok, err := dec.Token()
	if err == io.EOF {
		return ds, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("%w: top level must map table names to rows", ErrMalformed)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		name, _ := tok.(string)
		var rows []map[string]any
		if err := dec.Decode(&rows); err != nil {
			return nil, fmt.Errorf("%w: table %s: %w", ErrMalformed, name, err)
		}
		ds.Tables = append(ds.Tables, newTable(name, rows))
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return ds, nil
}

// decodeTOML expects arrays of tables ([[users]]); table order comes from the
// order keys were defined in the document.
func decodeTOML(data []byte) (*DataSet, error) {
	var raw map[string][]map[string]any
	md, err := toml.Decode(string(data), &raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	ds := &DataSet{}
	seen := make(map[string]bool)
	for _, key := range md.Keys() {
		if len(key) != 1 || seen[key[0]] {
			continue
		}
		seen[key[0]] = true
		ds.Tables = append(ds.Tables, newTable(key[0], raw[key[0]]))
	}
	return ds, nil
}

func newTable(name string, rows []map[string]any) Table {
	t := Table{Name: name, Rows: make([]Row, 0, len(rows))}
	for _, r := range rows {
		t.Rows = append(t.Rows, Row(r))
	}
	return t
}
