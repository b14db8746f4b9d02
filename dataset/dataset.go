// Package dataset loads table fixtures from YAML, JSON or TOML files, seeds
// them into a database and compares stored state against them.
//
// A dataset file maps table names to lists of rows:
//
//	users:
//	  - id: 1
//	    name: alice
//	orders: []
//
// Tables keep the order of the file. Seeding inserts in that order and
// clean-insert deletes in reverse order, so parents are listed first.
package dataset

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
)

var (
	ErrInvalidIdentifier = errors.New("invalid identifier: must start with letter/underscore and contain only alphanumeric/underscore characters")
	ErrUnsupportedFormat = errors.New("unsupported dataset file format")
	ErrMalformed         = errors.New("malformed dataset")
)

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Row maps column names to values.
type Row map[string]any

// Table is the rows of one table.
type Table struct {
	Name string
	Rows []Row
}

// Columns returns the union of the columns of every row, sorted.
func (t Table) Columns() []string {
	seen := make(map[string]struct{})
	for _, r := range t.Rows {
		for c := range r {
			seen[c] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen))
	for c := range seen {
		cols = append(cols, c)
	}
	slices.Sort(cols)
	return cols
}

// DataSet is an ordered list of tables.
type DataSet struct {
	Tables []Table
}

// Table returns the table called name.
func (d *DataSet) Table(name string) (Table, bool) {
	for _, t := range d.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}

// TableNames returns the table names in dataset order.
func (d *DataSet) TableNames() []string {
	names := make([]string, len(d.Tables))
	for i, t := range d.Tables {
		names[i] = t.Name
	}
	return names
}

// RowCount returns the number of rows over all tables.
func (d *DataSet) RowCount() int {
	n := 0
	for _, t := range d.Tables {
		n += len(t.Rows)
	}
	return n
}

// Validate checks every table and column name.
func (d *DataSet) Validate() error {
	for _, t := range d.Tables {
		if err := ValidateIdentifier(t.Name); err != nil {
			return err
		}
		for _, c := range t.Columns() {
			if err := ValidateIdentifier(c); err != nil {
				return fmt.Errorf("table %s: %w", t.Name, err)
			}
		}
	}
	return nil
}

// ValidateIdentifier rejects table and column names that cannot be used unquoted.
func ValidateIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	return nil
}

// Merge combines datasets in order. Rows of a table that appears more than
// once are appended to its first occurrence.
func Merge(sets ...*DataSet) *DataSet {
	out := &DataSet{}
	index := make(map[string]int)
	for _, s := range sets {
		if s == nil {
			continue
		}
		for _, t := range s.Tables {
			if i, ok := index[t.Name]; ok {
				out.Tables[i].Rows = append(out.Tables[i].Rows, t.Rows...)
				continue
			}
			index[t.Name] = len(out.Tables)
			out.Tables = append(out.Tables, Table{Name: t.Name, Rows: slices.Clone(t.Rows)})
		}
	}
	return out
}
