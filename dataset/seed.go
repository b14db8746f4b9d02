package dataset

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/GoCodeAlone/persistunit"
)

// Placeholder returns the n-th (1 based) bind parameter for driver.
func Placeholder(driver string, n int) string {
	switch driver {
	case "pgx", "postgres", "pgx/v5":
		return "$" + strconv.Itoa(n)
	default:
		return "?"
	}
}

// Seed writes ds through q. SeedCleanInsert first deletes every table of ds in
// reverse order; SeedInsert only inserts.
func Seed(ctx context.Context, q persistunit.Querier, driver string, ds *DataSet, strategy persistunit.SeedStrategy) error {
	switch strategy {
	case persistunit.SeedCleanInsert:
		if err := Cleanup(ctx, q, ds); err != nil {
			return err
		}
	case persistunit.SeedInsert:
	default:
		return fmt.Errorf("%w: unknown seed strategy %q", persistunit.ErrConfiguration, strategy)
	}

	for _, t := range ds.Tables {
		if err := insertRows(ctx, q, driver, t); err != nil {
			return err
		}
	}
	return nil
}

// Cleanup deletes all rows of every table of ds, last table first.
func Cleanup(ctx context.Context, q persistunit.Querier, ds *DataSet) error {
	for _, t := range slices.Backward(ds.Tables) {
		if err := ValidateIdentifier(t.Name); err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx, "DELETE FROM "+t.Name); err != nil {
			return fmt.Errorf("failed to clean table %s: %w", t.Name, err)
		}
	}
	return nil
}

func insertRows(ctx context.Context, q persistunit.Querier, driver string, t Table) error {
	if err := ValidateIdentifier(t.Name); err != nil {
		return err
	}
	for i, row := range t.Rows {
		cols := make([]string, 0, len(row))
		for c := range row {
			if err := ValidateIdentifier(c); err != nil {
				return fmt.Errorf("table %s: %w", t.Name, err)
			}
			cols = append(cols, c)
		}
		slices.Sort(cols)

		marks := make([]string, len(cols))
		args := make([]any, len(cols))
		for j, c := range cols {
			marks[j] = Placeholder(driver, j+1)
			args[j] = bindValue(row[c])
		}
		query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", t.Name, strings.Join(cols, ", "), strings.Join(marks, ", "))
		if _, err := q.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to insert row %d into %s: %w", i, t.Name, err)
		}
	}
	return nil
}

// bindValue converts decoded file values into types every driver accepts.
func bindValue(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case int:
		return int64(x)
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	default:
		return v
	}
}
