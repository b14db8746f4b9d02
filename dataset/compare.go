package dataset

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/GoCodeAlone/persistunit"
)

const nullValue = "\x00NULL"

// Compare checks the stored state of every table of expected. Rows are
// compared as a multiset over the expected columns, so order is ignored.
// Columns named in exclude, either bare or as table.column, are skipped.
// Mismatches are reported as a *persistunit.AssertionFailure.
func Compare(ctx context.Context, q persistunit.Querier, expected *DataSet, exclude []string) error {
	var failure *persistunit.AssertionFailure
	for _, t := range expected.Tables {
		mismatches, err := compareTable(ctx, q, t, exclude)
		if err != nil {
			return err
		}
		if len(mismatches) == 0 {
			continue
		}
		if failure == nil {
			failure = &persistunit.AssertionFailure{Table: t.Name}
		} else {
			failure.Table = ""
		}
		failure.Mismatches = append(failure.Mismatches, mismatches...)
	}
	if failure != nil {
		return failure
	}
	return nil
}

func compareTable(ctx context.Context, q persistunit.Querier, t Table, exclude []string) ([]string, error) {
	if err := ValidateIdentifier(t.Name); err != nil {
		return nil, err
	}
	cols := slices.DeleteFunc(t.Columns(), func(c string) bool {
		return slices.Contains(exclude, c) || slices.Contains(exclude, t.Name+"."+c)
	})

	if len(cols) == 0 {
		var count int64
		if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+t.Name).Scan(&count); err != nil {
			return nil, fmt.Errorf("failed to count rows of %s: %w", t.Name, err)
		}
		if count != int64(len(t.Rows)) {
			return []string{fmt.Sprintf("%s: expected %d rows, found %d", t.Name, len(t.Rows), count)}, nil
		}
		return nil, nil
	}

	actual, err := queryRows(ctx, q, t.Name, cols)
	if err != nil {
		return nil, err
	}

	remaining := make(map[string]int, len(actual))
	for _, key := range actual {
		remaining[key]++
	}

	var mismatches []string
	for _, row := range t.Rows {
		values := make([]any, len(cols))
		for i, c := range cols {
			values[i] = row[c]
		}
		key := rowKey(values)
		if remaining[key] > 0 {
			remaining[key]--
			continue
		}
		mismatches = append(mismatches, fmt.Sprintf("%s: missing row %s", t.Name, describe(cols, values)))
	}
	for _, key := range actual {
		if remaining[key] > 0 {
			remaining[key]--
			mismatches = append(mismatches, fmt.Sprintf("%s: unexpected row %s", t.Name, describeKey(cols, key)))
		}
	}
	return mismatches, nil
}

func queryRows(ctx context.Context, q persistunit.Querier, table string, cols []string) ([]string, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s", strings.Join(cols, ", "), table))
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", table, err)
		}
		keys = append(keys, rowKey(values))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", table, err)
	}
	return keys, nil
}

func rowKey(values []any) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = Normalize(v)
	}
	return strings.Join(parts, "\x1f")
}

func describe(cols []string, values []any) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = c + "=" + display(Normalize(values[i]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func describeKey(cols []string, key string) string {
	values := strings.Split(key, "\x1f")
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = c + "=" + display(values[i])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func display(v string) string {
	if v == nullValue {
		return "NULL"
	}
	return v
}

// Normalize renders a file or database value in the form used for comparison:
// booleans become 1/0, whole floats become integers, byte slices become
// strings and times are formatted as RFC 3339 in UTC.
func Normalize(v any) string {
	switch x := v.(type) {
	case nil:
		return nullValue
	case bool:
		if x {
			return "1"
		}
		return "0"
	case []byte:
		return string(x)
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float32:
		return formatFloat(float64(x))
	case float64:
		return formatFloat(x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return strconv.FormatInt(i, 10)
		}
		if f, err := x.Float64(); err == nil {
			return formatFloat(f)
		}
		return x.String()
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(x)
	}
}

func formatFloat(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
