package dataset

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/persistunit"
	"github.com/GoCodeAlone/persistunit/internal/testutil"
)

const (
	yamlDataSet = `customers:
  - id: 1
    name: alice
orders:
  - id: 10
    customer_id: 1
    total: 12.5
  - id: 11
    customer_id: 1
    total: 3
`
	jsonDataSet = `{
  "orders": [{"id": 10, "customer_id": 1, "total": 12.5}, {"id": 11, "customer_id": 1, "total": 3}],
  "customers": [{"id": 1, "name": "alice"}]
}`
	tomlDataSet = `[[customers]]
id = 1
name = "alice"

[[orders]]
id = 10
customer_id = 1
total = 12.5

[[orders]]
id = 11
customer_id = 1
total = 3
`
)

var schema = []string{
	"CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT)",
	"CREATE TABLE orders (id INTEGER PRIMARY KEY, customer_id INTEGER REFERENCES customers(id), total REAL)",
}

func TestDecode_KeepsTableOrder(t *testing.T) {
	tests := []struct {
		ext   string
		data  string
		order []string
	}{
		{".yaml", yamlDataSet, []string{"customers", "orders"}},
		{".yml", yamlDataSet, []string{"customers", "orders"}},
		{".json", jsonDataSet, []string{"orders", "customers"}},
		{".toml", tomlDataSet, []string{"customers", "orders"}},
	}
	for _, tt := range tests {
		t.Run(tt.ext, func(t *testing.T) {
			ds, err := Decode(tt.ext, []byte(tt.data))
			require.NoError(t, err)
			assert.Equal(t, tt.order, ds.TableNames())
			assert.Equal(t, 3, ds.RowCount())

			orders, ok := ds.Table("orders")
			require.True(t, ok)
			assert.Equal(t, []string{"customer_id", "id", "total"}, orders.Columns())
			assert.Equal(t, "12.5", Normalize(orders.Rows[0]["total"]))
			assert.Equal(t, "3", Normalize(orders.Rows[1]["total"]))
		})
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		ext  string
		data string
		want error
	}{
		{"unknown extension", ".csv", "id\n1", ErrUnsupportedFormat},
		{"yaml list at top level", ".yaml", "- id: 1", ErrMalformed},
		{"yaml rows not a list", ".yaml", "users: 3", ErrMalformed},
		{"json array at top level", ".json", `[{"id": 1}]`, ErrMalformed},
		{"json truncated", ".json", `{"users": [`, ErrMalformed},
		{"toml syntax", ".toml", "[[users]\nid = 1", ErrMalformed},
		{"bad table name", ".yaml", "\"users; DROP\":\n  - id: 1", ErrInvalidIdentifier},
		{"bad column name", ".json", `{"users": [{"id-x": 1}]}`, ErrInvalidIdentifier},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.ext, []byte(tt.data))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDecode_EmptyDocuments(t *testing.T) {
	for _, ext := range []string{".yaml", ".json", ".toml"} {
		ds, err := Decode(ext, nil)
		require.NoError(t, err, ext)
		assert.Empty(t, ds.Tables, ext)
	}
}

func TestMerge(t *testing.T) {
	a := &DataSet{Tables: []Table{
		{Name: "customers", Rows: []Row{{"id": 1}}},
		{Name: "orders", Rows: []Row{{"id": 10}}},
	}}
	b := &DataSet{Tables: []Table{
		{Name: "orders", Rows: []Row{{"id": 11}}},
		{Name: "items", Rows: []Row{{"id": 100}}},
	}}

	merged := Merge(a, nil, b)
	assert.Equal(t, []string{"customers", "orders", "items"}, merged.TableNames())
	orders, _ := merged.Table("orders")
	assert.Len(t, orders.Rows, 2)
	assert.Len(t, a.Tables[1].Rows, 1, "inputs are not modified")
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoader_CachesAndInvalidates(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "orders.yaml", yamlDataSet)
	l := NewLoader(dir)

	first, err := l.Load("orders.yaml")
	require.NoError(t, err)
	assert.True(t, l.Cached("orders.yaml"))

	second, err := l.Load(path)
	require.NoError(t, err)
	assert.Same(t, first, second, "relative and absolute references share one entry")

	writeFile(t, dir, "orders.yaml", "customers: []\n")
	l.Invalidate(path)
	assert.False(t, l.Cached("orders.yaml"))

	third, err := l.Load("orders.yaml")
	require.NoError(t, err)
	assert.Equal(t, 0, third.RowCount())
}

func TestLoader_LoadAllMergesInOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "customers.json", `{"customers": [{"id": 1}]}`)
	writeFile(t, dir, "orders.toml", "[[orders]]\nid = 10\n\n[[customers]]\nid = 2\n")
	l := NewLoader(dir)

	ds, err := l.LoadAll("customers.json", "orders.toml")
	require.NoError(t, err)
	assert.Equal(t, []string{"customers", "orders"}, ds.TableNames())
	customers, _ := ds.Table("customers")
	assert.Len(t, customers.Rows, 2)

	_, err = l.LoadAll("customers.json", "missing.yaml")
	assert.Error(t, err)
}

func TestWatcher_InvalidatesChangedFiles(t *testing.T) {
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	path := writeFile(t, dir, "orders.yaml", yamlDataSet)

	l := NewLoader(dir)
	_, err = l.Load("orders.yaml")
	require.NoError(t, err)

	w, err := NewWatcher(l, nil)
	require.NoError(t, err)
	invalidated := make(chan string, 16)
	w.OnInvalidate = func(p string) { invalidated <- p }
	require.NoError(t, w.Add("."))
	w.Start(context.Background())
	t.Cleanup(func() { assert.NoError(t, w.Close()) })

	writeFile(t, dir, "orders.yaml", "customers: []\n")

	select {
	case p := <-invalidated:
		assert.Equal(t, path, p)
	case <-time.After(5 * time.Second):
		t.Fatal("no invalidation event received")
	}
	assert.False(t, l.Cached("orders.yaml"))
}

func TestWatcher_CloseIsIdempotent(t *testing.T) {
	w, err := NewWatcher(NewLoader(t.TempDir()), nil)
	require.NoError(t, err)
	w.Start(context.Background())
	require.NoError(t, w.Close())
	assert.NoError(t, w.Close())
}

func seededDB(t *testing.T) persistunit.Querier {
	t.Helper()
	return testutil.OpenDB(t, testutil.SQLiteProducer(t, schema...))
}

func TestSeedAndCompare(t *testing.T) {
	ctx := context.Background()
	db := seededDB(t)
	ds, err := Decode(".yaml", []byte(yamlDataSet))
	require.NoError(t, err)

	require.NoError(t, Seed(ctx, db, "sqlite", ds, persistunit.SeedCleanInsert))
	require.NoError(t, Compare(ctx, db, ds, nil))

	// clean-insert replaces rather than duplicates
	require.NoError(t, Seed(ctx, db, "sqlite", ds, persistunit.SeedCleanInsert))
	require.NoError(t, Compare(ctx, db, ds, nil))

	err = Seed(ctx, db, "sqlite", ds, persistunit.SeedInsert)
	require.Error(t, err, "plain insert collides with existing keys")
}

func TestCompare_IgnoresRowOrder(t *testing.T) {
	ctx := context.Background()
	db := seededDB(t)
	seed, err := Decode(".yaml", []byte(yamlDataSet))
	require.NoError(t, err)
	require.NoError(t, Seed(ctx, db, "sqlite", seed, persistunit.SeedCleanInsert))

	reversed, err := Decode(".json", []byte(jsonDataSet))
	require.NoError(t, err)
	assert.NoError(t, Compare(ctx, db, reversed, nil))
}

func TestCompare_ReportsMismatches(t *testing.T) {
	ctx := context.Background()
	db := seededDB(t)
	seed, err := Decode(".yaml", []byte(yamlDataSet))
	require.NoError(t, err)
	require.NoError(t, Seed(ctx, db, "sqlite", seed, persistunit.SeedCleanInsert))

	expected := &DataSet{Tables: []Table{
		{Name: "orders", Rows: []Row{
			{"id": 10, "customer_id": 1, "total": 12.5},
			{"id": 12, "customer_id": 1, "total": 3},
		}},
	}}
	err = Compare(ctx, db, expected, nil)

	var failure *persistunit.AssertionFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, "orders", failure.Table)
	assert.Equal(t, []string{
		"orders: missing row {customer_id=1, id=12, total=3}",
		"orders: unexpected row {customer_id=1, id=11, total=3}",
	}, failure.Mismatches)

	assert.NoError(t, Compare(ctx, db, expected, []string{"id"}), "excluded columns are not compared")
}

func TestCompare_SeveralTablesClearTableName(t *testing.T) {
	ctx := context.Background()
	db := seededDB(t)

	expected := &DataSet{Tables: []Table{
		{Name: "customers", Rows: []Row{{"id": 1}}},
		{Name: "orders", Rows: []Row{{"id": 10}}},
	}}
	err := Compare(ctx, db, expected, nil)

	var failure *persistunit.AssertionFailure
	require.ErrorAs(t, err, &failure)
	assert.Empty(t, failure.Table)
	assert.Len(t, failure.Mismatches, 2)
}

func TestCompare_EmptyTableCountsRows(t *testing.T) {
	ctx := context.Background()
	db := seededDB(t)
	empty := &DataSet{Tables: []Table{{Name: "orders"}}}
	require.NoError(t, Compare(ctx, db, empty, nil))

	seed, err := Decode(".yaml", []byte(yamlDataSet))
	require.NoError(t, err)
	require.NoError(t, Seed(ctx, db, "sqlite", seed, persistunit.SeedCleanInsert))
	err = Compare(ctx, db, empty, nil)
	require.ErrorIs(t, err, persistunit.ErrAssertion)
	assert.Contains(t, err.Error(), "expected 0 rows, found 2")
}

func TestCleanup_EmptiesEveryTable(t *testing.T) {
	ctx := context.Background()
	db := seededDB(t)
	ds, err := Decode(".yaml", []byte(yamlDataSet))
	require.NoError(t, err)
	require.NoError(t, Seed(ctx, db, "sqlite", ds, persistunit.SeedCleanInsert))
	require.NoError(t, Cleanup(ctx, db, ds))

	require.NoError(t, Compare(ctx, db, &DataSet{Tables: []Table{{Name: "customers"}, {Name: "orders"}}}, nil))
}

func TestSeed_RejectsUnknownStrategy(t *testing.T) {
	err := Seed(context.Background(), seededDB(t), "sqlite", &DataSet{}, "upsert")
	assert.ErrorIs(t, err, persistunit.ErrConfiguration)
}

func TestPlaceholder(t *testing.T) {
	assert.Equal(t, "$2", Placeholder("pgx", 2))
	assert.Equal(t, "$1", Placeholder("postgres", 1))
	assert.Equal(t, "?", Placeholder("sqlite", 3))
}

func TestNormalize(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	tests := []struct {
		in   any
		want string
	}{
		{nil, nullValue},
		{true, "1"},
		{false, "0"},
		{[]byte("abc"), "abc"},
		{int64(7), "7"},
		{7, "7"},
		{7.0, "7"},
		{2.5, "2.5"},
		{json.Number("42"), "42"},
		{json.Number("4.25"), "4.25"},
		{ts, "2024-03-01T11:00:00Z"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), "%#v", tt.in)
	}
}

func TestBindValue(t *testing.T) {
	assert.Equal(t, int64(5), bindValue(json.Number("5")))
	assert.Equal(t, 1.5, bindValue(json.Number("1.5")))
	assert.Equal(t, int64(3), bindValue(3))
	assert.Equal(t, `{"a":1}`, bindValue(map[string]any{"a": 1}))
}
