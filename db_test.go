package chitrace

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

func newTestDB(t *testing.T) (*DB, *tracetest.SpanRecorder) {
	t.Helper()

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	raw, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })

	// Schema setup goes through the raw handle so tests only see the
	// spans they create themselves.
	_, err = raw.Exec("CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)")
	require.NoError(t, err)

	return WrapDBWithTracerProvider(raw, tp, "sqlite", "testdb"), sr
}

func TestDB_ExecAndQueryTraced(t *testing.T) {
	db, sr := newTestDB(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, "INSERT INTO items (name) VALUES (?)", "widget")
	require.NoError(t, err)

	rows, err := db.QueryContext(ctx, "SELECT name FROM items")
	require.NoError(t, err)
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		require.NoError(t, rows.Scan(&n))
		names = append(names, n)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"widget"}, names)

	spans := sr.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, "db.insert", spans[0].Name())
	assert.Equal(t, trace.SpanKindClient, spans[0].SpanKind())
	assert.True(t, hasAttribute(spans[0].Attributes(), semconv.DBSystemKey.String("sqlite")))
	assert.True(t, hasAttribute(spans[0].Attributes(), semconv.DBName("testdb")))

	assert.Equal(t, "db.select", spans[1].Name())
}

func TestDB_QueryError(t *testing.T) {
	db, sr := newTestDB(t)

	_, err := db.QueryContext(context.Background(), "SELECT * FROM no_such_table")
	require.Error(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.NotEmpty(t, spans[0].Events(), "error should be recorded on the span")
}

func TestDB_Transaction(t *testing.T) {
	db, sr := newTestDB(t)
	ctx := context.Background()

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)

	_, err = tx.ExecContext(ctx, "INSERT INTO items (name) VALUES (?)", "gadget")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	spans := sr.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "db.insert", spans[0].Name())
	assert.Equal(t, "db.transaction", spans[1].Name())
}

func TestDB_CommenterAppendsTags(t *testing.T) {
	db, _ := newTestDB(t)

	ctx := context.WithValue(context.Background(), commenterKey, &commenterState{
		app: "demo-app",
	})

	// sqlite accepts the trailing comment; the insert must succeed.
	_, err := db.ExecContext(ctx, "INSERT INTO items (name) VALUES (?)", "tagged")
	require.NoError(t, err)

	var count int
	row := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM items")
	require.NoError(t, row.Scan(&count))
	assert.Equal(t, 1, count)
}

func TestDB_CommentedStatementRecorded(t *testing.T) {
	db, sr := newTestDB(t)

	ctx := context.WithValue(context.Background(), commenterKey, &commenterState{
		app: "demo-app",
	})

	_, err := db.ExecContext(ctx, "DELETE FROM items")
	require.NoError(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 1)

	var stmt string
	for _, kv := range spans[0].Attributes() {
		if kv.Key == semconv.DBStatementKey {
			stmt = kv.Value.AsString()
		}
	}
	assert.Contains(t, stmt, "app='demo-app'")
}

func TestStatementOperation(t *testing.T) {
	tests := []struct {
		query string
		want  string
	}{
		{"SELECT * FROM t", "select"},
		{"insert into t values (1)", "insert"},
		{"UPDATE t SET a = 1", "update"},
		{"DELETE FROM t", "delete"},
		{"CREATE TABLE t (a)", "create"},
		{"EXPLAIN SELECT 1", "query"},
		{"", "query"},
	}

	for _, tt := range tests {
		if got := statementOperation(tt.query); got != tt.want {
			t.Errorf("statementOperation(%q) = %q, want %q", tt.query, got, tt.want)
		}
	}
}

func TestTruncateStatement(t *testing.T) {
	short := "SELECT 1"
	if got := truncateStatement(short); got != short {
		t.Errorf("short statement should be unchanged")
	}

	long := make([]byte, maxStatementLength+10)
	for i := range long {
		long[i] = 'x'
	}
	got := truncateStatement(string(long))
	if len(got) != maxStatementLength+3 {
		t.Errorf("truncated length = %d, want %d", len(got), maxStatementLength+3)
	}
}
