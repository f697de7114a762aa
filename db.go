package chitrace

import (
	"context"
	"database/sql"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const maxStatementLength = 1024

// DB wraps a *sql.DB so that every operation produces a CLIENT span
// and, for requests instrumented with the sqlcommenter enabled,
// outgoing statements carry the serialized comment (app, route,
// traceparent).
//
// Prepared statements are deliberately not wrapped: sqlcommenter tags
// vary per request, which defeats statement reuse.
type DB struct {
	db     *sql.DB
	tracer trace.Tracer
	system string
	name   string
}

// WrapDB wraps db for tracing. system is the db.system attribute
// value (e.g. "sqlite", "postgresql"), name the logical database
// name.
func WrapDB(db *sql.DB, system, name string) *DB {
	return &DB{
		db:     db,
		tracer: defaultTracer(),
		system: system,
		name:   name,
	}
}

// WrapDBWithTracerProvider wraps db using a specific TracerProvider.
func WrapDBWithTracerProvider(db *sql.DB, tp trace.TracerProvider, system, name string) *DB {
	w := WrapDB(db, system, name)
	if tp != nil {
		w.tracer = tp.Tracer(ScopeName, trace.WithInstrumentationVersion(Version))
	}
	return w
}

// Unwrap returns the underlying *sql.DB.
func (d *DB) Unwrap() *sql.DB {
	return d.db
}

func (d *DB) attributes(query string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.DBSystemKey.String(d.system),
	}
	if d.name != "" {
		attrs = append(attrs, semconv.DBName(d.name))
	}
	if query != "" {
		attrs = append(attrs, semconv.DBStatement(truncateStatement(query)))
	}
	return attrs
}

// QueryContext runs a query with tracing and commenter propagation.
func (d *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	query = commentQuery(ctx, query)

	ctx, span := d.tracer.Start(ctx, "db."+statementOperation(query),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(d.attributes(query)...),
	)
	defer span.End()

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return rows, err
}

// QueryRowContext runs a single-row query with tracing.
func (d *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	query = commentQuery(ctx, query)

	ctx, span := d.tracer.Start(ctx, "db."+statementOperation(query),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(d.attributes(query)...),
	)
	defer span.End()

	return d.db.QueryRowContext(ctx, query, args...)
}

// ExecContext runs a statement with tracing and commenter
// propagation. Rows-affected is recorded when the driver reports it.
func (d *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	query = commentQuery(ctx, query)

	ctx, span := d.tracer.Start(ctx, "db."+statementOperation(query),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(d.attributes(query)...),
	)
	defer span.End()

	res, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else if res != nil {
		if n, raErr := res.RowsAffected(); raErr == nil {
			span.SetAttributes(attribute.Int64("db.rows_affected", n))
		}
	}
	return res, err
}

// PingContext verifies the connection with tracing.
func (d *DB) PingContext(ctx context.Context) error {
	ctx, span := d.tracer.Start(ctx, "db.ping",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(d.attributes("")...),
	)
	defer span.End()

	err := d.db.PingContext(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// BeginTx starts a transaction. The transaction span stays open until
// Commit or Rollback.
func (d *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	ctx, span := d.tracer.Start(ctx, "db.transaction",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(d.attributes("")...),
	)

	tx, err := d.db.BeginTx(ctx, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return nil, err
	}

	return &Tx{tx: tx, db: d, ctx: ctx, span: span}, nil
}

// Close closes the underlying database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Tx is a traced transaction. Its queries become children of the
// transaction span.
type Tx struct {
	tx   *sql.Tx
	db   *DB
	ctx  context.Context
	span trace.Span
}

// QueryContext runs a query inside the transaction.
func (t *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	query = commentQuery(ctx, query)

	_, span := t.db.tracer.Start(t.ctx, "db."+statementOperation(query),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(t.db.attributes(query)...),
	)
	defer span.End()

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return rows, err
}

// ExecContext runs a statement inside the transaction.
func (t *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	query = commentQuery(ctx, query)

	_, span := t.db.tracer.Start(t.ctx, "db."+statementOperation(query),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(t.db.attributes(query)...),
	)
	defer span.End()

	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

// Commit commits the transaction and ends its span.
func (t *Tx) Commit() error {
	err := t.tx.Commit()
	if err != nil {
		t.span.RecordError(err)
		t.span.SetStatus(codes.Error, err.Error())
	}
	t.span.End()
	return err
}

// Rollback rolls the transaction back and ends its span.
func (t *Tx) Rollback() error {
	err := t.tx.Rollback()
	t.span.SetAttributes(attribute.Bool("db.rollback", true))
	if err != nil {
		t.span.RecordError(err)
		t.span.SetStatus(codes.Error, err.Error())
	}
	t.span.End()
	return err
}

// statementOperation extracts the leading SQL verb for the span name.
func statementOperation(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return "query"
	}
	switch op := strings.ToLower(fields[0]); op {
	case "select", "insert", "update", "delete", "create", "drop", "alter", "pragma":
		return op
	default:
		return "query"
	}
}

// truncateStatement caps db.statement so oversized queries don't blow
// up span payloads.
func truncateStatement(query string) string {
	if len(query) <= maxStatementLength {
		return query
	}
	return query[:maxStatementLength] + "..."
}
