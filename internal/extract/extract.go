package extract

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/conveyr/pipeline-api/internal/models"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	_ "github.com/lib/pq"               // PostgreSQL driver
	_ "github.com/microsoft/go-mssqldb" // SQL Server driver
)

// Config holds the shared connectivity settings for every roster database.
// The database name itself varies per extraction unit; everything else
// (host, credentials, driver) is common to the whole roster.
type Config struct {
	Driver                 string
	Host                   string
	Port                   int
	Username               string
	Password               string
	TrustServerCertificate bool
	MaxOpenConns           int
	QueryTimeout           time.Duration
}

// ColumnKind is the normalized type of a result column, used to build the
// artifact schema.
type ColumnKind int

const (
	KindString ColumnKind = iota
	KindBool
	KindInt64
	KindFloat64
	KindBytes
	KindTime
)

type Column struct {
	Name string
	Kind ColumnKind
}

// TabularResult is one query's full result set: column names with
// normalized kinds, and rows with NULLs preserved as nil.
type TabularResult struct {
	Columns []Column
	Rows    [][]any
}

// Error carries the failure classification alongside the cause.
type Error struct {
	Kind models.ErrorKind
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the error classification for a failed execution.
func KindOf(err error) models.ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return models.ErrKindQuery
}

// Executor runs catalogue queries. Each database gets its own lazily
// created, bounded connection pool so one starved database cannot block
// extractions against its siblings.
type Executor struct {
	cfg    Config
	logger zerolog.Logger

	mu    sync.Mutex
	pools map[string]*sql.DB
}

func NewExecutor(cfg Config, logger zerolog.Logger) *Executor {
	return &Executor{
		cfg:    cfg,
		logger: logger.With().Str("component", "extract").Logger(),
		pools:  make(map[string]*sql.DB),
	}
}

// Execute runs one catalogue query against one database. Query text is
// applied verbatim. Failures are classified as connection, timeout, or
// query errors; a zero-row result is a success.
func (e *Executor) Execute(ctx context.Context, database, queryName, queryText string) (*TabularResult, error) {
	db, err := e.pool(database)
	if err != nil {
		return nil, &Error{Kind: models.ErrKindConnection, Err: err}
	}

	if e.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.QueryTimeout)
		defer cancel()
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, &Error{
			Kind: classify(err, models.ErrKindConnection),
			Err:  errors.Wrapf(err, "connect to %s", database),
		}
	}

	start := time.Now()
	rows, err := db.QueryContext(ctx, queryText)
	if err != nil {
		return nil, &Error{
			Kind: classify(err, models.ErrKindQuery),
			Err:  errors.Wrapf(err, "run %s against %s", queryName, database),
		}
	}
	defer rows.Close()

	result, err := collect(rows)
	if err != nil {
		return nil, &Error{
			Kind: classify(err, models.ErrKindQuery),
			Err:  errors.Wrapf(err, "read %s rows from %s", queryName, database),
		}
	}

	e.logger.Debug().
		Str("database", database).
		Str("query", queryName).
		Int("rows", len(result.Rows)).
		Dur("took", time.Since(start)).
		Msg("query executed")

	return result, nil
}

// Close releases every pool. Called once at process shutdown.
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var firstErr error
	for name, db := range e.pools {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "close pool for %s", name)
		}
		delete(e.pools, name)
	}
	return firstErr
}

func (e *Executor) pool(database string) (*sql.DB, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if db, ok := e.pools[database]; ok {
		return db, nil
	}

	driver, dsn, err := e.cfg.dsn(database)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open pool for %s", database)
	}
	if e.cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(e.cfg.MaxOpenConns)
		db.SetMaxIdleConns(e.cfg.MaxOpenConns)
	}
	e.pools[database] = db
	return db, nil
}

func classify(err error, fallback models.ErrorKind) models.ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return models.ErrKindTimeout
	}
	return fallback
}

func collect(rows *sql.Rows) (*TabularResult, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}

	columns := make([]Column, len(types))
	for i, t := range types {
		columns[i] = Column{Name: t.Name(), Kind: kindFor(t)}
	}

	result := &TabularResult{Columns: columns}
	values := make([]any, len(columns))
	dests := make([]any, len(columns))
	for i := range values {
		dests[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(dests...); err != nil {
			return nil, err
		}
		row := make([]any, len(columns))
		for i, v := range values {
			row[i] = normalize(v)
		}
		result.Rows = append(result.Rows, row)
	}
	return result, rows.Err()
}

var (
	timeType  = reflect.TypeOf(time.Time{})
	bytesType = reflect.TypeOf([]byte(nil))
)

func kindFor(t *sql.ColumnType) ColumnKind {
	// Decimal families scan as []byte; keep them readable.
	switch strings.ToUpper(t.DatabaseTypeName()) {
	case "DECIMAL", "NUMERIC", "MONEY", "SMALLMONEY":
		return KindString
	}

	st := t.ScanType()
	if st == nil {
		return KindString
	}
	switch st {
	case timeType, reflect.TypeOf(sql.NullTime{}):
		return KindTime
	case bytesType:
		return KindBytes
	case reflect.TypeOf(sql.NullBool{}):
		return KindBool
	case reflect.TypeOf(sql.NullInt16{}), reflect.TypeOf(sql.NullInt32{}), reflect.TypeOf(sql.NullInt64{}):
		return KindInt64
	case reflect.TypeOf(sql.NullFloat64{}):
		return KindFloat64
	case reflect.TypeOf(sql.NullString{}):
		return KindString
	}

	switch st.Kind() {
	case reflect.Bool:
		return KindBool
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return KindInt64
	case reflect.Float32, reflect.Float64:
		return KindFloat64
	case reflect.String:
		return KindString
	}
	return KindString
}

// normalize copies driver-owned buffers and widens numeric types so rows
// remain valid after the next Scan reuses them.
func normalize(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case []byte:
		return append([]byte(nil), t...)
	case bool, int64, float64, string, time.Time:
		return t
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case float32:
		return float64(t)
	default:
		return fmt.Sprint(t)
	}
}
