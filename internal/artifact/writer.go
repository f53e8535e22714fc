package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/conveyr/pipeline-api/internal/extract"
	"github.com/parquet-go/parquet-go"
	"github.com/pkg/errors"
)

// Write serializes a tabular result to a parquet artifact at path, creating
// parent directories as needed. Every column is optional so NULLs survive
// the round trip. A zero-row result produces a valid empty artifact, and an
// existing artifact at the same path is overwritten.
func Write(result *extract.TabularResult, path string) error {
	if len(result.Columns) == 0 {
		return errors.Errorf("result for %s has no columns", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "create artifact directory for %s", path)
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create artifact %s", path)
	}

	writer := parquet.NewGenericWriter[map[string]any](f, schemaFor(result.Columns))

	records := make([]map[string]any, 0, len(result.Rows))
	for _, row := range result.Rows {
		record := make(map[string]any, len(result.Columns))
		for i, col := range result.Columns {
			if v := coerce(row[i], col.Kind); v != nil {
				record[col.Name] = v
			}
		}
		records = append(records, record)
	}

	if len(records) > 0 {
		if _, err := writer.Write(records); err != nil {
			f.Close()
			return errors.Wrapf(err, "write rows to %s", path)
		}
	}

	if err := writer.Close(); err != nil {
		f.Close()
		return errors.Wrapf(err, "finalize artifact %s", path)
	}
	return errors.Wrapf(f.Close(), "close artifact %s", path)
}

func schemaFor(columns []extract.Column) *parquet.Schema {
	group := parquet.Group{}
	for _, col := range columns {
		group[col.Name] = parquet.Optional(nodeFor(col.Kind))
	}
	return parquet.NewSchema("result", group)
}

func nodeFor(kind extract.ColumnKind) parquet.Node {
	switch kind {
	case extract.KindBool:
		return parquet.Leaf(parquet.BooleanType)
	case extract.KindInt64:
		return parquet.Int(64)
	case extract.KindFloat64:
		return parquet.Leaf(parquet.DoubleType)
	case extract.KindBytes:
		return parquet.Leaf(parquet.ByteArrayType)
	case extract.KindTime:
		return parquet.Timestamp(parquet.Millisecond)
	default:
		return parquet.String()
	}
}

// coerce aligns a row value with its column's schema node. Mismatched
// values are written as NULL rather than failing the whole artifact.
func coerce(v any, kind extract.ColumnKind) any {
	if v == nil {
		return nil
	}
	switch kind {
	case extract.KindBool:
		if b, ok := v.(bool); ok {
			return b
		}
	case extract.KindInt64:
		switch n := v.(type) {
		case int64:
			return n
		case float64:
			return int64(n)
		}
	case extract.KindFloat64:
		switch n := v.(type) {
		case float64:
			return n
		case int64:
			return float64(n)
		}
	case extract.KindBytes:
		switch b := v.(type) {
		case []byte:
			return b
		case string:
			return []byte(b)
		}
	case extract.KindTime:
		if ts, ok := v.(time.Time); ok {
			return ts
		}
	default:
		switch s := v.(type) {
		case string:
			return s
		case []byte:
			return string(s)
		default:
			return fmt.Sprint(s)
		}
	}
	return nil
}
