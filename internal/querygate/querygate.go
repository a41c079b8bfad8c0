// Package querygate implements harlite's Safe Query Gateway: single-
// statement validation, read-only enforcement, and LIMIT/OFFSET wrapping
// (spec §4.10). Grounded on original_source/src/commands/query.rs.
package querygate

import (
	"fmt"
	"strings"

	"github.com/brucehart/harlite/internal/harerr"
	"github.com/ncruces/go-sqlite3"
)

// Options configures one gated execution.
type Options struct {
	Limit  *int64
	Offset *int64
}

// Row is one result row as column name -> value.
type Row map[string]any

// Execute opens path read-only with query_only=ON enforced as defense-in-
// depth, validates the statement is single and read-only, wraps it for
// LIMIT/OFFSET, and returns column names and rows.
func Execute(path, query string, opts Options) (columns []string, rows []Row, err error) {
	conn, err := sqlite3.Open("file:" + path + "?mode=ro")
	if err != nil {
		return nil, nil, harerr.New(harerr.IOFault, "querygate.Execute", err)
	}
	defer conn.Close()

	if err := conn.Exec("PRAGMA query_only=ON"); err != nil {
		return nil, nil, harerr.New(harerr.StorageCorruption, "querygate.Execute", err)
	}

	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return nil, nil, harerr.New(harerr.InputInvalid, "querygate.Execute", fmt.Errorf("empty query"))
	}

	normalized, err := NormalizeSingleStatement(trimmed)
	if err != nil {
		return nil, nil, err
	}

	wrapped, args := WrapQuery(normalized, opts)

	stmt, _, err := conn.Prepare(wrapped)
	if err != nil {
		return nil, nil, harerr.New(harerr.InputInvalid, "querygate.Execute", err)
	}
	defer stmt.Close()

	if !stmt.ReadOnly() {
		return nil, nil, harerr.New(harerr.PolicyViolation, "querygate.Execute", fmt.Errorf("statement is not read-only"))
	}

	for i, a := range args {
		if err := bindArg(stmt, i+1, a); err != nil {
			return nil, nil, harerr.New(harerr.InputInvalid, "querygate.Execute", err)
		}
	}

	n := stmt.ColumnCount()
	if n == 0 {
		return nil, nil, harerr.New(harerr.InputInvalid, "querygate.Execute", fmt.Errorf("statement produces no columns"))
	}
	columns = make([]string, n)
	for i := 0; i < n; i++ {
		columns[i] = stmt.ColumnName(i)
	}

	for stmt.Step() {
		row := make(Row, n)
		for i := 0; i < n; i++ {
			row[columns[i]] = columnValue(stmt, i)
		}
		rows = append(rows, row)
	}
	if err := stmt.Err(); err != nil {
		return nil, nil, harerr.New(harerr.StorageCorruption, "querygate.Execute", err)
	}

	return columns, rows, nil
}

func bindArg(stmt *sqlite3.Stmt, i int, a any) error {
	switch v := a.(type) {
	case int64:
		return stmt.BindInt64(i, v)
	case string:
		return stmt.BindText(i, v)
	case nil:
		return stmt.BindNull(i)
	default:
		return stmt.BindText(i, fmt.Sprintf("%v", v))
	}
}

func columnValue(stmt *sqlite3.Stmt, i int) any {
	switch stmt.ColumnType(i) {
	case sqlite3.INTEGER:
		return stmt.ColumnInt64(i)
	case sqlite3.FLOAT:
		return stmt.ColumnFloat(i)
	case sqlite3.TEXT:
		return stmt.ColumnText(i)
	case sqlite3.BLOB:
		return stmt.ColumnBlob(i, nil)
	default:
		return nil
	}
}
