package merge

import (
	"database/sql"

	"github.com/brucehart/harlite/internal/harerr"
)

func tableExists(db *sql.DB, table string) (bool, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n)
	if err != nil {
		return false, harerr.New(harerr.StorageCorruption, "merge.tableExists", err)
	}
	return n > 0, nil
}

func tableColumns(db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.Query(`PRAGMA table_info(` + table + `)`)
	if err != nil {
		return nil, harerr.New(harerr.StorageCorruption, "merge.tableColumns", err)
	}
	defer rows.Close()

	cols := map[string]bool{}
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, harerr.New(harerr.StorageCorruption, "merge.tableColumns", err)
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

func tableColumnsTx(tx *sql.Tx, table string) (map[string]bool, error) {
	rows, err := tx.Query(`PRAGMA table_info(` + table + `)`)
	if err != nil {
		return nil, harerr.New(harerr.StorageCorruption, "merge.tableColumnsTx", err)
	}
	defer rows.Close()

	cols := map[string]bool{}
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, harerr.New(harerr.StorageCorruption, "merge.tableColumnsTx", err)
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

func selectCol(columns map[string]bool, name string) string {
	if columns[name] {
		return name
	}
	return "NULL as " + name
}

// queryRows runs query against db and returns each result row as a
// column-name-keyed map, tolerating schema drift across input databases.
func queryRows(db *sql.DB, query string, args ...any) ([]map[string]any, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, harerr.New(harerr.StorageCorruption, "merge.queryRows", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, harerr.New(harerr.StorageCorruption, "merge.queryRows", err)
	}

	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, harerr.New(harerr.StorageCorruption, "merge.queryRows", err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
