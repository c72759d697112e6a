package mysql

import "fmt"

type queries struct {
	insert     string
	selectAll  string
	selectOne  string
	exists     string
	update     string
	deleteOne  string
	deleteAll  string
	count      string
	pruneStale string
}

func newQueries(table string) queries {
	cols := "id, items, created_at, attempt"

	return queries{
		insert:    fmt.Sprintf("INSERT INTO %s (id, items, created_at, attempt) VALUES (?, ?, ?, ?)", table),
		selectAll: fmt.Sprintf("SELECT %s FROM %s ORDER BY id ASC", cols, table),
		selectOne: fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", cols, table),
		exists:    fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE id = ?", table),
		// NULL arguments keep the current column value.
		update:     fmt.Sprintf("UPDATE %s SET attempt = COALESCE(?, attempt), items = COALESCE(?, items) WHERE id = ?", table),
		deleteOne:  fmt.Sprintf("DELETE FROM %s WHERE id = ?", table),
		deleteAll:  fmt.Sprintf("DELETE FROM %s", table),
		count:      fmt.Sprintf("SELECT COUNT(*) FROM %s", table),
		pruneStale: fmt.Sprintf("DELETE FROM %s WHERE created_at <= ? ORDER BY id LIMIT ?", table),
	}
}
