package command

import (
	"database/sql"
	"time"
)

// Column describes one result column.
type Column struct {
	Ordinal  int    `json:"ordinal"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

// ResultSet is a fully materialized query result. For results too large to
// buffer, use Command.Rows with the stream package instead.
type ResultSet struct {
	Columns  []Column        `json:"columns"`
	Rows     [][]interface{} `json:"rows"`
	RowCount int             `json:"row_count"`
	Duration time.Duration   `json:"duration"`
}

// ColumnNames returns the column names in ordinal order.
func (rs *ResultSet) ColumnNames() []string {
	names := make([]string, len(rs.Columns))
	for i, col := range rs.Columns {
		names[i] = col.Name
	}
	return names
}

// collectResultSet drains rows into a ResultSet. Byte slices are copied
// because the driver reuses its scan buffers between rows.
func collectResultSet(rows *sql.Rows) (*ResultSet, error) {
	start := time.Now()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}

	columns := make([]Column, len(types))
	for i, ct := range types {
		nullable, _ := ct.Nullable()
		columns[i] = Column{
			Ordinal:  i,
			Name:     ct.Name(),
			Type:     ct.DatabaseTypeName(),
			Nullable: nullable,
		}
	}

	rs := &ResultSet{Columns: columns}

	for rows.Next() {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}

		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		for i, v := range values {
			if b, ok := v.([]byte); ok {
				dup := make([]byte, len(b))
				copy(dup, b)
				values[i] = dup
			}
		}

		rs.Rows = append(rs.Rows, values)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	rs.RowCount = len(rs.Rows)
	rs.Duration = time.Since(start)
	return rs, nil
}
