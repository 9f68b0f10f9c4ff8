package join

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
)

// sridQuery reads the SRID PostGIS registered for a geometry column.
const sridQuery = `SELECT srid FROM geometry_columns WHERE f_table_schema = $1 AND f_table_name = $2 AND f_geometry_column = $3`

func quote(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func qualified(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}

// addColumnsSQL renders one ALTER TABLE adding every column. DDL cannot take
// bind parameters, so the SRID is formatted from an integer.
func addColumnsSQL(schema, table string, columns []Column, srid int) string {
	clauses := make([]string, 0, len(columns))
	for _, col := range columns {
		colType := string(Varchar)
		if col.Type == Geometry {
			colType = "geometry(Geometry," + strconv.Itoa(srid) + ")"
		}
		clauses = append(clauses, "ADD COLUMN "+quote(col.Name)+" "+colType)
	}
	return fmt.Sprintf("ALTER TABLE %s %s", qualified(schema, table), strings.Join(clauses, ", "))
}

// updateSQL renders the correlated UPDATE copying source columns onto the
// target rows matched by pivot. Aliases keep a self join unambiguous.
// sourceGeometry is the physical geometry column of the source table.
func updateSQL(p Plan, rowKey, sourceGeometry string) string {
	sets := make([]string, 0, len(p.Columns))
	selects := make([]string, 0, len(p.Columns)+1)
	selects = append(selects, "t."+quote(rowKey)+" AS "+quote(rowKeyAlias))
	for _, name := range p.Columns {
		sets = append(sets, quote(name)+" = sub."+quote(name))
		srcCol := name
		if name == GeometryColumn {
			srcCol = sourceGeometry
		}
		selects = append(selects, "s."+quote(srcCol)+" AS "+quote(name))
	}

	return fmt.Sprintf(
		"UPDATE %s AS u SET %s FROM (SELECT %s FROM %s AS t JOIN %s AS s ON t.%s = s.%s) AS sub WHERE u.%s = sub.%s",
		qualified(p.Schema, p.TargetTable),
		strings.Join(sets, ", "),
		strings.Join(selects, ", "),
		qualified(p.Schema, p.TargetTable),
		qualified(p.Schema, p.SourceTable),
		quote(p.TargetPivot),
		quote(p.SourcePivot),
		quote(rowKey),
		quote(rowKeyAlias),
	)
}

// dropColumnsSQL renders the compensating DDL for columns added by a join.
func dropColumnsSQL(schema, table string, columns []string) string {
	clauses := make([]string, 0, len(columns))
	for _, name := range columns {
		clauses = append(clauses, "DROP COLUMN IF EXISTS "+quote(name))
	}
	return fmt.Sprintf("ALTER TABLE %s %s", qualified(schema, table), strings.Join(clauses, ", "))
}
