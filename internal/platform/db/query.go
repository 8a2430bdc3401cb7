package db

import (
	"fmt"
	"strings"
)

// Query assembles a filtered, paginated SELECT and its matching COUNT.
type Query struct {
	table   string
	cols    string
	where   []string
	args    []interface{}
	orderBy string
}

func NewQuery(table, cols string) *Query {
	return &Query{table: table, cols: cols}
}

// Where adds a predicate. Each "?" in clause is replaced by the next
// positional parameter and bound to the matching arg.
func (q *Query) Where(clause string, args ...interface{}) *Query {
	var b strings.Builder
	n := 0
	for _, r := range clause {
		if r == '?' && n < len(args) {
			n++
			fmt.Fprintf(&b, "$%d", len(q.args)+n)
			continue
		}
		b.WriteRune(r)
	}
	q.where = append(q.where, b.String())
	q.args = append(q.args, args[:n]...)
	return q
}

// OrderBy sets the ORDER BY clause (without the keyword).
func (q *Query) OrderBy(orderBy string) *Query {
	q.orderBy = orderBy
	return q
}

func (q *Query) whereSQL() string {
	if len(q.where) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(q.where, " AND ")
}

func (q *Query) CountSQL() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s%s", q.table, q.whereSQL())
}

func (q *Query) Args() []interface{} { return q.args }

// DataSQL returns the row query with ORDER BY and LIMIT/OFFSET appended.
func (q *Query) DataSQL() string {
	sql := fmt.Sprintf("SELECT %s FROM %s%s", q.cols, q.table, q.whereSQL())
	if q.orderBy != "" {
		sql += " ORDER BY " + q.orderBy
	}
	return sql + fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(q.args)+1, len(q.args)+2)
}

// DataArgs returns the filter args followed by limit and offset.
func (q *Query) DataArgs(limit, offset int) []interface{} {
	out := make([]interface{}, len(q.args), len(q.args)+2)
	copy(out, q.args)
	return append(out, limit, offset)
}

// GroupSQL returns an unpaginated aggregate over the filtered rows.
func (q *Query) GroupSQL(groupBy string) string {
	return fmt.Sprintf("SELECT %s FROM %s%s GROUP BY %s", q.cols, q.table, q.whereSQL(), groupBy)
}
