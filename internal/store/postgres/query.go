package postgres

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/yieldmarket/internal/domain"
)

// listQuery accumulates WHERE clauses and positional arguments.
type listQuery struct {
	sb   strings.Builder
	args []any
}

func newListQuery(base string, args ...any) *listQuery {
	q := &listQuery{args: args}
	q.sb.WriteString(base)
	return q
}

func (q *listQuery) next(v any) string {
	q.args = append(q.args, v)
	return fmt.Sprintf("$%d", len(q.args))
}

// window adds the Since/Until bounds of opts on column col.
func (q *listQuery) window(col string, opts domain.ListOpts) {
	if opts.Since != nil {
		q.sb.WriteString(" AND " + col + " >= " + q.next(*opts.Since))
	}
	if opts.Until != nil {
		q.sb.WriteString(" AND " + col + " <= " + q.next(*opts.Until))
	}
}

// page appends the ordering and the Limit/Offset of opts.
func (q *listQuery) page(order string, opts domain.ListOpts) {
	q.sb.WriteString(" ORDER BY " + order)
	if opts.Limit > 0 {
		q.sb.WriteString(" LIMIT " + q.next(opts.Limit))
	}
	if opts.Offset > 0 {
		q.sb.WriteString(" OFFSET " + q.next(opts.Offset))
	}
}

func (q *listQuery) String() string { return q.sb.String() }
