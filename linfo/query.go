package linfo

import (
	"fmt"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"
)

// Query is a compiled predicate over the <info> document,
// such as "type='EEG' and starts-with(name,'BioSemi')".
type Query struct {
	src  string
	expr *xpath.Expr
}

// CompileQuery compiles the predicate pred.
// The empty predicate matches every stream.
func CompileQuery(pred string) (*Query, error) {
	q := &Query{src: pred}
	if strings.TrimSpace(pred) == "" {
		return q, nil
	}

	expr, err := xpath.Compile("/info[" + pred + "]")
	if err != nil {
		return nil, fmt.Errorf("invalid query predicate %q: %w", pred, err)
	}
	q.expr = expr
	return q, nil
}

// String returns the source predicate.
func (q *Query) String() string {
	return q.src
}

// Matches reports whether i satisfies the predicate.
func (q *Query) Matches(i *Info) bool {
	if q.expr == nil {
		return true
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	i.sync()
	return xmlquery.QuerySelector(i.doc, q.expr) != nil
}

// Matches reports whether i satisfies the predicate pred.
// It returns an error if pred does not compile.
func (i *Info) Matches(pred string) (bool, error) {
	q, err := CompileQuery(pred)
	if err != nil {
		return false, err
	}
	return q.Matches(i), nil
}

// PropQuery returns the predicate selecting streams whose field prop equals value.
func PropQuery(prop, value string) string {
	return prop + "=" + literal(value)
}

// literal returns value as an XPath string literal.
// XPath literals have no escapes, so a value holding both quote kinds
// is spliced together with concat.
func literal(value string) string {
	switch {
	case !strings.Contains(value, "'"):
		return "'" + value + "'"
	case !strings.Contains(value, `"`):
		return `"` + value + `"`
	}

	parts := strings.Split(value, "'")
	args := make([]string, 0, 2*len(parts)-1)
	for i, p := range parts {
		if i > 0 {
			args = append(args, `"'"`)
		}
		if p != "" {
			args = append(args, "'"+p+"'")
		}
	}
	return "concat(" + strings.Join(args, ",") + ")"
}

// StreamQuery returns the predicate selecting exactly the stream
// with the given name, type and source ID.
// It is used to find a stream again after its outlet moved.
func StreamQuery(name, typ, sourceID string) string {
	return PropQuery("name", name) + " and " +
		PropQuery("type", typ) + " and " +
		PropQuery("source_id", sourceID)
}
