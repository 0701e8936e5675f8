package store

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shrimpsizemoose/pointbulle/internal/models"
)

// StudentFilter is an exact match, conjunctive filter over student
// attributes: student_id, course_id, last_seen, and <integration>_id for
// every registered integration (e.g. discord_id).
type StudentFilter map[string]any

type studentColumn struct {
	expr   string
	coerce func(any) (any, error)
}

var studentColumns = map[string]studentColumn{
	"student_id": {expr: "s.student_id", coerce: coerceInt},
	"course_id":  {expr: "s.course_id", coerce: coerceInt},
	"last_seen":  {expr: "s.last_seen", coerce: coerceTime},
}

const externalIDClause = `EXISTS (
			SELECT 1 FROM student_external_ids x
			WHERE x.student_id = s.student_id AND x.integration = ? AND x.external_id = ?
		)`

// BuildStudentFilter turns a filter into a WHERE clause with bound
// arguments. Only whitelisted column expressions ever reach the SQL text.
func BuildStudentFilter(filter StudentFilter, integrations []string) (string, []any, error) {
	if len(filter) == 0 {
		return "", nil, fmt.Errorf("%w: empty student filter", ErrInvalidQuery)
	}

	external := make(map[string]string, len(integrations))
	for _, key := range integrations {
		external[models.ExternalIDAttribute(key)] = key
	}

	attrs := make([]string, 0, len(filter))
	for attr := range filter {
		attrs = append(attrs, attr)
	}
	slices.Sort(attrs)

	var (
		clauses []string
		args    []any
	)
	for _, attr := range attrs {
		value := filter[attr]
		name := strings.ToLower(strings.TrimSpace(attr))
		if value == nil {
			return "", nil, fmt.Errorf("%w: %s has no value", ErrInvalidQuery, attr)
		}

		if col, ok := studentColumns[name]; ok {
			v, err := col.coerce(value)
			if err != nil {
				return "", nil, fmt.Errorf("%w: %s: %v", ErrInvalidQuery, attr, err)
			}
			clauses = append(clauses, col.expr+" = ?")
			args = append(args, v)
			continue
		}

		if key, ok := external[name]; ok {
			clauses = append(clauses, externalIDClause)
			args = append(args, key, fmt.Sprint(value))
			continue
		}

		return "", nil, fmt.Errorf("%w: unknown student attribute %q", ErrInvalidQuery, attr)
	}

	return strings.Join(clauses, " AND "), args, nil
}

func coerceInt(v any) (any, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		if n != float64(int64(n)) {
			return nil, fmt.Errorf("%v is not an integer", n)
		}
		return int64(n), nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(n), 10, 64)
	default:
		return nil, fmt.Errorf("unsupported type %T", v)
	}
}

func coerceTime(v any) (any, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return nil, err
		}
		return parsed.UTC(), nil
	default:
		return nil, fmt.Errorf("unsupported type %T", v)
	}
}
