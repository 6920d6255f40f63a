package dispatch

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"sql-gateway/internal/config"
)

// RequestParameters captures the name -> value mappings of one request,
// keyed by where they were found. Values are raw strings from the path
// and query string; body fields keep their decoded JSON types.
type RequestParameters struct {
	Path  map[string]string
	Query map[string]string
	Body  map[string]any
}

// Merge folds the three maps into one working map. Path variables win
// over query string values, which win over body fields.
func (r RequestParameters) Merge() map[string]any {
	out := make(map[string]any, len(r.Path)+len(r.Query)+len(r.Body))
	for k, v := range r.Body {
		out[k] = v
	}
	for k, v := range r.Query {
		out[k] = v
	}
	for k, v := range r.Path {
		out[k] = v
	}
	return out
}

// lookupBySource reads a value from the declared source only.
func (r RequestParameters) lookupBySource(name, src string) (any, bool) {
	switch src {
	case config.SourcePath:
		v, ok := r.Path[name]
		return v, ok
	case config.SourceQuery:
		v, ok := r.Query[name]
		return v, ok
	case config.SourceBody:
		v, ok := r.Body[name]
		return v, ok
	default:
		return nil, false
	}
}

var timestampFormats = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Coerce converts a raw request value to the declared parameter type.
// Raw values are strings from the path/query string or decoded JSON
// values from a body. An empty string satisfies a STRING parameter;
// for every other type it fails coercion.
func Coerce(raw any, typeName string) (any, error) {
	if raw == nil {
		return nil, nil
	}

	switch typeName {
	case config.TypeString:
		switch v := raw.(type) {
		case string:
			return v, nil
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), nil
		case bool:
			return strconv.FormatBool(v), nil
		default:
			return fmt.Sprintf("%v", v), nil
		}

	case config.TypeInteger:
		switch v := raw.(type) {
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 32)
			if err != nil {
				return nil, fmt.Errorf("%q is not a valid integer", v)
			}
			return int32(n), nil
		case float64:
			if v != float64(int64(v)) {
				return nil, fmt.Errorf("%v is not a valid integer", v)
			}
			return int32(v), nil
		case int:
			return int32(v), nil
		case int64:
			return int32(v), nil
		case int32:
			return v, nil
		default:
			return nil, fmt.Errorf("expected integer, got %T", raw)
		}

	case config.TypeLong:
		switch v := raw.(type) {
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%q is not a valid long", v)
			}
			return n, nil
		case float64:
			if v != float64(int64(v)) {
				return nil, fmt.Errorf("%v is not a valid long", v)
			}
			return int64(v), nil
		case int:
			return int64(v), nil
		case int64:
			return v, nil
		case int32:
			return int64(v), nil
		default:
			return nil, fmt.Errorf("expected long, got %T", raw)
		}

	case config.TypeDecimal:
		switch v := raw.(type) {
		case string:
			d, err := parseDecimal(v)
			if err != nil {
				return nil, err
			}
			return d, nil
		case float64:
			return decimal.NewFromFloat(v), nil
		default:
			return nil, fmt.Errorf("expected decimal, got %T", raw)
		}

	case config.TypeBoolean:
		switch v := raw.(type) {
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("%q is not a valid boolean", v)
			}
			return b, nil
		case bool:
			return v, nil
		default:
			return nil, fmt.Errorf("expected boolean, got %T", raw)
		}

	case config.TypeTimestamp:
		v, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected timestamp string, got %T", raw)
		}
		for _, f := range timestampFormats {
			if t, err := time.Parse(f, v); err == nil {
				return t, nil
			}
		}
		return nil, fmt.Errorf("%q is not a valid timestamp", v)

	default:
		return nil, fmt.Errorf("unknown parameter type %s", typeName)
	}
}

// parseDecimal accepts digits with at most one decimal point and an
// optional leading sign.
func parseDecimal(s string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return decimal.Decimal{}, fmt.Errorf("empty value is not a valid decimal")
	}

	body := trimmed
	if body[0] == '+' || body[0] == '-' {
		body = body[1:]
	}
	dots := 0
	digits := 0
	for i := 0; i < len(body); i++ {
		switch {
		case body[i] >= '0' && body[i] <= '9':
			digits++
		case body[i] == '.':
			dots++
		default:
			return decimal.Decimal{}, fmt.Errorf("%q is not a valid decimal", s)
		}
	}
	if digits == 0 || dots > 1 {
		return decimal.Decimal{}, fmt.Errorf("%q is not a valid decimal", s)
	}

	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%q is not a valid decimal", s)
	}
	return d, nil
}
