package connector

import (
	"fmt"
	"math"
	"strconv"

	"pulsar-mcp/src/contracts"
)

// Params are the named arguments of one operation, as decoded from JSON.
// Each parameter may be given under its camelCase name or the snake_case name
// used by the tool schemas.
type Params map[string]any

var aliases = map[string]string{
	"subscriptionName": "subscription_name",
	"maxMessages":      "max_messages",
	"connectorType":    "connector_type",
	"connectorName":    "connector_name",
	"payloadEncoding":  "payload_encoding",
}

func (p Params) lookup(name string) (any, bool) {
	if v, ok := p[name]; ok && v != nil {
		return v, true
	}
	if alt, ok := aliases[name]; ok {
		if v, ok := p[alt]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// GetString returns the named string parameter. ok is false when it is absent.
func (p Params) GetString(name string) (value string, ok bool, err error) {
	v, ok := p.lookup(name)
	if !ok {
		return "", false, nil
	}
	s, isString := v.(string)
	if !isString {
		return "", true, contracts.Validationf("%s must be a string, got %T", name, v)
	}
	return s, true, nil
}

// GetInt returns the named integer parameter, or def when it is absent. JSON numbers
// arrive as float64 and must be integral.
func (p Params) GetInt(name string, def int) (int, error) {
	v, ok := p.lookup(name)
	if !ok {
		return def, nil
	}

	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || math.IsNaN(n) {
			return 0, contracts.Validationf("%s must be an integer, got %v", name, n)
		}
		if n > math.MaxInt32 || n < math.MinInt32 {
			return 0, contracts.Validationf("%s is out of range, got %v", name, n)
		}
		return int(n), nil
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, contracts.Validationf("%s must be an integer, got %q", name, n)
		}
		return i, nil
	default:
		return 0, contracts.Validationf("%s must be an integer, got %T", name, v)
	}
}

// GetProperties returns the named string-to-string mapping. Scalar values are
// rendered as strings; nested values are rejected.
func (p Params) GetProperties(name string) (map[string]string, error) {
	v, ok := p.lookup(name)
	if !ok {
		return nil, nil
	}

	switch m := v.(type) {
	case map[string]string:
		return m, nil
	case map[string]any:
		props := make(map[string]string, len(m))
		for k, raw := range m {
			switch val := raw.(type) {
			case string:
				props[k] = val
			case float64, bool, int, int64:
				props[k] = fmt.Sprint(val)
			default:
				return nil, contracts.Validationf("%s.%s must be a string, got %T", name, k, raw)
			}
		}
		return props, nil
	default:
		return nil, contracts.Validationf("%s must be an object of strings, got %T", name, v)
	}
}
