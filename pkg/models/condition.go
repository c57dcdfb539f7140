package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Condition evaluation errors. Both indicate a configuration defect rather
// than an end-actor mistake and are surfaced to the administrator.
var (
	ErrMissingFact      = errors.New("missing fact")
	ErrInvalidCondition = errors.New("invalid condition")
)

// comparisonOperators is the closed operator set of the condition grammar,
// longest first so ">=" is not read as ">" followed by "=5".
var comparisonOperators = []string{">=", "<=", "==", ">", "<"}

// Included evaluates the step's gating condition against the given fact set.
// A step without a condition is always included. The expression is a comparison
// operator concatenated with a numeric literal, e.g. ">7". A referenced fact
// that is absent yields ErrMissingFact; an unknown operator, a non-numeric
// literal or a non-numeric fact yields ErrInvalidCondition.
func (s *Step) Included(facts FactSet) (bool, error) {
	if s.ConditionField == "" {
		return true, nil
	}

	raw, ok := facts[s.ConditionField]
	if !ok {
		return false, fmt.Errorf("%w: step %d references fact %q", ErrMissingFact, s.Order, s.ConditionField)
	}

	operator, literal := splitExpression(s.ConditionExpression)
	if operator == "" {
		return false, fmt.Errorf("%w: step %d has unsupported expression %q", ErrInvalidCondition, s.Order, s.ConditionExpression)
	}

	threshold, err := strconv.ParseFloat(strings.TrimSpace(literal), 64)
	if err != nil {
		return false, fmt.Errorf("%w: step %d has non-numeric literal %q", ErrInvalidCondition, s.Order, literal)
	}

	value, err := factAsNumber(raw)
	if err != nil {
		return false, fmt.Errorf("%w: step %d fact %q: %v", ErrInvalidCondition, s.Order, s.ConditionField, err)
	}

	switch operator {
	case ">":
		return value > threshold, nil
	case "<":
		return value < threshold, nil
	case ">=":
		return value >= threshold, nil
	case "<=":
		return value <= threshold, nil
	case "==":
		return value == threshold, nil
	default:
		return false, fmt.Errorf("%w: operator %q", ErrInvalidCondition, operator)
	}
}

func splitExpression(expression string) (operator, literal string) {
	expression = strings.TrimSpace(expression)

	for _, op := range comparisonOperators {
		if strings.HasPrefix(expression, op) {
			return op, expression[len(op):]
		}
	}

	return "", ""
}

// factAsNumber coerces the supported fact representations to float64. Facts
// arrive through JSON, so numbers usually show up as float64 or json.Number.
func factAsNumber(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot parse %q as number", v)
		}

		return parsed, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to number", raw)
	}
}
