package badge

import (
	"fmt"
	"regexp"
	"strconv"
)

type Operator string

const (
	OpAtLeast     Operator = ">="
	OpGreaterThan Operator = ">"
)

var conditionPattern = regexp.MustCompile(`^\s*(\w+)\s*(>=|>)\s*(\d+(?:\.\d+)?)\s*$`)

// Condition is a parsed threshold expression such as
// "total_money_saved >= 100000".
type Condition struct {
	Metric    string
	Op        Operator
	Threshold float64
}

func ParseCondition(s string) (Condition, error) {
	m := conditionPattern.FindStringSubmatch(s)
	if m == nil {
		return Condition{}, fmt.Errorf("unparseable badge condition %q", s)
	}
	threshold, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return Condition{}, fmt.Errorf("invalid threshold in %q: %w", s, err)
	}
	return Condition{Metric: m[1], Op: Operator(m[2]), Threshold: threshold}, nil
}

// Satisfied reports whether value meets the condition.
func (c Condition) Satisfied(value float64) bool {
	switch c.Op {
	case OpAtLeast:
		return value >= c.Threshold
	case OpGreaterThan:
		return value > c.Threshold
	}
	return false
}

func (c Condition) String() string {
	return fmt.Sprintf("%s %s %s", c.Metric, c.Op, strconv.FormatFloat(c.Threshold, 'f', -1, 64))
}
