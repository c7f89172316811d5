package motion

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mhaegens/DMLegoArm/pkg/robot"
)

// Mode selects how numeric targets are interpreted.
type Mode string

const (
	ModeRelative Mode = "relative"
	ModeAbsolute Mode = "absolute"
)

// Units of numeric targets.
type Units string

const (
	UnitsDegrees   Units = "degrees"
	UnitsRotations Units = "rotations"
)

var (
	pointNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	pointExprRe = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*(?:([+-])\s*([0-9]+(?:\.[0-9]+)?))?$`)
)

// Target is a joint target: either a number or a point expression such as
// "pick", "open+5" or "neutral-2.5".
type Target struct {
	Value float64
	Point string
}

// Degrees returns a numeric target.
func Degrees(v float64) Target {
	return Target{Value: v}
}

// Point returns a point-expression target.
func Point(expr string) Target {
	return Target{Point: expr}
}

// IsPoint reports whether t is a point expression.
func (t Target) IsPoint() bool {
	return t.Point != ""
}

func (t Target) String() string {
	if t.IsPoint() {
		return t.Point
	}
	return strconv.FormatFloat(t.Value, 'f', -1, 64)
}

// ParseTarget parses a number or a point expression.
func ParseTarget(s string) (Target, error) {
	s = strings.TrimSpace(s)
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Target{}, fmt.Errorf("target %q is not a finite number", s)
		}
		return Degrees(v), nil
	}
	if _, _, err := parsePointExpr(s); err != nil {
		return Target{}, err
	}
	return Point(s), nil
}

// parsePointExpr splits "name±offset" into its name and signed offset.
func parsePointExpr(expr string) (string, float64, error) {
	m := pointExprRe.FindStringSubmatch(strings.TrimSpace(expr))
	if m == nil {
		return "", 0, fmt.Errorf("%w: malformed point expression %q", ErrUnknownPoint, expr)
	}
	if m[2] == "" {
		return m[1], 0, nil
	}
	off, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return "", 0, fmt.Errorf("%w: bad offset in %q", ErrUnknownPoint, expr)
	}
	if m[2] == "-" {
		off = -off
	}
	return m[1], off, nil
}

// ValidPointName reports whether name can be used for a recorded point.
func ValidPointName(name string) bool {
	return pointNameRe.MatchString(name)
}

// MarshalJSON encodes numbers as numbers and points as strings.
func (t Target) MarshalJSON() ([]byte, error) {
	if t.IsPoint() {
		return json.Marshal(t.Point)
	}
	return json.Marshal(t.Value)
}

// UnmarshalJSON accepts a number or a string.
func (t *Target) UnmarshalJSON(data []byte) error {
	var v float64
	if err := json.Unmarshal(data, &v); err == nil {
		*t = Degrees(v)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("target must be a number or a string: %s", data)
	}
	parsed, err := ParseTarget(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// UnmarshalYAML accepts a scalar number or point expression.
func (t *Target) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: target must be a scalar", value.Line)
	}
	parsed, err := ParseTarget(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*t = parsed
	return nil
}

// MarshalYAML encodes the target as its scalar form.
func (t Target) MarshalYAML() (any, error) {
	if t.IsPoint() {
		return t.Point, nil
	}
	return t.Value, nil
}

// Pose maps joints to targets.
type Pose map[robot.Joint]Target

// JointTarget is one entry of an ordered move request.
type JointTarget struct {
	Joint  robot.Joint `json:"joint"`
	Target Target      `json:"target"`
}

// Targets returns the pose entries in canonical joint order, followed by any
// unknown joints so validation can reject them.
func (p Pose) Targets() []JointTarget {
	out := make([]JointTarget, 0, len(p))
	seen := make(map[robot.Joint]bool, len(p))
	for _, j := range robot.AllJoints() {
		if t, ok := p[j]; ok {
			out = append(out, JointTarget{Joint: j, Target: t})
			seen[j] = true
		}
	}
	for j, t := range p {
		if !seen[j] {
			out = append(out, JointTarget{Joint: j, Target: t})
		}
	}
	return out
}
