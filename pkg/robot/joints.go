// Package robot provides the hardware side of the arm: joint ids, motor drivers,
// persisted calibration and configuration.
package robot

import (
	"fmt"
	"strings"
)

// Joint identifies a rotary joint of the arm.
type Joint string

// Joint ids. A is the gripper, D the base rotation.
const (
	JointA Joint = "A"
	JointB Joint = "B"
	JointC Joint = "C"
	JointD Joint = "D"
)

// AllJoints returns all joints in canonical order.
func AllJoints() []Joint {
	return []Joint{
		JointA,
		JointB,
		JointC,
		JointD,
	}
}

// Role returns a human description of the joint.
func (j Joint) Role() string {
	switch j {
	case JointA:
		return "gripper"
	case JointB:
		return "wrist"
	case JointC:
		return "elbow"
	case JointD:
		return "base rotation"
	}
	return "unknown"
}

// Known reports whether j is one of the arm's joints.
func (j Joint) Known() bool {
	for _, k := range AllJoints() {
		if k == j {
			return true
		}
	}
	return false
}

// ParseJoint parses a joint id, case-insensitively.
func ParseJoint(s string) (Joint, error) {
	j := Joint(strings.ToUpper(strings.TrimSpace(s)))
	if !j.Known() {
		return "", fmt.Errorf("unknown joint %q", s)
	}
	return j, nil
}
