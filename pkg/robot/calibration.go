package robot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// DefaultRotationUnit is the number of degrees in one logical rotation.
const DefaultRotationUnit = 360.0

// CalibrationRecord is the persisted, calibration-relevant subset of joint state.
type CalibrationRecord struct {
	Backlash      map[Joint]float64            `json:"backlash"`
	RotationUnit  map[Joint]float64            `json:"rotation_unit"`
	LastDirection map[Joint]int                `json:"last_direction"`
	Points        map[Joint]map[string]float64 `json:"named_points"`
	Limits        map[Joint][2]float64         `json:"limits,omitempty"`
	Calibrated    bool                         `json:"calibrated"`
}

// DefaultCalibration returns a record with no backlash, 360 degree rotations and no points.
func DefaultCalibration() *CalibrationRecord {
	rec := &CalibrationRecord{
		Backlash:      make(map[Joint]float64),
		RotationUnit:  make(map[Joint]float64),
		LastDirection: make(map[Joint]int),
		Points:        make(map[Joint]map[string]float64),
	}
	for _, j := range AllJoints() {
		rec.Backlash[j] = 0
		rec.RotationUnit[j] = DefaultRotationUnit
		rec.LastDirection[j] = 0
		rec.Points[j] = make(map[string]float64)
	}
	return rec
}

// LoadCalibration loads a calibration record from a JSON file. Joints absent
// from the file get defaults.
func LoadCalibration(path string) (*CalibrationRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read calibration file: %w", err)
	}

	var raw CalibrationRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse calibration JSON: %w", err)
	}

	rec := DefaultCalibration()
	rec.Calibrated = raw.Calibrated
	for _, j := range AllJoints() {
		if v, ok := raw.Backlash[j]; ok {
			rec.Backlash[j] = v
		}
		if v, ok := raw.RotationUnit[j]; ok && v > 0 {
			rec.RotationUnit[j] = v
		}
		if v, ok := raw.LastDirection[j]; ok && v >= -1 && v <= 1 {
			rec.LastDirection[j] = v
		}
		for name, deg := range raw.Points[j] {
			rec.Points[j][name] = deg
		}
		if lim, ok := raw.Limits[j]; ok {
			if rec.Limits == nil {
				rec.Limits = make(map[Joint][2]float64)
			}
			rec.Limits[j] = lim
		}
	}

	return rec, nil
}

// SaveTo writes the record to path, replacing the previous file atomically.
func (c *CalibrationRecord) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// CalibrationFile persists calibration records at a fixed path.
type CalibrationFile struct {
	Path string
}

// Load reads the record from disk.
func (f CalibrationFile) Load() (*CalibrationRecord, error) {
	return LoadCalibration(f.Path)
}

// Save writes the record to disk.
func (f CalibrationFile) Save(rec *CalibrationRecord) error {
	return rec.SaveTo(f.Path)
}

// Points each joint must have recorded before calibration can be finalized.
var requiredPoints = map[Joint][]string{
	JointA: {"open", "closed"},
	JointB: {"min", "pick", "max"},
	JointC: {"min", "pick", "max"},
	JointD: {"assembly", "neutral", "quality"},
}

// Point each joint returns to in the home pose.
var homePoints = map[Joint]string{
	JointA: "open",
	JointB: "min",
	JointC: "max",
	JointD: "neutral",
}

// RequiredPoints returns the point names j needs for calibration.
func RequiredPoints(j Joint) []string {
	return append([]string(nil), requiredPoints[j]...)
}

// HomePoint returns the point name j takes in the home pose.
func HomePoint(j Joint) string {
	return homePoints[j]
}

// MissingPoints lists the required points not present in points, per joint.
// Joints with nothing missing are omitted.
func MissingPoints(points map[Joint]map[string]float64) map[Joint][]string {
	missing := make(map[Joint][]string)
	for _, j := range AllJoints() {
		for _, name := range requiredPoints[j] {
			if _, ok := points[j][name]; !ok {
				missing[j] = append(missing[j], name)
			}
		}
	}
	return missing
}

// PointNames returns the names recorded for a joint in sorted order.
func PointNames(points map[string]float64) []string {
	names := make([]string, 0, len(points))
	for name := range points {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
