package motion

import (
	"maps"
	"math"
	"sync"

	"github.com/mhaegens/DMLegoArm/pkg/logger"
	"github.com/mhaegens/DMLegoArm/pkg/robot"
)

// Persister loads and saves the calibration record.
type Persister interface {
	Load() (*robot.CalibrationRecord, error)
	Save(*robot.CalibrationRecord) error
}

// Limits is an inclusive soft range in degrees.
type Limits struct {
	Lo float64 `json:"lo"`
	Hi float64 `json:"hi"`
}

// Clamp limits v to the range.
func (l Limits) Clamp(v float64) float64 {
	return math.Min(math.Max(v, l.Lo), l.Hi)
}

// JointState is the engine's knowledge of one joint.
type JointState struct {
	Current       float64            `json:"current"`
	Limits        *Limits            `json:"limits,omitempty"`
	Backlash      float64            `json:"backlash"`
	LastDirection int                `json:"last_direction"`
	RotationUnit  float64            `json:"rotation_unit"`
	Points        map[string]float64 `json:"points"`
}

func (s JointState) clone() JointState {
	if s.Limits != nil {
		lim := *s.Limits
		s.Limits = &lim
	}
	s.Points = maps.Clone(s.Points)
	if s.Points == nil {
		s.Points = make(map[string]float64)
	}
	return s
}

// JointStore holds per-joint state and persists its calibration subset.
// Mutations happen under the engine's busy-lock; mu only makes snapshots
// safe for lock-free readers.
type JointStore struct {
	mu         sync.RWMutex
	joints     map[robot.Joint]*JointState
	calibrated bool
	persist    Persister
	log        logger.Logger
}

// NewJointStore builds the store from the persisted record. A missing or
// corrupt record is logged and defaults are used.
func NewJointStore(p Persister, log logger.Logger) *JointStore {
	s := &JointStore{
		joints:  make(map[robot.Joint]*JointState),
		persist: p,
		log:     log,
	}

	rec := robot.DefaultCalibration()
	if p != nil {
		loaded, err := p.Load()
		if err != nil {
			log.Warn("calibration not loaded, using defaults", logger.WithError(err))
		} else {
			rec = loaded
		}
	}
	s.apply(rec)
	return s
}

func (s *JointStore) apply(rec *robot.CalibrationRecord) {
	s.calibrated = rec.Calibrated
	for _, j := range robot.AllJoints() {
		st := &JointState{
			Backlash:      rec.Backlash[j],
			LastDirection: rec.LastDirection[j],
			RotationUnit:  rec.RotationUnit[j],
			Points:        maps.Clone(rec.Points[j]),
		}
		if st.RotationUnit <= 0 {
			st.RotationUnit = robot.DefaultRotationUnit
		}
		if st.Points == nil {
			st.Points = make(map[string]float64)
		}
		if lim, ok := rec.Limits[j]; ok {
			st.Limits = &Limits{Lo: lim[0], Hi: lim[1]}
		}
		s.joints[j] = st
	}
}

func (s *JointStore) record() *robot.CalibrationRecord {
	rec := robot.DefaultCalibration()
	rec.Calibrated = s.calibrated
	for j, st := range s.joints {
		rec.Backlash[j] = st.Backlash
		rec.RotationUnit[j] = st.RotationUnit
		rec.LastDirection[j] = st.LastDirection
		rec.Points[j] = maps.Clone(st.Points)
		if st.Limits != nil {
			if rec.Limits == nil {
				rec.Limits = make(map[robot.Joint][2]float64)
			}
			rec.Limits[j] = [2]float64{st.Limits.Lo, st.Limits.Hi}
		}
	}
	return rec
}

// Get returns a copy of the joint's state.
func (s *JointStore) Get(j robot.Joint) (JointState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.joints[j]
	if !ok {
		return JointState{}, false
	}
	return st.clone(), true
}

// Snapshot returns a copy of every joint's state.
func (s *JointStore) Snapshot() map[robot.Joint]JointState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[robot.Joint]JointState, len(s.joints))
	for j, st := range s.joints {
		out[j] = st.clone()
	}
	return out
}

// Calibrated reports whether the last finalize succeeded and nothing changed since.
func (s *JointStore) Calibrated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calibrated
}

func (s *JointStore) update(j robot.Joint, fn func(st *JointState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.joints[j]; ok {
		fn(st)
	}
}

func (s *JointStore) setCalibrated(v bool) {
	s.mu.Lock()
	s.calibrated = v
	s.mu.Unlock()
}

// save persists the calibration subset. Failures are logged, not returned.
func (s *JointStore) save() {
	if s.persist == nil {
		return
	}
	s.mu.RLock()
	rec := s.record()
	s.mu.RUnlock()
	if err := s.persist.Save(rec); err != nil {
		s.log.Warn("failed to persist calibration", logger.WithError(err))
	}
}

// HomePose returns the home pose derived from recorded points, or false when
// the store is not calibrated.
func (s *JointStore) HomePose() (map[robot.Joint]float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.calibrated {
		return nil, false
	}
	home := make(map[robot.Joint]float64, len(s.joints))
	for j, st := range s.joints {
		deg, ok := st.Points[robot.HomePoint(j)]
		if !ok {
			return nil, false
		}
		home[j] = deg
	}
	return home, true
}
