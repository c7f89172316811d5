package robot

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const DefaultConfigFile = "legoarm.yaml"

// Driver kinds.
const (
	DriverSim     = "sim"
	DriverFeetech = "feetech"
)

// Config holds the arm configuration
type Config struct {
	Driver              string         `mapstructure:"driver"`
	Port                string         `mapstructure:"port"`
	ServoIDs            map[string]int `mapstructure:"servo_ids"`
	SimDegreesPerSecond float64        `mapstructure:"sim_degrees_per_second"`
	CalibrationFile     string         `mapstructure:"calibration_file"`
	HistoryDB           string         `mapstructure:"history_db"`
	ProcessFile         string         `mapstructure:"process_file"`
	Log                 LogConfig      `mapstructure:"log"`
	Motion              MotionConfig   `mapstructure:"motion"`
	Workflow            WorkflowConfig `mapstructure:"workflow"`

	file string
}

// LogConfig controls logging output
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// MotionConfig holds actuation tunables
type MotionConfig struct {
	DefaultSpeed     int           `mapstructure:"default_speed"`
	MaxChunkDegrees  float64       `mapstructure:"max_chunk_degrees"`
	Deadband         float64       `mapstructure:"deadband"`
	Tolerance        float64       `mapstructure:"tolerance"`
	TimeoutBase      time.Duration `mapstructure:"timeout_base"`
	DegreesPerSecond float64       `mapstructure:"degrees_per_second"`
	RecoverSpeed     int           `mapstructure:"recover_speed"`
	RecoverTimeout   time.Duration `mapstructure:"recover_timeout"`
}

// WorkflowConfig holds precision workflow tunables
type WorkflowConfig struct {
	Tolerance           float64            `mapstructure:"tolerance"`
	JointTolerances     map[string]float64 `mapstructure:"joint_tolerances"`
	JointOrder          []string           `mapstructure:"joint_order"`
	Speed               int                `mapstructure:"speed"`
	SpeedFinal          int                `mapstructure:"speed_final"`
	NudgeSpeed          int                `mapstructure:"nudge_speed"`
	SegmentDegrees      float64            `mapstructure:"segment_degrees"`
	PollInterval        time.Duration      `mapstructure:"poll_interval"`
	StableWindow        time.Duration      `mapstructure:"stable_window"`
	StableReads         int                `mapstructure:"stable_reads"`
	MediumResidual      float64            `mapstructure:"medium_residual"`
	MaxRecoveries       int                `mapstructure:"max_recoveries"`
	DriftPad            float64            `mapstructure:"drift_pad"`
	CatastrophicDrift   float64            `mapstructure:"catastrophic_drift"`
	IgnoreSettleFailure []string           `mapstructure:"ignore_settle_failure"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("driver", DriverSim)
	v.SetDefault("port", "")
	v.SetDefault("servo_ids", map[string]int{"A": 1, "B": 2, "C": 3, "D": 4})
	v.SetDefault("sim_degrees_per_second", 0)
	v.SetDefault("calibration_file", "calibration.json")
	v.SetDefault("history_db", "")
	v.SetDefault("process_file", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")

	v.SetDefault("motion.default_speed", 50)
	v.SetDefault("motion.max_chunk_degrees", 720)
	v.SetDefault("motion.deadband", 1.0)
	v.SetDefault("motion.tolerance", 3.0)
	v.SetDefault("motion.timeout_base", "1s")
	v.SetDefault("motion.degrees_per_second", 360)
	v.SetDefault("motion.recover_speed", 30)
	v.SetDefault("motion.recover_timeout", "60s")

	v.SetDefault("workflow.tolerance", 3.0)
	v.SetDefault("workflow.joint_tolerances", map[string]float64{})
	v.SetDefault("workflow.joint_order", []string{"D", "C", "B", "A"})
	v.SetDefault("workflow.speed", 100)
	v.SetDefault("workflow.speed_final", 35)
	v.SetDefault("workflow.nudge_speed", 40)
	v.SetDefault("workflow.segment_degrees", 180)
	v.SetDefault("workflow.poll_interval", "120ms")
	v.SetDefault("workflow.stable_window", "200ms")
	v.SetDefault("workflow.stable_reads", 2)
	v.SetDefault("workflow.medium_residual", 10.0)
	v.SetDefault("workflow.max_recoveries", 2)
	v.SetDefault("workflow.drift_pad", 1.0)
	v.SetDefault("workflow.catastrophic_drift", 90.0)
	v.SetDefault("workflow.ignore_settle_failure", []string{})
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("ARM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadConfig loads configuration from legoarm.yaml in the working directory
// or ~/.config/legoarm, falling back to defaults when no file exists.
func LoadConfig() (*Config, error) {
	return LoadConfigFrom("")
}

// LoadConfigFrom loads configuration from a specific file. An empty path
// searches the default locations. ARM_* environment variables override file values.
func LoadConfigFrom(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(strings.TrimSuffix(DefaultConfigFile, ".yaml"))
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/legoarm")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.file = v.ConfigFileUsed()
	return &cfg, nil
}

// File returns the config file that was read, or "" when running on defaults.
func (c *Config) File() string {
	return c.file
}

// JointIDs returns the servo id of each joint.
func (c *Config) JointIDs() (map[Joint]int, error) {
	ids := make(map[Joint]int, len(c.ServoIDs))
	for name, id := range c.ServoIDs {
		j, err := ParseJoint(name)
		if err != nil {
			return nil, fmt.Errorf("servo_ids: %w", err)
		}
		ids[j] = id
	}
	return ids, nil
}

// JointTolerance returns the workflow tolerance for j.
func (w WorkflowConfig) JointTolerance(j Joint) float64 {
	for name, tol := range w.JointTolerances {
		if strings.EqualFold(name, string(j)) {
			return tol
		}
	}
	return w.Tolerance
}

// Order returns the workflow joint order, ignoring unknown names.
func (w WorkflowConfig) Order() []Joint {
	var order []Joint
	for _, name := range w.JointOrder {
		if j, err := ParseJoint(name); err == nil {
			order = append(order, j)
		}
	}
	if len(order) == 0 {
		return []Joint{JointD, JointC, JointB, JointA}
	}
	return order
}

// IgnoredJoints returns the joints allowed to finish a workflow unsettled.
func (w WorkflowConfig) IgnoredJoints() map[Joint]bool {
	ignored := make(map[Joint]bool)
	for _, name := range w.IgnoreSettleFailure {
		if j, err := ParseJoint(name); err == nil {
			ignored[j] = true
		}
	}
	return ignored
}

// SaveValue sets key in the config file at path, creating the file if needed.
func SaveValue(path, key string, value any) error {
	v := viper.New()
	v.SetConfigFile(path)
	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	}
	v.Set(key, value)
	return v.WriteConfigAs(path)
}

// ConfigExists returns true if the default config file exists
func ConfigExists() bool {
	_, err := os.Stat(DefaultConfigFile)
	return err == nil
}
