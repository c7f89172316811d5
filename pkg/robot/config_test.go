package robot

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestLoadConfigFrom_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Driver != DriverSim {
		t.Errorf("Driver = %q, want %q", cfg.Driver, DriverSim)
	}
	if cfg.Workflow.PollInterval != 120*time.Millisecond {
		t.Errorf("PollInterval = %v, want 120ms", cfg.Workflow.PollInterval)
	}
	if got := cfg.Workflow.Order(); !reflect.DeepEqual(got, []Joint{JointD, JointC, JointB, JointA}) {
		t.Errorf("Order() = %v", got)
	}
	if len(cfg.Workflow.IgnoredJoints()) != 0 {
		t.Errorf("IgnoredJoints() = %v, want none by default", cfg.Workflow.IgnoredJoints())
	}
	if cfg.File() != "" {
		t.Errorf("File() = %q, want empty", cfg.File())
	}
}

func TestLoadConfigFrom_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "arm.yaml")
	data := `
driver: feetech
port: /dev/ttyUSB0
servo_ids:
  A: 6
  B: 5
  C: 4
  D: 3
workflow:
  tolerance: 2.5
  joint_tolerances:
    D: 4
  poll_interval: 50ms
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ARM_WORKFLOW_IGNORE_SETTLE_FAILURE", "D,A")
	t.Setenv("ARM_MOTION_DEFAULT_SPEED", "25")

	cfg, err := LoadConfigFrom(path)
	if err != nil {
		t.Fatalf("LoadConfigFrom: %v", err)
	}
	if cfg.Driver != DriverFeetech || cfg.Port != "/dev/ttyUSB0" {
		t.Errorf("driver/port = %q/%q", cfg.Driver, cfg.Port)
	}
	if cfg.Motion.DefaultSpeed != 25 {
		t.Errorf("DefaultSpeed = %d, want 25", cfg.Motion.DefaultSpeed)
	}
	if cfg.Workflow.PollInterval != 50*time.Millisecond {
		t.Errorf("PollInterval = %v, want 50ms", cfg.Workflow.PollInterval)
	}
	if got := cfg.Workflow.JointTolerance(JointD); got != 4 {
		t.Errorf("JointTolerance(D) = %v, want 4", got)
	}
	if got := cfg.Workflow.JointTolerance(JointB); got != 2.5 {
		t.Errorf("JointTolerance(B) = %v, want 2.5", got)
	}
	want := map[Joint]bool{JointD: true, JointA: true}
	if got := cfg.Workflow.IgnoredJoints(); !reflect.DeepEqual(got, want) {
		t.Errorf("IgnoredJoints() = %v, want %v", got, want)
	}

	ids, err := cfg.JointIDs()
	if err != nil {
		t.Fatalf("JointIDs: %v", err)
	}
	if ids[JointA] != 6 || ids[JointD] != 3 {
		t.Errorf("JointIDs() = %v", ids)
	}
}

func TestLoadConfigFrom_MissingExplicitFile(t *testing.T) {
	if _, err := LoadConfigFrom(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("LoadConfigFrom should fail for a missing explicit file")
	}
}

func TestSaveValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legoarm.yaml")

	if err := SaveValue(path, "port", "/dev/ttyACM0"); err != nil {
		t.Fatalf("SaveValue: %v", err)
	}
	if err := SaveValue(path, "driver", DriverFeetech); err != nil {
		t.Fatalf("SaveValue: %v", err)
	}

	cfg, err := LoadConfigFrom(path)
	if err != nil {
		t.Fatalf("LoadConfigFrom: %v", err)
	}
	if cfg.Port != "/dev/ttyACM0" || cfg.Driver != DriverFeetech {
		t.Errorf("port/driver = %q/%q", cfg.Port, cfg.Driver)
	}
}
