// Package legoarm drives a four-joint LEGO robot arm.
//
// The arm has a gripper (A), wrist (B), elbow (C) and base rotation (D)
// joint. Joint positions are expressed in motor degrees and may be named
// through per-joint calibration points.
//
// # Installation
//
//	go install github.com/mhaegens/DMLegoArm/cmd/legoarm@latest
//
// # Usage
//
// Detect the servo bus and store it in the config file:
//
//	legoarm scan
//
// Record the calibration points for each joint:
//
//	legoarm calibrate
//
// Then move the arm or run a process:
//
//	legoarm move A=90 B=open
//	legoarm run pick-assembly-quality
//
// # Packages
//
// The module is organized into the following packages:
//
//   - cmd/legoarm: CLI with move, calibrate, run, monitor and daemon commands
//   - pkg/robot: joint drivers, calibration file, and configuration
//   - pkg/motion: motion engine, busy lock, and joint store
//   - pkg/workflow: retry ladder, drift checks, and the process library
//   - pkg/ops: operation queue and history store
//   - pkg/monitor: position sampler behind the monitor TUI
//   - pkg/logger: logrus setup shared by the commands
package legoarm
