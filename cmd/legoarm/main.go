package main

import (
	"os"

	"github.com/jessevdk/go-flags"
)

type Options struct {
	Config  string `short:"c" long:"config" description:"Config file (default: legoarm.yaml in . or ~/.config/legoarm)"`
	Verbose bool   `short:"v" long:"verbose" description:"Debug logging"`

	Move      MoveCommand      `command:"move" description:"Move joints, e.g. 'move A=30 B=pick+5'"`
	Pose      PoseCommand      `command:"pose" description:"Go to a named pose"`
	PickPlace PickPlaceCommand `command:"pickplace" description:"Pick at or place to a named location"`
	Run       RunCommand       `command:"run" description:"Run a named process"`
	Processes ProcessesCommand `command:"processes" alias:"ls" description:"List processes and poses"`
	Calibrate CalibrateCommand `command:"calibrate" description:"Teach calibration points and finalize"`
	Monitor   MonitorCommand   `command:"monitor" description:"Live chart of joint positions"`
	Scan      ScanCommand      `command:"scan" description:"Find the servo bus and save its port"`
	SelfTest  SelfTestCommand  `command:"selftest" description:"Nudge every joint and check it follows"`
	Recover   RecoverCommand   `command:"recover" description:"Stop and return to the home pose"`
	Park      ParkCommand      `command:"park" description:"Move to the resting pose"`
	History   HistoryCommand   `command:"history" description:"Show recent operations"`
	Daemon    DaemonCommand    `command:"daemon" description:"Run queued operations read as JSON lines on stdin"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "legoarm - motion control for a four joint LEGO robot arm"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}
}
