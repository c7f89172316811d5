package robot

import (
	"context"
	"strings"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"
	"go.bug.st/serial"
)

// BusInfo describes a serial port with servos answering on it.
type BusInfo struct {
	Port   string
	Servos []feetech.FoundServo
}

// HasJoints reports whether every id in ids answered on the bus.
func (b BusInfo) HasJoints(ids map[Joint]int) bool {
	seen := make(map[int]bool, len(b.Servos))
	for _, s := range b.Servos {
		seen[s.ID] = true
	}
	for _, id := range ids {
		if !seen[id] {
			return false
		}
	}
	return true
}

// DiscoverBuses scans every serial port for servos with ids 1..maxID.
func DiscoverBuses(ctx context.Context, maxID int) ([]BusInfo, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, err
	}

	var buses []BusInfo
	for _, port := range ports {
		// Skip Bluetooth ports on macOS
		if strings.Contains(port, "Bluetooth") {
			continue
		}

		bus, err := feetech.NewBus(feetech.BusConfig{
			Port:     port,
			BaudRate: 1_000_000,
			Protocol: feetech.ProtocolSTS,
			Timeout:  100 * time.Millisecond,
		})
		if err != nil {
			continue
		}

		scanCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		servos, err := bus.Scan(scanCtx, 1, maxID)
		cancel()
		bus.Close()

		if err != nil || len(servos) == 0 {
			continue
		}
		buses = append(buses, BusInfo{Port: port, Servos: servos})
	}

	return buses, nil
}
