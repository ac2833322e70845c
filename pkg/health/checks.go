package health

import "fmt"

// Source is the slice of the store a health probe reads.
type Source interface {
	Ping() error
	DeviceCount() (int64, error)
}

// Status is the probe result served on the health endpoint.
type Status struct {
	StoreReachable bool     `json:"store_reachable"`
	Devices        int64    `json:"devices"`
	Sessions       int      `json:"sessions"`
	Healthy        bool     `json:"healthy"`
	Issues         []string `json:"issues,omitempty"`
}

// Check probes the store and reports the live session count. The session
// counter is a callback so the probe stays decoupled from the listener.
func Check(src Source, sessions func() int) *Status {
	status := &Status{Healthy: true}

	if err := src.Ping(); err != nil {
		status.Healthy = false
		status.Issues = append(status.Issues, fmt.Sprintf("store unreachable: %v", err))
	} else {
		status.StoreReachable = true
		count, err := src.DeviceCount()
		if err != nil {
			status.Healthy = false
			status.Issues = append(status.Issues, fmt.Sprintf("device count failed: %v", err))
		} else {
			status.Devices = count
		}
	}

	if sessions != nil {
		status.Sessions = sessions()
	}
	return status
}
