package controller

import (
	"log"
	"time"
)

// Alert levels
const (
	AlertInfo    = "info"
	AlertWarning = "warning"
	AlertError   = "error"
)

// Alert is an asynchronous operator notification: validation failures,
// enforcement failures, frozen or blocked states.
type Alert struct {
	ID           string
	Level        string
	ExperimentID string
	Message      string
	Context      map[string]string
	At           time.Time
}

// Alerter receives alerts raised by the controller
type Alerter interface {
	Alert(alert Alert)
}

// LogAlerter writes alerts to the process log
type LogAlerter struct{}

// Alert implements the Alerter interface
func (LogAlerter) Alert(alert Alert) {
	log.Printf("ALERT [%s] experiment=%s: %s %v", alert.Level, alert.ExperimentID, alert.Message, alert.Context)
}
