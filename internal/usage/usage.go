// Package usage notifies the platform's accounting of terminal session
// lifecycle events. Quota decisions happen elsewhere; the gateway only
// reports.
package usage

import (
	"log"
	"time"

	"github.com/arcten/shellgate/internal/access"
)

// Event describes one terminal session for accounting purposes.
type Event struct {
	SessionID string
	Caller    access.Identity
	ClusterID uint
	FrontDoor string // "ssh" or "ws"
}

// Recorder receives session start/stop notifications.
type Recorder interface {
	SessionStarted(ev Event)
	SessionEnded(ev Event, duration time.Duration, bytesIn, bytesOut int64)
}

// LogRecorder writes accounting events to the process log.
type LogRecorder struct{}

func (LogRecorder) SessionStarted(ev Event) {
	log.Printf("[usage] session started id=%s user=%d org=%d cluster=%d door=%s",
		ev.SessionID, ev.Caller.UserID, ev.Caller.OrgID, ev.ClusterID, ev.FrontDoor)
}

func (LogRecorder) SessionEnded(ev Event, duration time.Duration, bytesIn, bytesOut int64) {
	log.Printf("[usage] session ended id=%s user=%d org=%d cluster=%d door=%s duration=%s in=%dB out=%dB",
		ev.SessionID, ev.Caller.UserID, ev.Caller.OrgID, ev.ClusterID, ev.FrontDoor,
		duration.Round(time.Second), bytesIn, bytesOut)
}
