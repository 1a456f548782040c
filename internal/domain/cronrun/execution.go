package cronrun

import (
	"time"

	"github.com/google/uuid"
)

// Status is the overall outcome of one pipeline run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
)

// Execution is the audit record of one pipeline run. Written exactly once per run.
type Execution struct {
	ID               uuid.UUID
	Status           Status
	StartedAt        time.Time
	Duration         time.Duration
	MassifsChecked   int
	BulletinsNew     int
	BulletinsUpdated int
	BulletinsStored  int
	DeliveriesSent   int
	Failures         int
	FailedStage      string // set when Status is failed
	Summary          string
	Error            string
}
