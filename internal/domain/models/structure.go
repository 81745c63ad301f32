package models

import (
	"time"

	"SwingPull/internal/engine"
)

// StructureSnapshot is the engine output for one stream after one bar.
// The engine fields are inlined in JSON.
type StructureSnapshot struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"tf"`
	Bucket    time.Time `json:"bucket"`
	engine.Snapshot
}

// SwingRecord is a swing point as persisted, with the bucket of the bar it formed on.
type SwingRecord struct {
	Symbol    string
	Timeframe string
	Bucket    time.Time
	engine.SwingPoint
}
