package domain

import "time"

// ItemError records a failure while processing a single raw item. Item
// failures never abort a run.
type ItemError struct {
	ItemID  string
	Message string
}

// ImportStats holds statistics about one import run.
type ImportStats struct {
	Platform         string
	SourceIdentifier string
	Found            int
	Imported         int
	Skipped          int
	Errors           []ItemError
	Duration         time.Duration
}
