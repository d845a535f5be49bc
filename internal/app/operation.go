package app

import "time"

// Operation tracks the CLI command being run. Its ID tags every log line.
// Mutating operations snapshot the history database when the app closes.
type Operation struct {
	ID       string
	Name     string
	Mutating bool
	Status   string // "success" or "error"
}

// NewOperation creates an operation started at now.
func NewOperation(name string, mutating bool, now time.Time) *Operation {
	return &Operation{
		ID:       now.UTC().Format("20060102T150405Z"),
		Name:     name,
		Mutating: mutating,
		Status:   "success",
	}
}

// Fail marks the operation as failed when err is non-nil and returns err.
func (op *Operation) Fail(err error) error {
	if err != nil {
		op.Status = "error"
	}
	return err
}
