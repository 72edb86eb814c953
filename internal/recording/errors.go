package recording

import (
	"errors"
	"fmt"
)

// Sentinels matched by the typed errors below through errors.Is.
var (
	ErrRecordItemMissing = errors.New("record item missing")
	ErrRecordFileMissing = errors.New("record file missing")
)

// RecordItemMissingError is returned when the record file exists but holds no
// entry for the hashed inputs.
type RecordItemMissingError struct {
	File      string
	PathHash  string
	InputHash string
	Inputs    map[string]any
}

func (e *RecordItemMissingError) Error() string {
	return fmt.Sprintf("record item not found in %s: path hash %s, input hash %s, inputs %v",
		e.File, e.PathHash, e.InputHash, e.Inputs)
}

func (e *RecordItemMissingError) Unwrap() error { return ErrRecordItemMissing }

// RecordFileMissingError is returned when nothing has been recorded for a file.
type RecordFileMissingError struct {
	File     string
	PathHash string
}

func (e *RecordFileMissingError) Error() string {
	return fmt.Sprintf("record file not found: %s (path hash %s)", e.File, e.PathHash)
}

func (e *RecordFileMissingError) Unwrap() error { return ErrRecordFileMissing }
