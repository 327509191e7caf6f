package cache

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

// Status is the processing state of one cached file.
type Status string

// File statuses. The set matches the CHECK constraint on file_cache.status.
const (
	StatusNew        Status = "new"
	StatusWaiting    Status = "waiting"
	StatusProcessing Status = "processing"
	StatusOnHold     Status = "on_hold"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// ErrUnknownStatus is returned when a status string is not one of the known values.
var ErrUnknownStatus = errors.New("cache: unknown status")

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusNew, StatusWaiting, StatusOnHold, StatusProcessing, StatusCompleted, StatusError,
}

// ParseStatus converts a stored or user-supplied string to a Status.
func ParseStatus(s string) (Status, error) {
	for _, st := range AllStatuses {
		if string(st) == s {
			return st, nil
		}
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

// Dispatched reports whether a file in this status has already been handed
// to the export pipeline (or is being handed right now).
func (s Status) Dispatched() bool {
	return s == StatusProcessing || s == StatusCompleted || s == StatusError
}

func (s Status) String() string {
	return string(s)
}

// Entry is one row of file_cache.
type Entry struct {
	Directory string
	FileName  string
	Status    Status
	UpdatedAt time.Time
}

// Path joins the compound key back into a file path.
func (e Entry) Path() string {
	return filepath.Join(e.Directory, e.FileName)
}

// DispatchRecord is one export pipeline invocation.
type DispatchRecord struct {
	ID           string
	DatasetKey   string
	MsgStorePath string
	ContactsPath string
	OutputDir    string
	Status       Status // StatusCompleted or StatusError
	Message      string
	Artifacts    int
	StartedAt    time.Time
	FinishedAt   time.Time
}
