// Package metadata reads the JSON sidecar that accompanies every extracted
// database. Sidecars are copied into the watch tree like any other file, so a
// read may observe a missing or half-written document; both are ordinary
// outcomes reported through Result rather than errors.
package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Record is the identity carried by a sidecar.
type Record struct {
	DossierID string `json:"dossier_id"`
	DeviceID  string `json:"device_id"`
	Filename  string `json:"filename"`
	Location  string `json:"location"`
}

// ParseStatus is the outcome class of a sidecar read.
type ParseStatus int

// Parse outcomes.
const (
	Parsed ParseStatus = iota
	Absent
	Malformed
)

func (s ParseStatus) String() string {
	switch s {
	case Parsed:
		return "parsed"
	case Absent:
		return "absent"
	case Malformed:
		return "malformed"
	default:
		return fmt.Sprintf("ParseStatus(%d)", int(s))
	}
}

// Result of reading one sidecar. Record is only meaningful when Status is
// Parsed; Err explains an Absent (unreadable) or Malformed result.
type Result struct {
	Status ParseStatus
	Record Record
	Err    error
}

// OK reports whether the sidecar was parsed into a usable record.
func (r Result) OK() bool {
	return r.Status == Parsed
}

// Sentinel causes attached to Malformed results.
var (
	ErrNotObject     = errors.New("metadata: document is not a JSON object")
	ErrMissingFields = errors.New("metadata: filename and location are required")
)

// Read loads and parses the sidecar at path. It never fails: a missing file
// is Absent, unparseable content is Malformed and logged as a warning.
func Read(path string, logger *slog.Logger) Result {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Debug("metadata file not present", slog.String("path", path))
			return Result{Status: Absent}
		}

		logger.Warn("metadata file unreadable",
			slog.String("path", path), slog.String("error", err.Error()))

		return Result{Status: Absent, Err: fmt.Errorf("metadata: reading %s: %w", path, err)}
	}

	res := Parse(data)
	if res.Status == Malformed {
		logger.Warn("metadata file malformed",
			slog.String("path", path), slog.String("error", res.Err.Error()))
	}

	return res
}

// Parse decodes a sidecar document. Unknown fields are ignored; filename and
// location must be present because correlation cannot proceed without them.
// Text fields are NFC-normalized so that sidecars written on macOS (NFD)
// compare equal to their Linux or Windows counterparts.
func Parse(data []byte) Result {
	if strings.TrimSpace(string(data)) == "" {
		return Result{Status: Malformed, Err: errors.New("metadata: empty document")}
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return Result{Status: Malformed, Err: ErrNotObject}
		}

		return Result{Status: Malformed, Err: fmt.Errorf("metadata: decoding: %w", err)}
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Result{Status: Malformed, Err: fmt.Errorf("metadata: decoding fields: %w", err)}
	}

	rec.DossierID = norm.NFC.String(rec.DossierID)
	rec.DeviceID = norm.NFC.String(rec.DeviceID)
	rec.Filename = norm.NFC.String(rec.Filename)
	rec.Location = norm.NFC.String(rec.Location)

	if rec.Filename == "" || rec.Location == "" {
		return Result{Status: Malformed, Record: rec, Err: ErrMissingFields}
	}

	return Result{Status: Parsed, Record: rec}
}
