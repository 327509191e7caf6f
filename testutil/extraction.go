// Package testutil builds throwaway extraction trees for unit, integration
// and E2E tests. It depends only on stdlib so that every test package can
// use it without import cycles.
package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Default identity used by fixtures that do not care about it.
const (
	DefaultDossier = "D1"
	DefaultDevice  = "DEV1"
)

// Metadata mirrors the JSON sidecar fields. Kept separate from the real
// record type so fixtures can write deliberately wrong documents.
type Metadata struct {
	DossierID string `json:"dossier_id"`
	DeviceID  string `json:"device_id"`
	Filename  string `json:"filename"`
	Location  string `json:"location"`
}

// Extraction is a watch root on disk with helpers to drop files into the
// dossier/database/whatsapp/device/session layout.
type Extraction struct {
	t       testing.TB
	Root    string
	Dossier string
	Device  string
}

// NewExtraction creates an empty watch root in a temp directory.
func NewExtraction(t testing.TB) *Extraction {
	t.Helper()

	return &Extraction{
		t:       t,
		Root:    t.TempDir(),
		Dossier: DefaultDossier,
		Device:  DefaultDevice,
	}
}

// DeviceDir returns the device directory of the fixture.
func (e *Extraction) DeviceDir() string {
	return filepath.Join(e.Root, e.Dossier, "database", "whatsapp", e.Device)
}

// SessionDir returns the directory of one extraction session.
func (e *Extraction) SessionDir(session string) string {
	return filepath.Join(e.DeviceDir(), session)
}

// DataPath returns the path of a database file without creating it.
func (e *Extraction) DataPath(session, name string) string {
	return filepath.Join(e.SessionDir(session), name)
}

// MetadataPath returns the sidecar path of a database file without creating it.
func (e *Extraction) MetadataPath(session, name string) string {
	return filepath.Join(e.SessionDir(session), "metadata", name+".json")
}

// WriteData creates a database file with placeholder content.
func (e *Extraction) WriteData(session, name string) string {
	e.t.Helper()

	path := e.DataPath(session, name)
	e.write(path, []byte("SQLite format 3\x00"))

	return path
}

// WriteMetadata writes a sidecar with the fixture's identity.
func (e *Extraction) WriteMetadata(session, name, filename, location string) string {
	e.t.Helper()

	return e.WriteMetadataRecord(session, name, Metadata{
		DossierID: e.Dossier,
		DeviceID:  e.Device,
		Filename:  filename,
		Location:  location,
	})
}

// WriteMetadataRecord writes an arbitrary sidecar document.
func (e *Extraction) WriteMetadataRecord(session, name string, m Metadata) string {
	e.t.Helper()

	data, err := json.Marshal(m)
	if err != nil {
		e.t.Fatalf("marshaling metadata: %v", err)
	}

	path := e.MetadataPath(session, name)
	e.write(path, data)

	return path
}

// WriteRawMetadata writes sidecar bytes verbatim, for malformed documents.
func (e *Extraction) WriteRawMetadata(session, name string, raw []byte) string {
	e.t.Helper()

	path := e.MetadataPath(session, name)
	e.write(path, raw)

	return path
}

// Pair is one database with its sidecar.
type Pair struct {
	Data     string
	Metadata string
}

// WritePair creates a database file and its sidecar. The sidecar filename
// field is derived from the name suffix: "x-msgstore.db" yields "msgstore.db".
func (e *Extraction) WritePair(session, name, location string) Pair {
	e.t.Helper()

	return Pair{
		Data:     e.WriteData(session, name),
		Metadata: e.WriteMetadata(session, name, KindOf(name), location),
	}
}

// Dataset is the four files of one complete fixture dataset.
type Dataset struct {
	MsgStore Pair
	Contacts Pair
}

// Paths returns the four member paths in creation order.
func (d Dataset) Paths() []string {
	return []string{d.MsgStore.Data, d.MsgStore.Metadata, d.Contacts.Data, d.Contacts.Metadata}
}

// WriteDataset creates a complete dataset split over two sessions.
func (e *Extraction) WriteDataset(msgSession, waSession, location string) Dataset {
	e.t.Helper()

	return Dataset{
		MsgStore: e.WritePair(msgSession, "1-msgstore.db", location),
		Contacts: e.WritePair(waSession, "1-wa.db", location),
	}
}

// PlanDataset returns the paths of a dataset without creating anything.
func (e *Extraction) PlanDataset(msgSession, waSession string) Dataset {
	return Dataset{
		MsgStore: Pair{
			Data:     e.DataPath(msgSession, "1-msgstore.db"),
			Metadata: e.MetadataPath(msgSession, "1-msgstore.db"),
		},
		Contacts: Pair{
			Data:     e.DataPath(waSession, "1-wa.db"),
			Metadata: e.MetadataPath(waSession, "1-wa.db"),
		},
	}
}

// Lock places a lock marker in dir and returns its path.
func (e *Extraction) Lock(dir, lockName string) string {
	e.t.Helper()

	path := filepath.Join(dir, lockName)
	e.write(path, nil)

	return path
}

// Remove deletes path, failing the test on error.
func (e *Extraction) Remove(path string) {
	e.t.Helper()

	if err := os.Remove(path); err != nil {
		e.t.Fatalf("removing %s: %v", path, err)
	}
}

func (e *Extraction) write(path string, data []byte) {
	e.t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		e.t.Fatalf("creating %s: %v", filepath.Dir(path), err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		e.t.Fatalf("writing %s: %v", path, err)
	}
}

// KindOf returns the sidecar filename value matching a database name.
func KindOf(name string) string {
	if strings.HasSuffix(strings.ToLower(name), "-wa.db") {
		return "wa.db"
	}

	return "msgstore.db"
}

// FindModuleRoot walks up from the current directory to find go.mod.
// Returns the fallback if the root is not found.
func FindModuleRoot(fallback string) string {
	dir, err := os.Getwd()
	if err != nil {
		return fallback
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return fallback
		}

		dir = parent
	}
}
