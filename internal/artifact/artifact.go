// Package artifact classifies paths inside the watched extraction tree. It
// knows the directory convention
//
//	{dossier}/database/whatsapp/{device}/{session}/{name}-msgstore.db
//	{dossier}/database/whatsapp/{device}/{session}/metadata/{name}-msgstore.db.json
//
// and the two database kinds, and derives a file's counterpart path. Every
// function here is pure: nothing touches the filesystem.
package artifact

import (
	"path/filepath"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
	"golang.org/x/text/unicode/norm"
)

// Fixed path segments of the extraction layout.
const (
	segmentDatabase = "database"
	segmentWhatsApp = "whatsapp"
	MetadataDir     = "metadata"
	MetadataSuffix  = ".json"
)

// Segment counts of the three accepted shapes, relative to the watch root.
const (
	deviceLevelParts   = 5 // dossier/database/whatsapp/device/LOCK
	sessionLevelParts  = 6 // .../device/session/file
	metadataLevelParts = 7 // .../device/session/metadata/file.json
)

// DBKind names one of the two paired databases. The string value is exactly
// what a metadata sidecar carries in its "filename" field.
type DBKind string

// The two database kinds of a dataset.
const (
	MsgStore DBKind = "msgstore.db"
	Contacts DBKind = "wa.db"
)

// Other returns the kind a dataset pairs with k. Unknown kinds return "".
func (k DBKind) Other() DBKind {
	switch k {
	case MsgStore:
		return Contacts
	case Contacts:
		return MsgStore
	default:
		return ""
	}
}

// Valid reports whether k is one of the two known kinds.
func (k DBKind) Valid() bool {
	return k == MsgStore || k == Contacts
}

// suffix is the case-insensitive data file name suffix for the kind.
func (k DBKind) suffix() string {
	return "-" + string(k)
}

// ParseDBKind maps a sidecar "filename" value to a DBKind.
func ParseDBKind(s string) (DBKind, bool) {
	k := DBKind(s)
	return k, k.Valid()
}

// Kind classifies a watched path.
type Kind int

// Classification tags.
const (
	KindUnknown Kind = iota
	KindData
	KindMetadata
	KindLock
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindMetadata:
		return "metadata"
	case KindLock:
		return "lock"
	default:
		return "unknown"
	}
}

// Scope is the dossier/device/session position of a path. Session is empty
// for a lock marker placed directly in the device directory.
type Scope struct {
	Dossier string
	Device  string
	Session string
}

// WatchedFile is the classification of one path. It is re-derived from the
// path string on every event and never stored.
type WatchedFile struct {
	Path  string
	Kind  Kind
	DB    DBKind // set for data and metadata files
	Scope Scope
}

// Classifier holds the configuration classification depends on: the watch
// root, the lock marker file name and optional ignore patterns.
type Classifier struct {
	root     string
	lockName string
	ignore   *ignore.GitIgnore
}

// NewClassifier returns a Classifier for the given watch root and lock name.
func NewClassifier(root, lockName string) *Classifier {
	return &Classifier{
		root:     Normalize(root),
		lockName: lockName,
	}
}

// WithIgnore excludes paths matching any of the gitignore-style patterns,
// evaluated relative to the watch root. Excluded paths are not watched at
// all, lock markers included. It returns c for chaining.
func (c *Classifier) WithIgnore(patterns ...string) *Classifier {
	if len(patterns) == 0 {
		c.ignore = nil
		return c
	}

	c.ignore = ignore.CompileIgnoreLines(patterns...)

	return c
}

// Ignored reports whether path falls under an ignore pattern.
func (c *Classifier) Ignored(path string) bool {
	if c.ignore == nil {
		return false
	}

	rel, err := filepath.Rel(c.root, Normalize(path))
	if err != nil {
		return false
	}

	return c.ignore.MatchesPath(filepath.ToSlash(rel))
}

// Root returns the normalized watch root.
func (c *Classifier) Root() string {
	return c.root
}

// LockName returns the configured lock marker file name.
func (c *Classifier) LockName() string {
	return c.lockName
}

// IsLockFile reports whether the base name of path equals the lock marker
// name exactly.
func (c *Classifier) IsLockFile(path string) bool {
	return c.lockName != "" && filepath.Base(path) == c.lockName
}

// Match reports whether path is a watched file (data, metadata or lock).
func (c *Classifier) Match(path string) bool {
	_, ok := c.Classify(path)
	return ok
}

// Classify places path in the extraction layout. It returns false for any
// path outside the watch root or not matching one of the accepted shapes.
func (c *Classifier) Classify(path string) (WatchedFile, bool) {
	path = Normalize(path)

	rel, err := filepath.Rel(c.root, path)
	if err != nil {
		return WatchedFile{}, false
	}

	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) < deviceLevelParts || parts[0] == ".." {
		return WatchedFile{}, false
	}

	if parts[1] != segmentDatabase || parts[2] != segmentWhatsApp {
		return WatchedFile{}, false
	}

	if c.ignore != nil && c.ignore.MatchesPath(filepath.ToSlash(rel)) {
		return WatchedFile{}, false
	}

	wf := WatchedFile{
		Path:  path,
		Scope: Scope{Dossier: parts[0], Device: parts[3]},
	}
	name := parts[len(parts)-1]

	switch len(parts) {
	case deviceLevelParts:
		if !c.IsLockFile(name) {
			return WatchedFile{}, false
		}

		wf.Kind = KindLock

	case sessionLevelParts:
		wf.Scope.Session = parts[4]

		switch {
		case c.IsLockFile(name):
			wf.Kind = KindLock
		case IsDataFile(name):
			wf.Kind = KindData
			wf.DB, _ = DataKind(name)
		default:
			return WatchedFile{}, false
		}

	case metadataLevelParts:
		if parts[5] != MetadataDir || !IsMetadataFile(name) {
			return WatchedFile{}, false
		}

		wf.Scope.Session = parts[4]
		wf.Kind = KindMetadata
		wf.DB, _ = DataKind(name[:len(name)-len(MetadataSuffix)])

	default:
		return WatchedFile{}, false
	}

	return wf, true
}

// DeviceDir returns the absolute device directory for scope.
func (c *Classifier) DeviceDir(s Scope) string {
	return filepath.Join(c.root, s.Dossier, segmentDatabase, segmentWhatsApp, s.Device)
}

// SessionDir returns the absolute session directory for scope.
func (c *Classifier) SessionDir(s Scope) string {
	return filepath.Join(c.DeviceDir(s), s.Session)
}

// MetadataGlob returns the glob matching every sidecar below the device of
// scope, in any session.
func (c *Classifier) MetadataGlob(s Scope) string {
	return filepath.Join(c.DeviceDir(s), "*", MetadataDir, "*"+MetadataSuffix)
}

// LockPaths returns the marker paths that would lock wf, outermost first:
// the device directory marker and, when wf lives in a session, the session
// directory marker. A lock marker is never locked by itself.
func (c *Classifier) LockPaths(wf WatchedFile) []string {
	if wf.Kind == KindLock {
		return nil
	}

	paths := []string{filepath.Join(c.DeviceDir(wf.Scope), c.lockName)}
	if wf.Scope.Session != "" {
		paths = append(paths, filepath.Join(c.SessionDir(wf.Scope), c.lockName))
	}

	return paths
}

// IsDataFile reports whether the base name of path ends, case-insensitively,
// with one of the two database suffixes.
func IsDataFile(path string) bool {
	_, ok := DataKind(filepath.Base(path))
	return ok
}

// IsMetadataFile reports whether the base name of path is a sidecar name:
// a data file name followed by the metadata suffix.
func IsMetadataFile(path string) bool {
	name := filepath.Base(path)
	if !strings.HasSuffix(strings.ToLower(name), MetadataSuffix) {
		return false
	}

	return IsDataFile(name[:len(name)-len(MetadataSuffix)])
}

// DataKind returns the database kind a data file name denotes.
func DataKind(name string) (DBKind, bool) {
	lower := strings.ToLower(filepath.Base(name))

	for _, k := range []DBKind{MsgStore, Contacts} {
		if strings.HasSuffix(lower, k.suffix()) {
			return k, true
		}
	}

	return "", false
}

// MetadataPathFor inserts the metadata folder and appends the metadata
// suffix: s/x-wa.db becomes s/metadata/x-wa.db.json.
func MetadataPathFor(dataPath string) string {
	dir, name := filepath.Split(dataPath)
	return filepath.Join(dir, MetadataDir, name+MetadataSuffix)
}

// DataPathFor reverses MetadataPathFor. The suffix is stripped whatever its
// case; the rest of the name is preserved.
func DataPathFor(metaPath string) string {
	dir, name := filepath.Split(metaPath)
	if strings.HasSuffix(strings.ToLower(name), MetadataSuffix) {
		name = name[:len(name)-len(MetadataSuffix)]
	}

	return filepath.Join(filepath.Dir(filepath.Clean(dir)), name)
}

// Normalize cleans path and converts it to Unicode NFC so the same file
// always yields the same cache key regardless of how the filesystem or the
// copying tool encoded it.
func Normalize(path string) string {
	if path == "" {
		return ""
	}

	return norm.NFC.String(filepath.Clean(path))
}

// Split returns the (directory, file name) cache key of path.
func Split(path string) (dir, name string) {
	path = Normalize(path)
	return filepath.Dir(path), filepath.Base(path)
}
