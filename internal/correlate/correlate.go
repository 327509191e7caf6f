// Package correlate decides whether a newly observed file completes a
// dataset: two databases of different kinds plus their two metadata
// sidecars, tied together by a matching location. Correlation is
// re-evaluated from disk every time it is asked; nothing is remembered
// between calls.
package correlate

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/kuhnst-akros-ch/whatsapp-backup-chat-viewer/internal/artifact"
	"github.com/kuhnst-akros-ch/whatsapp-backup-chat-viewer/internal/metadata"
)

// Outcome explains a correlation result. Only Complete yields a dataset;
// every other outcome means "not yet" and is never fatal.
type Outcome int

// Correlation outcomes.
const (
	Complete Outcome = iota
	NotWatched
	NotFound
	MissingCounterpart
	CorruptMetadata
	KindMismatch
	NoCandidate
)

func (o Outcome) String() string {
	switch o {
	case Complete:
		return "complete"
	case NotWatched:
		return "not_watched"
	case NotFound:
		return "not_found"
	case MissingCounterpart:
		return "missing_counterpart"
	case CorruptMetadata:
		return "corrupt_metadata"
	case KindMismatch:
		return "kind_mismatch"
	case NoCandidate:
		return "no_candidate"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Dataset is the four-file unit handed to the export pipeline.
type Dataset struct {
	Scope        artifact.Scope
	Location     string
	MsgStore     string
	MsgStoreMeta string
	Contacts     string
	ContactsMeta string
}

// Members returns the four file paths of the dataset.
func (d Dataset) Members() []string {
	return []string{d.MsgStore, d.MsgStoreMeta, d.Contacts, d.ContactsMeta}
}

// Key identifies the dataset in logs and the dispatch log.
func (d Dataset) Key() string {
	return d.Scope.Dossier + "/" + d.Scope.Device + "/" + d.Location
}

// pair is one database with its sidecar.
type pair struct {
	kind     artifact.DBKind
	data     string
	meta     string
	metadata metadata.Record
}

// Correlator finds the dataset a file belongs to.
type Correlator struct {
	classifier *artifact.Classifier
	logger     *slog.Logger

	// Injectable for tests.
	readMeta func(path string) metadata.Result
	exists   func(path string) bool
	glob     func(pattern string) ([]string, error)
}

// New returns a Correlator over the classifier's watch tree.
func New(classifier *artifact.Classifier, logger *slog.Logger) *Correlator {
	return &Correlator{
		classifier: classifier,
		logger:     logger,
		readMeta: func(path string) metadata.Result {
			return metadata.Read(path, logger)
		},
		exists: fileExists,
		glob:   filepath.Glob,
	}
}

// Correlate evaluates the dataset completeness for a just-observed data or
// metadata file.
func (c *Correlator) Correlate(path string) (Dataset, Outcome) {
	wf, ok := c.classifier.Classify(path)
	if !ok || (wf.Kind != artifact.KindData && wf.Kind != artifact.KindMetadata) {
		return Dataset{}, NotWatched
	}

	if !c.exists(wf.Path) {
		c.logger.Debug("correlate: file does not exist", slog.String("path", wf.Path))
		return Dataset{}, NotFound
	}

	first, outcome := c.firstPair(wf)
	if outcome != Complete {
		return Dataset{}, outcome
	}

	second, outcome := c.findOtherPair(wf.Scope, first)
	if outcome != Complete {
		return Dataset{}, outcome
	}

	ds := Dataset{Scope: wf.Scope, Location: first.metadata.Location}
	for _, p := range []pair{first, second} {
		if p.kind == artifact.MsgStore {
			ds.MsgStore, ds.MsgStoreMeta = p.data, p.meta
		} else {
			ds.Contacts, ds.ContactsMeta = p.data, p.meta
		}
	}

	c.logger.Info("dataset complete",
		slog.String("dataset", ds.Key()),
		slog.String("msgstore", ds.MsgStore),
		slog.String("contacts", ds.Contacts),
	)

	return ds, Complete
}

// firstPair locates the direct counterpart of wf and reads the pair's
// sidecar. The sidecar must name the kind of the database it accompanies.
func (c *Correlator) firstPair(wf artifact.WatchedFile) (pair, Outcome) {
	p := pair{kind: wf.DB}

	if wf.Kind == artifact.KindData {
		p.data, p.meta = wf.Path, artifact.MetadataPathFor(wf.Path)
	} else {
		p.data, p.meta = artifact.DataPathFor(wf.Path), wf.Path
	}

	counterpart := p.meta
	if wf.Kind == artifact.KindMetadata {
		counterpart = p.data
	}

	if !c.exists(counterpart) {
		c.logger.Debug("correlate: counterpart missing",
			slog.String("path", wf.Path), slog.String("counterpart", counterpart))

		return pair{}, MissingCounterpart
	}

	res := c.readMeta(p.meta)
	if !res.OK() {
		c.logger.Debug("correlate: metadata not usable",
			slog.String("path", p.meta), slog.String("status", res.Status.String()))

		return pair{}, CorruptMetadata
	}

	kind, ok := artifact.ParseDBKind(res.Record.Filename)
	if !ok || kind != wf.DB {
		c.logger.Warn("correlate: metadata filename does not match its database",
			slog.String("path", p.meta),
			slog.String("filename", res.Record.Filename),
			slog.String("expected", string(wf.DB)),
		)

		return pair{}, KindMismatch
	}

	p.metadata = res.Record

	return p, Complete
}

// findOtherPair searches every session of the device for the sidecar of the
// other database kind with the same location and identity. Candidates are
// tried in lexicographic path order; the first acceptable one wins.
func (c *Correlator) findOtherPair(scope artifact.Scope, first pair) (pair, Outcome) {
	want := first.kind.Other()

	candidates, err := c.candidates(scope, want)
	if err != nil {
		c.logger.Warn("correlate: candidate search failed", slog.String("error", err.Error()))
		return pair{}, NoCandidate
	}

	var (
		accepted  pair
		found     bool
		ambiguous int
	)

	for _, cand := range candidates {
		res := c.readMeta(cand)
		if reason := rejectReason(res, first.metadata, want); reason != "" {
			c.logger.Debug("correlate: candidate rejected",
				slog.String("candidate", cand), slog.String("reason", reason))

			continue
		}

		if found {
			ambiguous++
			continue
		}

		accepted = pair{kind: want, data: artifact.DataPathFor(cand), meta: cand, metadata: res.Record}
		found = true
	}

	if !found {
		c.logger.Debug("correlate: no matching counterpart pair",
			slog.String("location", first.metadata.Location), slog.String("kind", string(want)))

		return pair{}, NoCandidate
	}

	if ambiguous > 0 {
		c.logger.Warn("correlate: several candidates match, using the first in path order",
			slog.String("chosen", accepted.meta),
			slog.Int("ignored", ambiguous),
		)
	}

	if !c.exists(accepted.data) {
		c.logger.Debug("correlate: database for matching sidecar missing",
			slog.String("metadata", accepted.meta), slog.String("data", accepted.data))

		return pair{}, MissingCounterpart
	}

	return accepted, Complete
}

// candidates returns the sorted sidecar paths of kind want below the device
// of scope.
func (c *Correlator) candidates(scope artifact.Scope, want artifact.DBKind) ([]string, error) {
	matches, err := c.glob(c.classifier.MetadataGlob(scope))
	if err != nil {
		return nil, fmt.Errorf("correlate: globbing metadata: %w", err)
	}

	var out []string

	for _, m := range matches {
		wf, ok := c.classifier.Classify(m)
		if !ok || wf.Kind != artifact.KindMetadata || wf.DB != want {
			continue
		}

		out = append(out, wf.Path)
	}

	sort.Strings(out)

	return out, nil
}

// rejectReason returns why a candidate sidecar cannot complete the dataset,
// or "" when it is acceptable.
func rejectReason(res metadata.Result, first metadata.Record, want artifact.DBKind) string {
	switch {
	case !res.OK():
		return "metadata " + res.Status.String()
	case res.Record.Location != first.Location:
		return "location mismatch"
	case res.Record.Filename != string(want):
		return "filename mismatch"
	case res.Record.DossierID != first.DossierID:
		return "dossier mismatch"
	case res.Record.DeviceID != first.DeviceID:
		return "device mismatch"
	default:
		return ""
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
