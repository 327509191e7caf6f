package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys lists the valid keys per table. The empty table name holds
// the top-level keys.
var knownKeys = map[string][]string{
	"":        {"cache_dir", "lock_filename", "output_dir", "watch_dir"},
	"watch":   {"backend", "ignore", "poll_interval", "reconcile_attempts", "safety_scan_interval"},
	"export": {
		"command", "conversation_types", "max_per_minute", "min_free_space",
		"mode", "output_style", "timeout", "url", "work_dir",
	},
	"logging": {"log_format", "log_level"},
	"metrics": {"listen_addr"},
}

// knownTables is the sorted list of table names for suggestions.
var knownTables = func() []string {
	var tables []string

	for t := range knownKeys {
		if t != "" {
			tables = append(tables, t)
		}
	}

	sort.Strings(tables)

	return tables
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	for _, key := range md.Undecoded() {
		errs = append(errs, unknownKeyError(key))
	}

	return errors.Join(errs...)
}

// unknownKeyError describes one undecoded key. A key inside a known table
// is matched against that table's keys; anything else is matched against
// both top-level keys and table names.
func unknownKeyError(key toml.Key) error {
	if len(key) >= 2 {
		if keys, ok := knownKeys[key[0]]; ok {
			return suggest(key.String(), key[len(key)-1], keys)
		}
	}

	candidates := append(append([]string(nil), knownKeys[""]...), knownTables...)

	return suggest(key.String(), key[0], candidates)
}

func suggest(full, leaf string, candidates []string) error {
	if s := closestMatch(leaf, candidates); s != "" {
		return fmt.Errorf("config: unknown key %q, did you mean %q?", full, s)
	}

	return fmt.Errorf("config: unknown key %q", full)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(strings.ToLower(unknown), k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
