package dynamake

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// TestModeQuantum, when non-zero, is the resolution FormatMTime rounds
// timestamps to before serialization. Rounding is the only adjustment made:
// distinct times that fall within one quantum format identically.
var TestModeQuantum time.Duration

// RequiredEntry records one required path's producer and modification time
// inside a persisted action.
type RequiredEntry struct {
	Producer string `yaml:"producer"`
	MTime    string `yaml:"mtime,omitempty"`

	mtimeNS int64
}

// PersistentAction is one executed (or about-to-be-executed) action within
// an invocation's persisted log: which paths it required, the command it
// ran, and when it started/ended.
type PersistentAction struct {
	Required map[string]*RequiredEntry `yaml:"required,omitempty"`
	Command  []string                  `yaml:"command,omitempty"`
	Start    string                    `yaml:"start,omitempty"`
	End      string                    `yaml:"end,omitempty"`
}

// PersistentLog is the document written to
// <persistent_dir>/<canonical_name>.actions.yaml.
type PersistentLog struct {
	Actions []*PersistentAction `yaml:"actions"`
	Outputs []string            `yaml:"outputs"`
}

func persistPathFor(dir, canonicalName string) string {
	return filepath.Join(dir, canonicalName+".actions.yaml")
}

// LoadPersistentLog reads the log for canonicalName. A missing or malformed
// file is not an error the caller must handle specially: it returns (nil,
// nil), which callers treat as "force must-run mode".
func LoadPersistentLog(dir, canonicalName string) (*PersistentLog, error) {
	path := persistPathFor(dir, canonicalName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil
	}
	var log PersistentLog
	if err := yaml.Unmarshal(data, &log); err != nil {
		return nil, nil
	}
	return &log, nil
}

// SavePersistentLog writes log for canonicalName, creating intermediate
// directories as needed.
func SavePersistentLog(dir, canonicalName string, log *PersistentLog) error {
	path := persistPathFor(dir, canonicalName)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(log)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// RemovePersistentLog deletes canonicalName's log file and, if the
// containing directory is now empty, removes that directory too — the
// clean-slate reset a failed run leaves behind.
func RemovePersistentLog(dir, canonicalName string) error {
	path := persistPathFor(dir, canonicalName)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	parent := filepath.Dir(path)
	entries, err := os.ReadDir(parent)
	if err == nil && len(entries) == 0 {
		os.Remove(parent)
	}
	return nil
}

// FormatMTime renders a modification time with nanosecond precision,
// quantizing to TestModeQuantum first when it is set.
func FormatMTime(t time.Time) string {
	if TestModeQuantum > 0 {
		t = t.Round(TestModeQuantum)
	}
	return t.UTC().Format("2006-01-02 15:04:05.000000000")
}

// ParseMTime parses a timestamp produced by FormatMTime.
func ParseMTime(s string) (time.Time, error) {
	return time.Parse("2006-01-02 15:04:05.000000000", s)
}

// differentRequired compares two actions' required maps and reports the
// human-readable reasons they differ: added paths, removed paths, changed
// producers, changed mtimes (for non-exists-only paths — the caller passes
// existsOnly to suppress mtime comparison for those).
func differentRequired(oldAction, newAction *PersistentAction, existsOnly map[string]bool) []string {
	var reasons []string
	if oldAction == nil || newAction == nil {
		return []string{"action added"}
	}

	oldKeys := sortedKeys(oldAction.Required)
	newKeys := sortedKeys(newAction.Required)

	oldSet := map[string]bool{}
	for _, k := range oldKeys {
		oldSet[k] = true
	}
	newSet := map[string]bool{}
	for _, k := range newKeys {
		newSet[k] = true
	}

	for _, k := range newKeys {
		if !oldSet[k] {
			reasons = append(reasons, "required path added: "+k)
		}
	}
	for _, k := range oldKeys {
		if !newSet[k] {
			reasons = append(reasons, "required path removed: "+k)
		}
	}
	for _, k := range newKeys {
		if !oldSet[k] {
			continue
		}
		oldEntry := oldAction.Required[k]
		newEntry := newAction.Required[k]
		if oldEntry.Producer != newEntry.Producer {
			reasons = append(reasons, "producer changed for: "+k)
			continue
		}
		if existsOnly[k] {
			continue
		}
		if oldEntry.MTime != newEntry.MTime {
			reasons = append(reasons, "mtime changed for: "+k)
		}
	}
	return reasons
}

func sortedKeys(m map[string]*RequiredEntry) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// differentCommand reports whether two actions' command words differ.
func differentCommand(oldAction, newAction *PersistentAction) bool {
	if oldAction == nil || newAction == nil {
		return oldAction != newAction
	}
	if len(oldAction.Command) != len(newAction.Command) {
		return true
	}
	for i := range oldAction.Command {
		if oldAction.Command[i] != newAction.Command[i] {
			return true
		}
	}
	return false
}
