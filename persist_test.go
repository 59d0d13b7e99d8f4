package dynamake

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPersistentLogRoundTrip(t *testing.T) {
	dir := t.TempDir()
	name := "rule#x=1"

	log := &PersistentLog{
		Actions: []*PersistentAction{
			{
				Required: map[string]*RequiredEntry{
					"in.txt": {Producer: "", MTime: "2026-01-01 00:00:00.000000000"},
				},
				Command: []string{"touch", "out.txt"},
				Start:   "2026-01-01 00:00:00.000000000",
				End:     "2026-01-01 00:00:01.000000000",
			},
		},
		Outputs: []string{"out.txt"},
	}

	if err := SavePersistentLog(dir, name, log); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadPersistentLog(dir, name)
	if err != nil {
		t.Fatal(err)
	}
	if loaded == nil {
		t.Fatal("LoadPersistentLog returned nil for a log that was just saved")
	}
	if len(loaded.Actions) != 1 || loaded.Actions[0].Command[1] != "out.txt" {
		t.Errorf("round-tripped log mismatch: %+v", loaded)
	}
	if loaded.Outputs[0] != "out.txt" {
		t.Errorf("round-tripped outputs mismatch: %+v", loaded.Outputs)
	}
}

func TestLoadPersistentLogMissingIsNilNotError(t *testing.T) {
	dir := t.TempDir()
	log, err := LoadPersistentLog(dir, "never#written")
	if err != nil {
		t.Fatalf("expected no error for a missing log, got %v", err)
	}
	if log != nil {
		t.Errorf("expected nil log, got %+v", log)
	}
}

func TestRemovePersistentLogCleansEmptyDir(t *testing.T) {
	dir := t.TempDir()
	name := "nested/rule#x=1"

	SavePersistentLog(dir, name, &PersistentLog{})
	if err := RemovePersistentLog(dir, name); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadPersistentLog(dir, name); err != nil {
		t.Fatal(err)
	}
	nestedDir := filepath.Join(dir, "nested")
	if _, err := LoadPersistentLog(nestedDir, "rule#x=1"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(nestedDir); !os.IsNotExist(err) {
		t.Errorf("directory %q still present after removing its only log (stat err = %v)", nestedDir, err)
	}
}

func TestDifferentCommandDetectsChange(t *testing.T) {
	a := &PersistentAction{Command: []string{"echo", "1"}}
	b := &PersistentAction{Command: []string{"echo", "2"}}
	if !differentCommand(a, b) {
		t.Error("differentCommand() = false, want true")
	}
	if differentCommand(a, a) {
		t.Error("differentCommand(a, a) = true, want false")
	}
}

func TestDifferentRequiredReportsAddedAndRemoved(t *testing.T) {
	old := &PersistentAction{Required: map[string]*RequiredEntry{
		"a.txt": {Producer: ""},
	}}
	next := &PersistentAction{Required: map[string]*RequiredEntry{
		"b.txt": {Producer: ""},
	}}
	reasons := differentRequired(old, next, nil)
	if len(reasons) != 2 {
		t.Fatalf("differentRequired() = %v, want 2 reasons", reasons)
	}
}
