package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[project]
name = "greenhouse"
version = "0.1.0"

[vm]
stack-size = 32
variable-table-size = 16
step-limit = 10000

[repository]
size = 2048

[scheduler]
task-storage = 256
idle = "busy"

[timer]
period = "5ms"
storage = 128

[store]
path = "data/programs.db"

[log]
verbosity = 2
file = "brix.log"

[[fields]]
name = "temperature"
type = "float"
initial = 21.5

[[fields]]
name = "heater"
type = "bool"

[[programs]]
name = "thermostat"
source = "src/thermostat.pasm"
interval = "250ms"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Project.Name != "greenhouse" {
		t.Errorf("project name = %q, want greenhouse", m.Project.Name)
	}
	if m.VM.StackSize != 32 || m.VM.VariableTableSize != 16 || m.VM.StepLimit != 10000 {
		t.Errorf("vm = %+v", m.VM)
	}
	if m.Repository.Size != 2048 {
		t.Errorf("repository size = %d, want 2048", m.Repository.Size)
	}
	if m.Scheduler.TaskStorage != 256 || m.Scheduler.Idle != "busy" {
		t.Errorf("scheduler = %+v", m.Scheduler)
	}
	if d, _ := m.TimerPeriod(); d != 5*time.Millisecond {
		t.Errorf("timer period = %s, want 5ms", d)
	}
	if m.StorePath() != filepath.Join(m.Dir, "data", "programs.db") {
		t.Errorf("store path = %q", m.StorePath())
	}
	if lp := m.LogPath(); lp == nil || *lp != filepath.Join(m.Dir, "brix.log") {
		t.Errorf("log path = %v", lp)
	}
	if len(m.Fields) != 2 {
		t.Fatalf("fields count = %d, want 2", len(m.Fields))
	}
	if v, ok := m.Fields[0].Initial.(float64); !ok || v != 21.5 {
		t.Errorf("temperature initial = %v, want 21.5", m.Fields[0].Initial)
	}
	if len(m.Programs) != 1 {
		t.Fatalf("programs count = %d, want 1", len(m.Programs))
	}
	p := m.Programs[0]
	if d, _ := p.IntervalDuration(); d != 250*time.Millisecond {
		t.Errorf("interval = %s, want 250ms", d)
	}
	if m.SourcePath(p) != filepath.Join(m.Dir, "src", "thermostat.pasm") {
		t.Errorf("source path = %q", m.SourcePath(p))
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[project]
name = "minimal"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.VM.StackSize != DefaultStackSize {
		t.Errorf("stack size = %d, want %d", m.VM.StackSize, DefaultStackSize)
	}
	if m.Repository.Size != DefaultRepositorySize {
		t.Errorf("repository size = %d, want %d", m.Repository.Size, DefaultRepositorySize)
	}
	if m.Scheduler.Idle != "block" {
		t.Errorf("idle = %q, want block", m.Scheduler.Idle)
	}
	if d, _ := m.TimerPeriod(); d != 10*time.Millisecond {
		t.Errorf("timer period = %s, want 10ms", d)
	}
	if m.LogPath() != nil {
		t.Errorf("log path = %v, want nil", *m.LogPath())
	}
}

func TestLoadManifestInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"idle", "[scheduler]\nidle = \"sleep\"\n", "scheduler.idle"},
		{"period", "[timer]\nperiod = \"soon\"\n", "timer.period"},
		{"zero period", "[timer]\nperiod = \"0s\"\n", "positive"},
		{"slots", "[vm]\nvariable-table-size = 70000\n", "16-bit"},
		{"repository", "[repository]\nsize = 100000\n", "16-bit"},
		{"duplicate program", "[[programs]]\nname = \"a\"\n[[programs]]\nname = \"a\"\n", "twice"},
		{"interval", "[[programs]]\nname = \"a\"\ninterval = \"often\"\n", "interval"},
		{"syntax", "[project\n", "parse error"},
	}
	for _, tt := range tests {
		dir := t.TempDir()
		writeManifest(t, dir, tt.content)
		_, err := Load(dir)
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("%s: error = %v, want it to mention %q", tt.name, err, tt.want)
		}
	}
}

func TestFindAndLoad(t *testing.T) {
	// Create nested directory structure
	dir := t.TempDir()
	subDir := filepath.Join(dir, "a", "b", "c")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatal(err)
	}
	writeManifest(t, dir, `[project]
name = "found-project"
`)

	// Should find manifest when starting from a deep subdirectory
	m, err := FindAndLoad(subDir)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad returned nil")
	}
	if m.Project.Name != "found-project" {
		t.Errorf("project name = %q, want found-project", m.Project.Name)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	dir := t.TempDir()
	m, err := FindAndLoad(dir)
	if err != nil {
		t.Fatalf("FindAndLoad error: %v", err)
	}
	if m != nil {
		t.Error("expected nil manifest when no brix.toml exists")
	}
}

func TestDefault(t *testing.T) {
	m := Default("/app")
	if err := m.Validate(); err != nil {
		t.Fatalf("default manifest invalid: %v", err)
	}
	if m.StorePath() != "/app/.brix/programs.db" {
		t.Errorf("store path = %q", m.StorePath())
	}
	m.Store.Path = ":memory:"
	if m.StorePath() != ":memory:" {
		t.Errorf("memory store path = %q", m.StorePath())
	}
}
