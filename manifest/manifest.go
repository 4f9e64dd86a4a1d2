// Package manifest handles brix.toml runtime configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// FileName is the name of the manifest file.
const FileName = "brix.toml"

// Defaults applied to zero values after decoding.
const (
	DefaultStackSize         = 64
	DefaultVariableTableSize = 256
	DefaultRepositorySize    = 4096
	DefaultTaskStorage       = 1024
	DefaultTimerStorage      = 512
	DefaultTimerPeriod       = "10ms"
	DefaultIdle              = "block"
	DefaultStorePath         = ".brix/programs.db"
)

// Manifest represents a brix.toml configuration.
type Manifest struct {
	Project    Project          `toml:"project"`
	VM         VMConfig         `toml:"vm"`
	Repository RepositoryConfig `toml:"repository"`
	Scheduler  SchedulerConfig  `toml:"scheduler"`
	Timer      TimerConfig      `toml:"timer"`
	Store      StoreConfig      `toml:"store"`
	Log        LogConfig        `toml:"log"`
	Fields     []Field          `toml:"fields"`
	Programs   []Program        `toml:"programs"`

	// Dir is the directory containing the brix.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// VMConfig sizes the interpreter.
type VMConfig struct {
	StackSize         int    `toml:"stack-size"`
	VariableTableSize int    `toml:"variable-table-size"`
	StepLimit         uint64 `toml:"step-limit"`
}

// RepositoryConfig sizes the program repository.
type RepositoryConfig struct {
	Size int `toml:"size"`
}

// SchedulerConfig configures the task scheduler.
type SchedulerConfig struct {
	TaskStorage int    `toml:"task-storage"`
	Idle        string `toml:"idle"`
}

// TimerConfig configures the tick source.
type TimerConfig struct {
	Period  string `toml:"period"`
	Storage int    `toml:"storage"`
}

// StoreConfig locates the program database.
type StoreConfig struct {
	Path string `toml:"path"`
}

// LogConfig configures logging.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Field declares a host field and its initial value.
type Field struct {
	Name    string `toml:"name"`
	Type    string `toml:"type"`
	Initial any    `toml:"initial"`
}

// Program names a program to load at startup. Source is an assembly file
// relative to the manifest; when empty the program is read from the store.
type Program struct {
	Name     string `toml:"name"`
	Source   string `toml:"source"`
	Interval string `toml:"interval"`
}

// Load parses a brix.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	m.applyDefaults()
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &m, nil
}

// Default returns a manifest with every default applied, rooted at dir.
func Default(dir string) *Manifest {
	m := &Manifest{Dir: dir}
	m.applyDefaults()
	return m
}

func (m *Manifest) applyDefaults() {
	if m.VM.StackSize == 0 {
		m.VM.StackSize = DefaultStackSize
	}
	if m.VM.VariableTableSize == 0 {
		m.VM.VariableTableSize = DefaultVariableTableSize
	}
	if m.Repository.Size == 0 {
		m.Repository.Size = DefaultRepositorySize
	}
	if m.Scheduler.TaskStorage == 0 {
		m.Scheduler.TaskStorage = DefaultTaskStorage
	}
	if m.Scheduler.Idle == "" {
		m.Scheduler.Idle = DefaultIdle
	}
	if m.Timer.Period == "" {
		m.Timer.Period = DefaultTimerPeriod
	}
	if m.Timer.Storage == 0 {
		m.Timer.Storage = DefaultTimerStorage
	}
	if m.Store.Path == "" {
		m.Store.Path = DefaultStorePath
	}
}

// Validate checks ranges and durations.
func (m *Manifest) Validate() error {
	if m.VM.StackSize < 0 || m.VM.VariableTableSize < 0 || m.Repository.Size < 0 ||
		m.Scheduler.TaskStorage < 0 || m.Timer.Storage < 0 {
		return fmt.Errorf("sizes must not be negative")
	}
	if m.VM.VariableTableSize > 1<<16 {
		return fmt.Errorf("vm.variable-table-size %d exceeds the 16-bit slot range", m.VM.VariableTableSize)
	}
	if m.Repository.Size > 1<<16 {
		return fmt.Errorf("repository.size %d exceeds the 16-bit address range", m.Repository.Size)
	}
	switch m.Scheduler.Idle {
	case "busy", "block":
	default:
		return fmt.Errorf("scheduler.idle %q: want busy or block", m.Scheduler.Idle)
	}
	if _, err := m.TimerPeriod(); err != nil {
		return err
	}
	seen := make(map[string]bool)
	for _, p := range m.Programs {
		if p.Name == "" {
			return fmt.Errorf("program without a name")
		}
		if seen[p.Name] {
			return fmt.Errorf("program %s listed twice", p.Name)
		}
		seen[p.Name] = true
		if _, err := p.IntervalDuration(); err != nil {
			return fmt.Errorf("program %s: %w", p.Name, err)
		}
	}
	return nil
}

// TimerPeriod returns the parsed tick period.
func (m *Manifest) TimerPeriod() (time.Duration, error) {
	d, err := time.ParseDuration(m.Timer.Period)
	if err != nil {
		return 0, fmt.Errorf("timer.period: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("timer.period must be positive")
	}
	return d, nil
}

// IntervalDuration returns the parsed run interval; zero means run once.
func (p Program) IntervalDuration() (time.Duration, error) {
	if p.Interval == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(p.Interval)
	if err != nil {
		return 0, fmt.Errorf("interval: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("interval must not be negative")
	}
	return d, nil
}

// FindAndLoad walks up from startDir to find a brix.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// StorePath returns the absolute path of the program database.
func (m *Manifest) StorePath() string {
	return m.resolve(m.Store.Path)
}

// LogPath returns the absolute log file path, or nil to log to stderr.
func (m *Manifest) LogPath() *string {
	if m.Log.File == "" {
		return nil
	}
	p := m.resolve(m.Log.File)
	return &p
}

// SourcePath returns the absolute path of a program's assembly source.
func (m *Manifest) SourcePath(p Program) string {
	return m.resolve(p.Source)
}

func (m *Manifest) resolve(p string) string {
	if p == ":memory:" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}
