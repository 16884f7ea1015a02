package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the explicit settings value handed to every component at
// construction. Nothing reads the environment after Load returns.
type Config struct {
	// Roster layout
	CharsDir  string `env:"CHARS_DIR" envDefault:"chars"`
	StagesDir string `env:"STAGES_DIR" envDefault:"stages"`

	// Engine + companion watcher
	EngineExe   string   `env:"ENGINE_EXE" envDefault:"mugen.exe"`
	EngineNames []string `env:"ENGINE_NAMES" envSeparator:"," envDefault:"mugen.exe,winmugen.exe,mugen"`
	WatcherExe  string   `env:"WATCHER_EXE" envDefault:"MugenWatcher.exe"`
	WatcherName string   `env:"WATCHER_NAME" envDefault:"MugenWatcher.exe"`
	ResultLog   string   `env:"RESULT_LOG" envDefault:"MugenWatcher.Log"`

	// Battle defaults
	Rounds      int `env:"ROUNDS" envDefault:"2"`
	MaxTeamSize int `env:"MAX_TEAM_SIZE" envDefault:"4"`

	// Timing
	PollInterval  time.Duration `env:"POLL_INTERVAL" envDefault:"500ms"`
	LaunchTimeout time.Duration `env:"LAUNCH_TIMEOUT" envDefault:"10s"`
	KillWait      time.Duration `env:"KILL_WAIT" envDefault:"3s"`
	RemoveRetries int           `env:"REMOVE_RETRIES" envDefault:"5"`
	RemoveDelay   time.Duration `env:"REMOVE_DELAY" envDefault:"200ms"`

	// Persistence
	StatsFile   string `env:"STATS_FILE" envDefault:"stats.json"`
	DatabaseURL string `env:"DATABASE_URL"`

	// HTTP snapshot API
	Port string `env:"PORT" envDefault:"8080"`

	// Optional roster file with enable/disable overrides.
	RosterFile string `env:"ROSTER_FILE" envDefault:"roster.yaml"`

	Roster Roster `env:"-"`
}

// Roster carries operator overrides from the roster YAML file. Entries listed
// under disabled are removed from the catalog before any selection.
type Roster struct {
	Combatants struct {
		Disabled []string `yaml:"disabled"`
	} `yaml:"combatants"`
	Arenas struct {
		Disabled []string `yaml:"disabled"`
	} `yaml:"arenas"`
}

// Load parses the environment and, when present, overlays the roster file.
// A missing roster file is not an error; a malformed one is.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.RosterFile != "" {
		b, err := os.ReadFile(cfg.RosterFile)
		if err == nil {
			if err := yaml.Unmarshal(b, &cfg.Roster); err != nil {
				return Config{}, fmt.Errorf("roster file %s: %w", cfg.RosterFile, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("roster file %s: %w", cfg.RosterFile, err)
		}
	}
	return cfg, nil
}

// Enabled filters names against a disabled list, preserving order.
func Enabled(names, disabled []string) []string {
	if len(disabled) == 0 {
		return names
	}
	skip := make(map[string]struct{}, len(disabled))
	for _, d := range disabled {
		skip[d] = struct{}{}
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := skip[n]; !ok {
			out = append(out, n)
		}
	}
	return out
}
