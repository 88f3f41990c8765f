// Package config loads the sedx configuration backing the `config`
// subcommand: a layered merge of built-in defaults, a project-local
// one-shot TOML file, a user config file, and environment overrides.
// CLI flags are the final, highest-priority layer and are applied by
// the command tree on top of whatever this package returns.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	tomlparser "github.com/knadh/koanf/parsers/toml"
	kfile "github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"sedx/pkg/backup"
)

// Config holds every setting the config subcommand and the rest of the
// engine can be driven by, short of per-invocation CLI flags.
type Config struct {
	BackupDir          string `koanf:"backup_dir" toml:"backup_dir"`
	Flavor             string `koanf:"flavor" toml:"flavor"` // "pcre", "ere", or "bre"
	DiffContext        int    `koanf:"diff_context" toml:"diff_context"`
	NoContext          bool   `koanf:"no_context" toml:"no_context"`
	PruneMaxAgeDays    int    `koanf:"prune_max_age_days" toml:"prune_max_age_days"`
	PruneMaxCount      int    `koanf:"prune_max_count" toml:"prune_max_count"`
	StreamingThreshold int64  `koanf:"streaming_threshold" toml:"streaming_threshold"`
}

// Default returns sedx's built-in defaults: everything kept, PCRE
// flavor, a 3-line diff context, and the stream package's own
// size-based streaming threshold.
func Default() Config {
	return Config{
		BackupDir:          backup.DefaultDir(),
		Flavor:             "pcre",
		DiffContext:        3,
		NoContext:          false,
		PruneMaxAgeDays:    0,
		PruneMaxCount:      0,
		StreamingThreshold: 1 << 20,
	}
}

// ProjectLocalName is the one-shot, non-layered config file Load looks
// for in the current working directory before the layered merge runs.
const ProjectLocalName = ".sedxrc.toml"

// EnvConfigVar names the environment variable that overrides the
// layered user config file's location.
const EnvConfigVar = "SEDX_CONFIG"

// UserConfigPath returns the layered config file location: $SEDX_CONFIG
// if set, else ~/.sedx/config.toml.
func UserConfigPath() string {
	if p := os.Getenv(EnvConfigVar); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".sedx", "config.toml")
	}
	return filepath.Join(home, ".sedx", "config.toml")
}

// Load builds a Config by merging, in increasing priority:
//  1. Default()
//  2. ./.sedxrc.toml, read with a single burntsushi toml.Unmarshal call
//     if present in dir (dir may be "" for the current directory)
//  3. the layered user config file (UserConfigPath), via koanf
//  4. SEDX_* environment variables
func Load(dir string) (Config, error) {
	cfg := Default()

	localPath := filepath.Join(dir, ProjectLocalName)
	if data, err := os.ReadFile(localPath); err == nil {
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing %s: %w", localPath, err)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("reading %s: %w", localPath, err)
	}

	k := koanf.New(".")
	userPath := UserConfigPath()
	if _, err := os.Stat(userPath); err == nil {
		if err := k.Load(kfile.Provider(userPath), tomlparser.Parser()); err != nil {
			return Config{}, fmt.Errorf("loading %s: %w", userPath, err)
		}
		if err := k.Unmarshal("", &cfg); err != nil {
			return Config{}, fmt.Errorf("unmarshaling %s: %w", userPath, err)
		}
	}

	if err := k.Load(envProvider{}, nil); err != nil {
		return Config{}, fmt.Errorf("loading environment overrides: %w", err)
	}
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshaling environment overrides: %w", err)
	}

	return cfg, nil
}

// PrunePolicy converts the config's prune settings into a
// backup.Policy.
func (c Config) PrunePolicy() backup.Policy {
	var maxAge time.Duration
	if c.PruneMaxAgeDays > 0 {
		maxAge = time.Duration(c.PruneMaxAgeDays) * 24 * time.Hour
	}
	return backup.Policy{MaxAge: maxAge, MaxCount: c.PruneMaxCount}
}

// envProvider is a minimal koanf.Provider reading SEDX_*-prefixed
// environment variables. The pack's koanf usage only pulls in
// providers/file and parsers/toml, not providers/env, so this
// implements koanf's documented Provider interface directly rather
// than adding a dependency nothing in the pack grounds.
type envProvider struct{}

var envKeys = map[string]string{
	"SEDX_BACKUP_DIR":           "backup_dir",
	"SEDX_FLAVOR":               "flavor",
	"SEDX_DIFF_CONTEXT":         "diff_context",
	"SEDX_NO_CONTEXT":           "no_context",
	"SEDX_PRUNE_MAX_AGE_DAYS":   "prune_max_age_days",
	"SEDX_PRUNE_MAX_COUNT":      "prune_max_count",
	"SEDX_STREAMING_THRESHOLD":  "streaming_threshold",
}

func (envProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("envProvider does not support ReadBytes")
}

func (envProvider) Read() (map[string]interface{}, error) {
	out := map[string]interface{}{}
	for env, key := range envKeys {
		v, ok := os.LookupEnv(env)
		if !ok {
			continue
		}
		switch key {
		case "diff_context", "prune_max_age_days", "prune_max_count":
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("%s: expected an integer, got %q", env, v)
			}
			out[key] = n
		case "streaming_threshold":
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%s: expected an integer, got %q", env, v)
			}
			out[key] = n
		case "no_context":
			out[key] = strings.EqualFold(v, "true") || v == "1"
		default:
			out[key] = v
		}
	}
	return out, nil
}
