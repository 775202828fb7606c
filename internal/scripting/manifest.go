package scripting

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/cory-johannsen/partyserver/internal/config"
	"github.com/cory-johannsen/partyserver/internal/room"
)

// yamlManifestFile is the top-level YAML structure for game manifest files.
type yamlManifestFile struct {
	Game yamlGame `yaml:"game"`
}

// yamlGame is the YAML representation of one scripted game type.
type yamlGame struct {
	Name             string `yaml:"name"`
	Description      string `yaml:"description"`
	Script           string `yaml:"script"`
	Default          bool   `yaml:"default"`
	InstructionLimit int    `yaml:"instruction_limit"`
}

// Manifest describes a scripted game type.
type Manifest struct {
	// Name is the game type clients select with game_type.
	Name string
	// Description is free-form operator documentation.
	Description string
	// Script is the Lua file path, relative to the configured script root.
	Script string
	// Default marks this type as the one used when a create request omits one.
	Default bool
	// InstructionLimit overrides the configured per-hook opcode budget. 0
	// inherits the configured value.
	InstructionLimit int
}

// Validate checks manifest invariants.
//
// Postcondition: Returns nil if the manifest is valid, or an error describing
// all violations.
func (m Manifest) Validate() error {
	var errs []string
	if m.Name == "" {
		errs = append(errs, "game.name must not be empty")
	}
	if m.Script == "" {
		errs = append(errs, "game.script must not be empty")
	}
	if m.InstructionLimit < 0 {
		errs = append(errs, fmt.Sprintf("game.instruction_limit must be >= 0, got %d", m.InstructionLimit))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// LoadManifestFromBytes parses and validates a manifest from YAML bytes.
//
// Postcondition: Returns a validated Manifest or a non-nil error.
func LoadManifestFromBytes(data []byte) (Manifest, error) {
	var file yamlManifestFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Manifest{}, fmt.Errorf("parsing game manifest YAML: %w", err)
	}

	m := Manifest{
		Name:             file.Game.Name,
		Description:      file.Game.Description,
		Script:           file.Game.Script,
		Default:          file.Game.Default,
		InstructionLimit: file.Game.InstructionLimit,
	}
	if err := m.Validate(); err != nil {
		return Manifest{}, fmt.Errorf("validating game manifest: %w", err)
	}
	return m, nil
}

// LoadManifestFromFile reads and validates a single game manifest file.
func LoadManifestFromFile(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("reading game manifest %s: %w", path, err)
	}
	m, err := LoadManifestFromBytes(data)
	if err != nil {
		return Manifest{}, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// RegisterGameTypes loads every manifest in cfg.GamesDir and registers a
// scripted handler factory for each. Returns the number of game types
// registered. An empty GamesDir registers nothing.
//
// Precondition: types and logger must be non-nil.
// Postcondition: Every registered type's script file exists on disk.
func RegisterGameTypes(cfg config.ScriptingConfig, types *room.GameTypes, logger *zap.Logger) (int, error) {
	if cfg.GamesDir == "" {
		return 0, nil
	}

	entries, err := os.ReadDir(cfg.GamesDir)
	if err != nil {
		return 0, fmt.Errorf("reading games directory %s: %w", cfg.GamesDir, err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext == ".yaml" || ext == ".yml" {
			paths = append(paths, filepath.Join(cfg.GamesDir, entry.Name()))
		}
	}
	sort.Strings(paths)

	registered := 0
	for _, path := range paths {
		m, err := LoadManifestFromFile(path)
		if err != nil {
			return registered, err
		}

		scriptPath := filepath.Join(cfg.ScriptRoot, m.Script)
		if _, err := os.Stat(scriptPath); err != nil {
			return registered, fmt.Errorf("game %q: script %s: %w", m.Name, scriptPath, err)
		}

		limit := m.InstructionLimit
		if limit == 0 {
			limit = cfg.InstructionLimit
		}
		types.Register(m.Name, NewFactory(scriptPath, limit, logger))
		if m.Default {
			types.SetDefault(m.Name)
		}
		registered++

		logger.Info("game type registered",
			zap.String("name", m.Name),
			zap.String("script", scriptPath),
			zap.Bool("default", m.Default),
		)
	}
	return registered, nil
}
