package broker

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cory-johannsen/skirmish/internal/config"
)

// Mode is one matchmaking category with a fixed group size.
type Mode struct {
	// ID is the identifier clients send, e.g. "3v3".
	ID string
	// TeamsPerSide is the player count per side.
	TeamsPerSide int
}

// RequiredCount returns the group size needed to start a match.
func (m Mode) RequiredCount() int {
	return 2 * m.TeamsPerSide
}

// ModeSet is the static catalog of known matchmaking modes.
// Not mutated after construction.
type ModeSet struct {
	modes map[string]Mode
	order []string
}

// NewModeSet builds a ModeSet from mode declarations.
//
// Precondition: every declaration must have a non-empty unique ID and
// TeamsPerSide >= 1.
// Postcondition: Returns a ModeSet or a non-nil error naming the violation.
func NewModeSet(decls []config.ModeConfig) (*ModeSet, error) {
	if len(decls) == 0 {
		return nil, fmt.Errorf("mode catalog is empty")
	}
	s := &ModeSet{modes: make(map[string]Mode, len(decls))}
	for _, d := range decls {
		if d.ID == "" {
			return nil, fmt.Errorf("mode catalog entry has empty id")
		}
		if _, exists := s.modes[d.ID]; exists {
			return nil, fmt.Errorf("duplicate mode %q in catalog", d.ID)
		}
		if d.TeamsPerSide < 1 {
			return nil, fmt.Errorf("mode %q: teams_per_side must be >= 1, got %d", d.ID, d.TeamsPerSide)
		}
		s.modes[d.ID] = Mode{ID: d.ID, TeamsPerSide: d.TeamsPerSide}
		s.order = append(s.order, d.ID)
	}
	return s, nil
}

// Get returns the mode with the given identifier.
//
// Postcondition: Returns (mode, true) if found, or (zero, false) otherwise.
func (s *ModeSet) Get(id string) (Mode, bool) {
	m, ok := s.modes[id]
	return m, ok
}

// IDs returns all mode identifiers in declaration order.
func (s *ModeSet) IDs() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// String returns a human-readable catalog summary for startup logging.
func (s *ModeSet) String() string {
	parts := make([]string, 0, len(s.order))
	for _, id := range s.order {
		parts = append(parts, fmt.Sprintf("%s(%d)", id, s.modes[id].RequiredCount()))
	}
	return strings.Join(parts, ", ")
}

type modeCatalogFile struct {
	Modes []config.ModeConfig `yaml:"modes"`
}

// LoadCatalog reads a YAML mode catalog file.
//
// Precondition: path must be a readable YAML file with a top-level "modes" list.
// Postcondition: Returns the declared modes or a non-nil error.
func LoadCatalog(path string) ([]config.ModeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading mode catalog %s: %w", path, err)
	}
	var file modeCatalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing mode catalog %s: %w", path, err)
	}
	if len(file.Modes) == 0 {
		return nil, fmt.Errorf("mode catalog %s declares no modes", path)
	}
	return file.Modes, nil
}
