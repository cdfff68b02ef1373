// Package scenario replays scripted client sessions against an in-memory
// display running the foreign registry.
//
// A scenario is a list of steps: clients connect, create windows, bind the
// exporter and importer globals, issue requests, change the window tree
// and assert on what each client has seen. Files are YAML or TOML.
package scenario

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxScenarioSize = 1 << 20

var (
	// ErrFormat is returned for files that are neither YAML nor TOML.
	ErrFormat = errors.New("unsupported scenario format")

	// ErrEmpty is returned for a scenario with no steps.
	ErrEmpty = errors.New("scenario has no steps")

	// ErrInvalidStep is returned when a step cannot be executed as written.
	ErrInvalidStep = errors.New("invalid step")
)

// Actions understood by the runner.
const (
	ActionConnect     = "connect"
	ActionDisconnect  = "disconnect"
	ActionWindow      = "window"
	ActionMap         = "map"
	ActionUnmap       = "unmap"
	ActionReparent    = "reparent"
	ActionBind        = "bind"
	ActionExport      = "export"
	ActionImport      = "import"
	ActionSetParentOf = "set_parent_of"
	ActionDestroy     = "destroy"
	ActionShutdown    = "shutdown"
	ActionExpect      = "expect"
)

// Scenario is a parsed scenario file.
type Scenario struct {
	Name        string `koanf:"name" toml:"name"`
	Description string `koanf:"description" toml:"description"`

	// Handles, when set, are handed out in order instead of random UUIDs
	// so output is reproducible.
	Handles []string `koanf:"handles" toml:"handles"`

	// MaxHandleAttempts overrides the registry's regeneration bound.
	MaxHandleAttempts int `koanf:"max_handle_attempts" toml:"max_handle_attempts"`

	Steps []Step `koanf:"steps" toml:"steps"`
}

// Step is one scripted action. Which fields apply depends on Action.
type Step struct {
	Action string `koanf:"action" toml:"action"`

	// Client names the client issuing the request or being inspected.
	Client string `koanf:"client" toml:"client"`
	// Name labels the object or window the step creates.
	Name string `koanf:"name" toml:"name"`
	// On names the object a request is sent on.
	On string `koanf:"on" toml:"on"`

	Interface string `koanf:"interface" toml:"interface"`
	Version   uint32 `koanf:"version" toml:"version"`

	Window string  `koanf:"window" toml:"window"`
	Role   string  `koanf:"role" toml:"role"`
	Opaque bool    `koanf:"opaque" toml:"opaque"`
	Parent *string `koanf:"parent" toml:"parent"`

	// Handle is a literal token to import. From names an export whose
	// handle is imported instead.
	Handle string `koanf:"handle" toml:"handle"`
	From   string `koanf:"from" toml:"from"`

	// Expectations.
	Event     string `koanf:"event" toml:"event"`
	Count     *int   `koanf:"count" toml:"count"`
	Linked    *bool  `koanf:"linked" toml:"linked"`
	Connected *bool  `koanf:"connected" toml:"connected"`
	Error     string `koanf:"error" toml:"error"`
	Children  *int   `koanf:"children" toml:"children"`
	Exported  *int   `koanf:"exported" toml:"exported"`
	Imported  *int   `koanf:"imported" toml:"imported"`
}

// Load reads a scenario file. The format is chosen by extension: .yaml
// and .yml are YAML, .toml is TOML.
func Load(path string) (*Scenario, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	if info.Size() > maxScenarioSize {
		return nil, fmt.Errorf("scenario %s exceeds %d bytes", path, maxScenarioSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	case ".toml":
		return ParseTOML(data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrFormat, filepath.Ext(path))
	}
}

// ParseYAML parses a YAML scenario.
func ParseYAML(data []byte) (*Scenario, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}

	var sc Scenario
	if err := k.Unmarshal("", &sc); err != nil {
		return nil, fmt.Errorf("decoding scenario: %w", err)
	}
	return &sc, sc.Validate()
}

// ParseTOML parses a TOML scenario.
func ParseTOML(data []byte) (*Scenario, error) {
	var sc Scenario
	md, err := toml.Decode(string(data), &sc)
	if err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("parsing scenario: unknown key %s", undecoded[0])
	}
	return &sc, sc.Validate()
}

// Validate checks the structure of every step. It does not resolve names;
// that happens as the scenario runs.
func (s *Scenario) Validate() error {
	if len(s.Steps) == 0 {
		return ErrEmpty
	}
	if s.MaxHandleAttempts < 0 {
		return fmt.Errorf("max_handle_attempts must be positive, got %d", s.MaxHandleAttempts)
	}
	for i, st := range s.Steps {
		if err := st.validate(); err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, st.Action, err)
		}
	}
	return nil
}

func (st Step) validate() error {
	need := func(field, val string) error {
		if val == "" {
			return fmt.Errorf("%w: %s is required", ErrInvalidStep, field)
		}
		return nil
	}

	switch st.Action {
	case ActionConnect, ActionDisconnect:
		return need("client", st.Client)
	case ActionWindow:
		return need("name", st.Name)
	case ActionMap, ActionUnmap, ActionReparent:
		return need("window", st.Window)
	case ActionBind:
		if err := need("client", st.Client); err != nil {
			return err
		}
		if err := need("name", st.Name); err != nil {
			return err
		}
		return need("interface", st.Interface)
	case ActionExport:
		if err := need("on", st.On); err != nil {
			return err
		}
		return need("window", st.Window)
	case ActionImport:
		if err := need("on", st.On); err != nil {
			return err
		}
		if st.Handle != "" && st.From != "" {
			return fmt.Errorf("%w: handle and from are mutually exclusive", ErrInvalidStep)
		}
		return nil
	case ActionSetParentOf:
		if err := need("on", st.On); err != nil {
			return err
		}
		return need("window", st.Window)
	case ActionDestroy:
		return need("on", st.On)
	case ActionShutdown:
		return nil
	case ActionExpect:
		if st.Event == "" && st.Linked == nil && st.Connected == nil && st.Error == "" &&
			st.Children == nil && st.Parent == nil && st.Exported == nil && st.Imported == nil {
			return fmt.Errorf("%w: expect asserts nothing", ErrInvalidStep)
		}
		return nil
	case "":
		return fmt.Errorf("%w: action is required", ErrInvalidStep)
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidStep, st.Action)
	}
}
