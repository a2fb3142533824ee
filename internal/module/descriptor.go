package module

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/AetharaAI/lotus/internal/bus"
	"github.com/AetharaAI/lotus/internal/types"
)

// ModuleType categorizes a module in its manifest.
type ModuleType string

const (
	TypeCore        ModuleType = "core"
	TypeCapability  ModuleType = "capability"
	TypeIntegration ModuleType = "integration"
)

// String returns the string representation of the ModuleType.
func (t ModuleType) String() string {
	return string(t)
}

// IsValid checks if the ModuleType is a valid enum value.
func (t ModuleType) IsValid() bool {
	switch t {
	case TypeCore, TypeCapability, TypeIntegration:
		return true
	default:
		return false
	}
}

// Priority is the load-order tiebreak class and the failure-policy selector:
// critical modules get bounded restarts, everything else is quarantined on
// first failure.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// String returns the string representation of the Priority.
func (p Priority) String() string {
	return string(p)
}

// IsValid checks if the Priority is a valid enum value.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow:
		return true
	default:
		return false
	}
}

// Rank maps priorities to sortable ranks; lower loads earlier among
// otherwise independent modules.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityNormal:
		return 2
	default:
		return 3
	}
}

// SubscriptionSpec declares one topic pattern a module wants delivered to a
// named handler.
type SubscriptionSpec struct {
	Pattern string `yaml:"pattern" json:"pattern"`
	Handler string `yaml:"handler" json:"handler"`
}

// DependencySpec holds the module's declared dependencies.
type DependencySpec struct {
	Modules []string `yaml:"modules" json:"modules"`
}

// Descriptor is a module's declarative contract, read from its manifest.
// Unknown manifest keys are ignored for forward compatibility; a missing
// required key is a load-time error for that module only.
type Descriptor struct {
	Name          string             `yaml:"name" json:"name"`
	Type          ModuleType         `yaml:"type" json:"type"`
	Priority      Priority           `yaml:"priority" json:"priority"`
	Dependencies  DependencySpec     `yaml:"dependencies" json:"dependencies"`
	Subscriptions []SubscriptionSpec `yaml:"subscriptions" json:"subscriptions"`
	Publications  []string           `yaml:"publications" json:"publications"`
	HotReloadable bool               `yaml:"hot_reloadable" json:"hot_reloadable"`

	// ManifestPath records where the descriptor was loaded from, so a hot
	// reload can re-read it. Empty for descriptors built in code.
	ManifestPath string `yaml:"-" json:"-"`
}

// Validate checks the required manifest keys and the declared subscriptions.
func (d *Descriptor) Validate() error {
	if d.Name == "" {
		return types.NewError(types.MODULE_MANIFEST_INVALID, "manifest is missing required key: name")
	}
	if !isValidModuleName(d.Name) {
		return types.NewError(types.MODULE_MANIFEST_INVALID,
			fmt.Sprintf("invalid module name %q (must contain only alphanumeric, dash, underscore)", d.Name))
	}
	if d.Type == "" {
		return types.NewError(types.MODULE_MANIFEST_INVALID,
			fmt.Sprintf("module %q manifest is missing required key: type", d.Name))
	}
	if !d.Type.IsValid() {
		return types.NewError(types.MODULE_MANIFEST_INVALID,
			fmt.Sprintf("module %q has invalid type %q (must be core, capability, or integration)", d.Name, d.Type))
	}
	if d.Priority == "" {
		return types.NewError(types.MODULE_MANIFEST_INVALID,
			fmt.Sprintf("module %q manifest is missing required key: priority", d.Name))
	}
	if !d.Priority.IsValid() {
		return types.NewError(types.MODULE_MANIFEST_INVALID,
			fmt.Sprintf("module %q has invalid priority %q", d.Name, d.Priority))
	}
	for i, sub := range d.Subscriptions {
		if sub.Pattern == "" || sub.Handler == "" {
			return types.NewError(types.MODULE_MANIFEST_INVALID,
				fmt.Sprintf("module %q subscription %d must declare both pattern and handler", d.Name, i))
		}
		if err := bus.ValidatePattern(sub.Pattern); err != nil {
			return types.WrapError(types.MODULE_MANIFEST_INVALID,
				fmt.Sprintf("module %q subscription %d has an invalid pattern", d.Name, i), err)
		}
	}
	for _, dep := range d.Dependencies.Modules {
		if dep == d.Name {
			return types.NewError(types.MODULE_MANIFEST_INVALID,
				fmt.Sprintf("module %q cannot depend on itself", d.Name))
		}
	}
	return nil
}

// LoadDescriptor reads and validates a single manifest file.
// YAML and JSON manifests are supported, selected by file extension.
func LoadDescriptor(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, types.NewError(types.MODULE_MANIFEST_NOT_FOUND, "manifest not found: "+path)
		}
		return nil, types.WrapError(types.MODULE_MANIFEST_INVALID, "failed to read manifest "+path, err)
	}

	var desc Descriptor
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &desc); err != nil {
			return nil, types.WrapError(types.MODULE_MANIFEST_INVALID, "failed to parse YAML manifest "+path, err)
		}
	case ".json":
		if err := json.Unmarshal(data, &desc); err != nil {
			return nil, types.WrapError(types.MODULE_MANIFEST_INVALID, "failed to parse JSON manifest "+path, err)
		}
	default:
		return nil, types.NewError(types.MODULE_MANIFEST_INVALID,
			fmt.Sprintf("unsupported manifest format %q (must be .yaml, .yml, or .json)", ext))
	}

	if err := desc.Validate(); err != nil {
		return nil, err
	}

	desc.ManifestPath = path
	return &desc, nil
}

// DiscoverDescriptors scans a directory (non-recursive) for manifests.
// A bad manifest fails only that module: valid descriptors are returned
// together with the per-file errors, sorted by name for determinism.
func DiscoverDescriptors(dir string) ([]*Descriptor, map[string]error, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, types.WrapError(types.CONFIG_LOAD_FAILED, "failed to read manifest directory "+dir, err)
	}

	var descs []*Descriptor
	failed := make(map[string]error)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".yaml", ".yml", ".json":
		default:
			continue
		}

		path := filepath.Join(dir, entry.Name())
		desc, err := LoadDescriptor(path)
		if err != nil {
			failed[path] = err
			continue
		}
		descs = append(descs, desc)
	}

	sort.Slice(descs, func(i, j int) bool { return descs[i].Name < descs[j].Name })
	return descs, failed, nil
}

// isValidModuleName checks a module name contains only alphanumerics,
// dashes, and underscores.
func isValidModuleName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_') {
			return false
		}
	}
	return true
}
