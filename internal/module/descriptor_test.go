package module

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AetharaAI/lotus/internal/types"
)

const plannerManifest = `name: planner
type: capability
priority: high
dependencies:
  modules:
    - memory
subscriptions:
  - pattern: "agent.goal.*"
    handler: on_goal
publications:
  - agent.plan.created
hot_reloadable: true
`

func writeManifest(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDescriptorYAML(t *testing.T) {
	path := writeManifest(t, t.TempDir(), "planner.yaml", plannerManifest)

	desc, err := LoadDescriptor(path)
	require.NoError(t, err)

	assert.Equal(t, "planner", desc.Name)
	assert.Equal(t, TypeCapability, desc.Type)
	assert.Equal(t, PriorityHigh, desc.Priority)
	assert.Equal(t, []string{"memory"}, desc.Dependencies.Modules)
	require.Len(t, desc.Subscriptions, 1)
	assert.Equal(t, "agent.goal.*", desc.Subscriptions[0].Pattern)
	assert.Equal(t, "on_goal", desc.Subscriptions[0].Handler)
	assert.Equal(t, []string{"agent.plan.created"}, desc.Publications)
	assert.True(t, desc.HotReloadable)
	assert.Equal(t, path, desc.ManifestPath)
}

func TestLoadDescriptorJSON(t *testing.T) {
	path := writeManifest(t, t.TempDir(), "memory.json",
		`{"name":"memory","type":"core","priority":"critical"}`)

	desc, err := LoadDescriptor(path)
	require.NoError(t, err)
	assert.Equal(t, "memory", desc.Name)
	assert.Equal(t, TypeCore, desc.Type)
	assert.Equal(t, PriorityCritical, desc.Priority)
}

func TestLoadDescriptorErrors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name     string
		manifest string
		file     string
		wantCode types.ErrorCode
	}{
		{
			name:     "missing name",
			manifest: "type: core\npriority: normal\n",
			file:     "a.yaml",
			wantCode: types.MODULE_MANIFEST_INVALID,
		},
		{
			name:     "missing type",
			manifest: "name: thing\npriority: normal\n",
			file:     "b.yaml",
			wantCode: types.MODULE_MANIFEST_INVALID,
		},
		{
			name:     "invalid priority",
			manifest: "name: thing\ntype: core\npriority: urgent\n",
			file:     "c.yaml",
			wantCode: types.MODULE_MANIFEST_INVALID,
		},
		{
			name:     "self dependency",
			manifest: "name: thing\ntype: core\npriority: normal\ndependencies:\n  modules: [thing]\n",
			file:     "d.yaml",
			wantCode: types.MODULE_MANIFEST_INVALID,
		},
		{
			name:     "invalid subscription pattern",
			manifest: "name: thing\ntype: core\npriority: normal\nsubscriptions:\n  - pattern: \"a..b\"\n    handler: h\n",
			file:     "e.yaml",
			wantCode: types.MODULE_MANIFEST_INVALID,
		},
		{
			name:     "malformed yaml",
			manifest: "name: [unclosed\n",
			file:     "f.yaml",
			wantCode: types.MODULE_MANIFEST_INVALID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeManifest(t, dir, tt.file, tt.manifest)
			_, err := LoadDescriptor(path)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, types.CodeOf(err))
		})
	}
}

func TestLoadDescriptorNotFound(t *testing.T) {
	_, err := LoadDescriptor(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, types.MODULE_MANIFEST_NOT_FOUND, types.CodeOf(err))
}

func TestDiscoverDescriptors(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "planner.yaml", plannerManifest)
	writeManifest(t, dir, "memory.yml", "name: memory\ntype: core\npriority: critical\n")
	writeManifest(t, dir, "broken.yaml", "type: core\npriority: normal\n")
	writeManifest(t, dir, "notes.txt", "not a manifest")

	descs, failed, err := DiscoverDescriptors(dir)
	require.NoError(t, err)

	// One bad manifest fails only that module.
	require.Len(t, failed, 1)
	assert.Contains(t, failed, filepath.Join(dir, "broken.yaml"))

	require.Len(t, descs, 2)
	assert.Equal(t, "memory", descs[0].Name)
	assert.Equal(t, "planner", descs[1].Name)
}

func TestDiscoverDescriptorsMissingDir(t *testing.T) {
	_, _, err := DiscoverDescriptors(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}
