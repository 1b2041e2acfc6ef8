package modulemanager

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// testModule is a scriptable Module for registry tests
type testModule struct {
	id   string
	name string
	core bool

	migrateErr error
	initErr    error

	migrated     bool
	inited       bool
	routesbound  bool
	shutdownSeen bool
}

func (m *testModule) ID() string   { return m.id }
func (m *testModule) Name() string { return m.name }
func (m *testModule) Core() bool   { return m.core }

func (m *testModule) Migrate(db *gorm.DB) error {
	m.migrated = true
	return m.migrateErr
}

func (m *testModule) Init() error {
	m.inited = true
	return m.initErr
}

func (m *testModule) RegisterRoutes(router *gin.Engine) {
	m.routesbound = true
}

func (m *testModule) Shutdown(ctx context.Context) error {
	m.shutdownSeen = true
	return nil
}

func newRegistry() *ModuleRegistry {
	return &ModuleRegistry{
		modules:         make(map[string]Module),
		disabledModules: make(map[string]bool),
	}
}

func TestModuleRegistry_RegisterAndGet(t *testing.T) {
	r := newRegistry()
	mod := &testModule{id: "system.test", name: "Test"}
	r.Register(mod)

	got, ok := r.GetModule("system.test")
	require.True(t, ok)
	assert.Same(t, Module(mod), got)

	_, ok = r.GetModule("system.absent")
	assert.False(t, ok)
	assert.Len(t, r.ListModules(), 1)
}

func TestModuleRegistry_LoadAllMigratesAndInits(t *testing.T) {
	r := newRegistry()
	mod := &testModule{id: "system.test", name: "Test"}
	r.Register(mod)

	require.NoError(t, r.LoadAll(nil))
	assert.True(t, mod.migrated)
	assert.True(t, mod.inited)

	// Second LoadAll is a no-op
	mod.inited = false
	require.NoError(t, r.LoadAll(nil))
	assert.False(t, mod.inited)
}

func TestModuleRegistry_LoadAllPropagatesFailures(t *testing.T) {
	r := newRegistry()
	r.Register(&testModule{id: "system.bad", name: "Bad", initErr: errors.New("boom")})

	err := r.LoadAll(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Bad")
}

func TestModuleRegistry_DisabledModuleSkipped(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "stagepass-modules.yml"),
		[]byte("modules:\n  disabled:\n    - system.optional\n"), 0o644))
	t.Setenv("DATA_DIR", dir)

	r := newRegistry()
	optional := &testModule{id: "system.optional", name: "Optional"}
	kept := &testModule{id: "system.kept", name: "Kept"}
	r.Register(optional)
	r.Register(kept)

	require.NoError(t, r.LoadAll(nil))
	assert.False(t, optional.inited)
	assert.True(t, kept.inited)
}

func TestModuleRegistry_DisablingCoreModuleFails(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "stagepass-modules.yml"),
		[]byte("modules:\n  disabled:\n    - system.core\n"), 0o644))
	t.Setenv("DATA_DIR", dir)

	r := newRegistry()
	r.Register(&testModule{id: "system.core", name: "Core", core: true})

	err := r.LoadAll(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "core module")
}

func TestModuleRegistry_RegisterRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := newRegistry()
	mod := &testModule{id: "system.test", name: "Test"}
	r.Register(mod)

	r.RegisterRoutes(gin.New())
	assert.True(t, mod.routesbound)
}

func TestModuleRegistry_ShutdownAll(t *testing.T) {
	r := newRegistry()
	mod := &testModule{id: "system.test", name: "Test"}
	r.Register(mod)

	r.ShutdownAll(context.Background())
	assert.True(t, mod.shutdownSeen)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stagepass-modules.yml")
	require.NoError(t, os.WriteFile(path,
		[]byte("modules:\n  disabled:\n    - a\n    - b\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, cfg.Modules.Disabled)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yml"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Modules.Disabled)
}
