package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/depot/internal/model"
	"github.com/mesh-intelligence/depot/internal/store"
	"github.com/mesh-intelligence/depot/pkg/types"
)

type dirs struct {
	config string
	data   string
}

func newDirs(t *testing.T) dirs {
	t.Helper()
	t.Setenv("DEPOT_DATA_DIR", "")
	return dirs{config: filepath.Join(t.TempDir(), "cfg"), data: filepath.Join(t.TempDir(), "data")}
}

func execute(t *testing.T, d dirs, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config-dir", d.config, "--data-dir", d.data}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestInit_WritesConfigAndSchema(t *testing.T) {
	d := newDirs(t)
	out, err := execute(t, d, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Depot initialized in "+d.data)

	data, err := os.ReadFile(filepath.Join(d.config, configFileExt))
	require.NoError(t, err)
	assert.Contains(t, string(data), "driver: sqlite")
	assert.FileExists(t, filepath.Join(d.data, store.DatabaseFile))

	out, err = execute(t, d, "--json", "init")
	require.NoError(t, err)
	var info map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "sqlite", info["product"])
}

func TestLoadSettings_EnvironmentOverrides(t *testing.T) {
	d := newDirs(t)
	t.Setenv("DEPOT_NOTIFY_WORKERS", "9")
	t.Setenv("DEPOT_PEERS", "depot-b:8777 depot-c:8777")
	t.Setenv("DEPOT_KEY_STRATEGY", types.KeyStrategySequence)
	flags = rootFlags{configDir: d.config, dataDir: d.data}

	s, err := loadSettings()
	require.NoError(t, err)
	assert.Equal(t, 9, s.notifyWorkers)
	assert.Equal(t, []string{"depot-b:8777", "depot-c:8777"}, s.peers)
	assert.Equal(t, types.KeyStrategySequence, s.store.KeyStrategy)
	assert.Equal(t, DefaultListen, s.listen)
	assert.Equal(t, d.data, s.store.DataDir)
}

func TestLoadSettings_ConfigFile(t *testing.T) {
	d := newDirs(t)
	require.NoError(t, os.MkdirAll(d.config, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(d.config, configFileExt), []byte(
		"driver: sqlite\nlisten: 127.0.0.1:9000\nquery:\n  batch_size: 16\nlog:\n  level: warn\n"), 0o644))
	flags = rootFlags{configDir: d.config, dataDir: d.data}

	s, err := loadSettings()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", s.listen)
	assert.Equal(t, 16, s.queryBatchSize)

	require.NoError(t, os.WriteFile(filepath.Join(d.config, configFileExt), []byte("log:\n  level: loud\n"), 0o644))
	_, err = loadSettings()
	assert.Error(t, err)
	require.NoError(t, setupLogging("info", "text"))
}

func TestQuery_DumpAndSyncFromFile(t *testing.T) {
	ctx := context.Background()
	d := newDirs(t)
	_, err := execute(t, d, "init")
	require.NoError(t, err)

	b := store.NewBackend()
	require.NoError(t, b.Attach(types.Config{Driver: types.DriverSQLite, DataDir: d.data}))
	db, err := b.DB()
	require.NoError(t, err)
	suite := model.NewSuite(db)
	suite.GUID.SetValue("6b1f")
	suite.Name.SetValue("nightly")
	suite.Version.SetValue(3)
	require.NoError(t, suite.Save(ctx))
	require.NoError(t, b.Detach())

	out, err := execute(t, d, "query", "select name, version from Suite where version >= :v", "v=2")
	require.NoError(t, err)
	assert.Equal(t, "nightly\t3\n", out)

	out, err = execute(t, d, "--json", "query", "select name from Suite")
	require.NoError(t, err)
	var rows []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "nightly", rows[0]["name"])

	_, err = execute(t, d, "query", "select name from Nowhere")
	assert.Error(t, err)

	dump := filepath.Join(t.TempDir(), "depot.snapshot")
	_, err = execute(t, d, "dump", "--out", dump)
	require.NoError(t, err)

	other := newDirs(t)
	_, err = execute(t, other, "init")
	require.NoError(t, err)
	out, err = execute(t, other, "sync", "--file", dump)
	require.NoError(t, err)
	assert.Contains(t, out, "suiteRows\t1")

	out, err = execute(t, other, "query", "select guid from Suite")
	require.NoError(t, err)
	assert.Equal(t, "6b1f", strings.TrimSpace(out))

	_, err = execute(t, other, "sync")
	assert.Error(t, err, "sync needs a peer or a file")
}

func TestVersion(t *testing.T) {
	out, err := execute(t, newDirs(t), "version")
	require.NoError(t, err)
	assert.Contains(t, out, "depot v")
	assert.Contains(t, out, modulePath)
}
