package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"game-profile-engine/models"
	"game-profile-engine/schema"
	"game-profile-engine/services"
	"game-profile-engine/storage"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("LOCAL_DB_PATH", filepath.Join(dir, "local", "profiles.db"))
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REMOTE_URL", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("LOG_MODE", "development")
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestRootRejectsUnknownFormat(t *testing.T) {
	setupEnv(t)
	_, err := run(t, "inspect", "user-1", "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestExportCreatesSnapshotForNewPlayer(t *testing.T) {
	dir := setupEnv(t)
	out := filepath.Join(dir, "export.json")

	stdout, err := run(t, "export", "user-1", "--out", out)
	require.NoError(t, err)
	assert.Contains(t, stdout, "exported user-1")

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	var snap services.Snapshot
	require.NoError(t, json.Unmarshal(raw, &snap))
	assert.Equal(t, services.SnapshotFormat, snap.Format)
	assert.Equal(t, "user-1", snap.Profile.ID)
	assert.Equal(t, 1, snap.Profile.Level)
}

func TestImportThenInspect(t *testing.T) {
	dir := setupEnv(t)

	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	p := schema.RepairProfile(nil, "someone-else", now)
	p.XP = 1000
	p.Level = schema.LevelForXP(p.XP)
	p, _ = services.DefaultAchievementEngine().Apply(p)
	snap := services.Snapshot{Format: services.SnapshotFormat, Version: services.SnapshotVersion, ExportedAt: now, Profile: p}
	raw, err := json.Marshal(snap)
	require.NoError(t, err)
	file := filepath.Join(dir, "snap.json")
	require.NoError(t, os.WriteFile(file, raw, 0o600))

	stdout, err := run(t, "import", "user-2", file, "--format", "json")
	require.NoError(t, err)
	var imported models.Profile
	require.NoError(t, json.Unmarshal([]byte(stdout), &imported))
	assert.Equal(t, "user-2", imported.ID, "the id always comes from the signed-in player")
	assert.GreaterOrEqual(t, imported.XP, int64(1000))

	stdout, err = run(t, "inspect", "user-2", "--format", "json")
	require.NoError(t, err)
	var report InspectReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	require.Len(t, report.Tiers, 2, "no remote configured")
	assert.Equal(t, storage.TierLocal, report.Tiers[0].Tier)
	assert.True(t, report.Tiers[0].Valid)
	assert.False(t, report.Tiers[1].Present, "session tier does not outlive the process")
	assert.Equal(t, storage.TierLocal, report.Winner)
	require.NotNil(t, report.Profile)
	assert.Equal(t, imported.XP, report.Profile.XP)
	assert.NotEmpty(t, report.Snapshots)

	stdout, err = run(t, "inspect", "user-2")
	require.NoError(t, err)
	assert.Contains(t, stdout, "winner: local")
}

func TestImportRejectsGarbage(t *testing.T) {
	dir := setupEnv(t)
	file := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"format":"profile-export","version":1,"profile":{"id":3}}`), 0o600))

	_, err := run(t, "import", "user-3", file)
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrInvalidImport)
}

func TestRepair(t *testing.T) {
	setupEnv(t)

	_, err := run(t, "repair", "nobody")
	require.Error(t, err, "nothing exists for this player")

	_, err = run(t, "export", "user-4")
	require.NoError(t, err)

	stdout, err := run(t, "repair", "user-4", "--format", "json")
	require.NoError(t, err)
	var report RepairReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	assert.Equal(t, storage.TierLocal, report.Source)
	assert.False(t, report.RemoteSaved)
	assert.Empty(t, report.Error)
}
