package logstore

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

func TestFileEngine_WriteFlush(t *testing.T) {
	dir := t.TempDir()
	clk := clocktesting.NewFakePassiveClock(time.Date(2026, 3, 14, 9, 30, 0, 0, time.Local))

	e := NewFileEngine(clk)
	require.NoError(t, e.Open(dir, slog.LevelInfo))
	defer e.Close()

	e.Write(slog.LevelDebug, "net", "dropped below level")
	e.Write(slog.LevelInfo, "net", "connected")
	e.Write(slog.LevelError, "db", "line1\nline2")
	require.NoError(t, e.Flush())

	data, err := os.ReadFile(filepath.Join(dir, "app_20260314.log"))
	require.NoError(t, err)

	text := string(data)
	assert.Contains(t, text, "2026-03-14 09:30:00.000 I/net: connected\n")
	assert.Contains(t, text, "E/db: line1\n\tline2\n")
	assert.NotContains(t, text, "dropped below level")

	staged, err := os.ReadFile(filepath.Join(dir, CacheDirName, stagingName))
	require.NoError(t, err)
	assert.Empty(t, staged)
}

func TestFileEngine_DayRollover(t *testing.T) {
	dir := t.TempDir()
	clk := clocktesting.NewFakePassiveClock(time.Date(2026, 3, 14, 23, 59, 0, 0, time.Local))

	e := NewFileEngine(clk)
	require.NoError(t, e.Open(dir, slog.LevelDebug))
	defer e.Close()

	e.Write(slog.LevelInfo, "t", "before midnight")
	require.NoError(t, e.Flush())

	clk.SetTime(clk.Now().Add(2 * time.Minute))
	e.Write(slog.LevelInfo, "t", "after midnight")
	require.NoError(t, e.Flush())

	files, err := Files(dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "app_20260314.log", filepath.Base(files[0]))
	assert.Equal(t, "app_20260315.log", filepath.Base(files[1]))
}

func TestFileEngine_RecoversStagedLines(t *testing.T) {
	dir := t.TempDir()
	clk := clocktesting.NewFakePassiveClock(time.Date(2026, 1, 2, 8, 0, 0, 0, time.Local))

	cache := filepath.Join(dir, CacheDirName)
	require.NoError(t, os.MkdirAll(cache, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cache, stagingName), []byte("left over\n"), 0o644))

	e := NewFileEngine(clk)
	require.NoError(t, e.Open(dir, slog.LevelInfo))
	defer e.Close()

	data, err := os.ReadFile(filepath.Join(dir, "app_20260102.log"))
	require.NoError(t, err)
	assert.Equal(t, "left over\n", string(data))
}

func TestFileEngine_SetLevelAndClose(t *testing.T) {
	dir := t.TempDir()
	e := NewFileEngine(nil)

	assert.ErrorIs(t, e.Flush(), ErrNotOpen)
	assert.Equal(t, "", e.CacheDir())

	require.NoError(t, e.Open(dir, slog.LevelInfo))
	assert.Equal(t, dir, e.Dir())
	assert.Equal(t, filepath.Join(dir, "cache"), e.CacheDir())

	e.SetLevel(slog.LevelError)
	e.Write(slog.LevelWarn, "t", "filtered")
	e.Write(slog.LevelError, "t", "kept")

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	// Writes after Close are dropped silently.
	e.Write(slog.LevelError, "t", "late")

	files, err := Files(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(data), "E/t: kept\n"))
	assert.NotContains(t, string(data), "filtered")
	assert.NotContains(t, string(data), "late")
}

func TestFiles_MissingDir(t *testing.T) {
	files, err := Files(filepath.Join(t.TempDir(), "nope"))
	assert.NoError(t, err)
	assert.Empty(t, files)
}
