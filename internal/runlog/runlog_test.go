package runlog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppend(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("STOCKCAST_LOG_DIR", dir)

	require.NoError(t, Append(Entry{Ticker: "005930", Prediction: "Up", Action: "buy", RunID: 1, PUp: 0.7}))
	require.NoError(t, Append(Entry{Ticker: "000660", Prediction: "Abstain", Action: "skip", RunID: 1}))

	path := filepath.Join(dir, time.Now().UTC().Format("2006-01-02")+".txt")
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		entries = append(entries, e)
	}
	require.NoError(t, scanner.Err())

	require.Len(t, entries, 2)
	assert.Equal(t, "005930", entries[0].Ticker)
	assert.NotEmpty(t, entries[0].Time)
	assert.InDelta(t, 0.7, entries[0].PUp, 1e-9)
}

func TestCompressOlder(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("STOCKCAST_LOG_DIR", dir)

	old := filepath.Join(dir, "2025-01-02.txt")
	require.NoError(t, os.WriteFile(old, []byte("{}\n"), 0o644))
	oldTime := time.Now().AddDate(0, 0, -10)
	require.NoError(t, os.Chtimes(old, oldTime, oldTime))

	fresh := filepath.Join(dir, time.Now().UTC().Format("2006-01-02")+".txt")
	require.NoError(t, os.WriteFile(fresh, []byte("{}\n"), 0o644))

	require.NoError(t, CompressOlder(7))

	_, err := os.Stat(old)
	assert.True(t, os.IsNotExist(err), "aged file is replaced by its gzip")
	_, err = os.Stat(old + ".gz")
	assert.NoError(t, err)
	_, err = os.Stat(fresh)
	assert.NoError(t, err, "recent files are left alone")

	require.NoError(t, CompressOlder(0), "zero retention is a no-op")
}
