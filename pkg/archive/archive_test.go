package archive

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"streamscraper/pkg/logger"
	"streamscraper/pkg/partition"
)

func writePartition(t *testing.T, w *partition.Writer, day time.Time, lines ...string) {
	t.Helper()
	for _, line := range lines {
		_, err := w.Append([]byte(line), day)
		require.NoError(t, err)
	}
}

func TestCompressFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "streaming_data--2024-01-01.json")
	content := strings.Repeat(`{"id":1,"text":"hello"}`+"\n", 500)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	a := New(Options{Logger: logger.NewNopLogger()})
	target, err := a.CompressFile(path)
	require.NoError(t, err)
	assert.Equal(t, path+partition.ArchiveSuffix, target)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "original should be removed")

	r, err := Open(target)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, content, string(data))

	fi, err := os.Stat(target)
	require.NoError(t, err)
	assert.Less(t, fi.Size(), int64(len(content)))
}

func TestCompressFileKeepsOriginal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "streaming_data--2024-01-01.json")
	require.NoError(t, os.WriteFile(path, []byte("a\nb\n"), 0644))

	a := New(Options{KeepOriginals: true, Logger: logger.NewNopLogger()})
	_, err := a.CompressFile(path)
	require.NoError(t, err)

	_, err = os.Stat(path)
	assert.NoError(t, err)

	_, err = a.CompressFile(path)
	assert.Error(t, err, "existing archive must not be overwritten")
}

func TestSweepSkipsCurrentPartition(t *testing.T) {
	dir := t.TempDir()
	opts := partition.Options{Dir: dir, Location: time.UTC}
	w, err := partition.NewWriter(opts)
	require.NoError(t, err)

	day1 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)
	day3 := day2.Add(24 * time.Hour)
	writePartition(t, w, day1, `{"a":1}`)
	writePartition(t, w, day2, `{"a":2}`)
	writePartition(t, w, day3, `{"a":3}`)
	defer w.Close()

	a := New(Options{Logger: logger.NewNopLogger()})
	archived, err := a.Sweep(opts, w.CurrentKey())
	require.NoError(t, err)
	assert.Len(t, archived, 2)

	infos, err := partition.Scan(opts)
	require.NoError(t, err)
	byKey := map[string]bool{}
	for _, info := range infos {
		byKey[info.Key] = info.Compressed
	}
	assert.True(t, byKey["2024-01-01"])
	assert.True(t, byKey["2024-01-02"])
	assert.False(t, byKey["2024-01-03"])

	// nothing left to do on a second pass
	archived, err = a.Sweep(opts, w.CurrentKey())
	require.NoError(t, err)
	assert.Empty(t, archived)
}

func TestOpenPlainPartition(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.json")
	require.NoError(t, os.WriteFile(path, []byte("x\n"), 0644))

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "x\n", string(data))
}
