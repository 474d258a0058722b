package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func extTimeExtra(flags byte, secs uint32) []byte {
	payload := make([]byte, 5)
	payload[0] = flags
	binary.LittleEndian.PutUint32(payload[1:], secs)
	return extraField(extTimeTag, payload)
}

func extraField(tag uint16, payload []byte) []byte {
	b := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint16(b, tag)
	binary.LittleEndian.PutUint16(b[2:], uint16(len(payload)))
	copy(b[4:], payload)
	return b
}

func TestEntryModTime(t *testing.T) {
	coarse := time.Date(2023, 5, 12, 8, 30, 0, 0, time.Local)

	tests := []struct {
		name  string
		extra []byte
		want  int64
	}{
		{
			name:  "well-formed extended timestamp",
			extra: extTimeExtra(1, 1683900000),
			want:  1683900000,
		},
		{
			name:  "flag bit clear falls back",
			extra: extTimeExtra(0, 1683900000),
			want:  coarse.Unix(),
		},
		{
			name:  "no extra field falls back",
			extra: nil,
			want:  coarse.Unix(),
		},
		{
			name:  "truncated payload falls back",
			extra: extraField(extTimeTag, []byte{1, 0xff}),
			want:  coarse.Unix(),
		},
		{
			name:  "foreign field before timestamp field",
			extra: append(extraField(0x0001, []byte{1, 2, 3}), extTimeExtra(1, 1683900000)...),
			want:  1683900000,
		},
		{
			name:  "declared size past end falls back",
			extra: []byte{0x55, 0x54, 0xff, 0x00, 0x01},
			want:  coarse.Unix(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fh := &zip.FileHeader{Extra: tt.extra, Modified: coarse}
			got := entryModTime(fh)
			assert.Equal(t, tt.want, got.Unix())
		})
	}
}

func TestListArchivesOrdering(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"mydata-10.zip", "mydata-2.zip", "mydata.zip", "mydata-1.zip"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	archives, err := ListArchives(dir)
	require.NoError(t, err)

	var names []string
	for _, a := range archives {
		names = append(names, filepath.Base(a))
	}
	assert.Equal(t, []string{"mydata.zip", "mydata-1.zip", "mydata-2.zip", "mydata-10.zip"}, names)
}

func TestListArchivesEmptyIsFatal(t *testing.T) {
	_, err := ListArchives(t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoArchives))
}

func TestDestination(t *testing.T) {
	tests := []struct {
		entry string
		want  string
		ok    bool
	}{
		{"mydata/json/chat_history.json", filepath.Join("json", "chat_history.json"), true},
		{"mydata/json/snap_history.json", filepath.Join("json", "snap_history.json"), true},
		{"mydata/json/friends.json", filepath.Join("json", "friends.json"), true},
		{"mydata/json/other.json", "", false},
		{"chat_history.json", "", false},
		{"mydata/chat_media/2023-05-12_media~a.jpg", filepath.Join("chat_media", "2023-05-12_media~a.jpg"), true},
		{"a/b/chat_media/sub/clip.mp4", filepath.Join("chat_media", "sub", "clip.mp4"), true},
		{"mydata/html/index.html", "", false},
	}

	for _, tt := range tests {
		got, ok := destination(tt.entry)
		assert.Equal(t, tt.ok, ok, tt.entry)
		if tt.ok {
			assert.Equal(t, tt.want, got, tt.entry)
		}
	}
}

func writeTestZip(t *testing.T, path string, entries map[string]*zip.FileHeader) {
	t.Helper()

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, fh := range entries {
		fh.Name = name
		f, err := w.CreateHeader(fh)
		require.NoError(t, err)
		_, err = f.Write([]byte("payload of " + name))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func TestExtractAll(t *testing.T) {
	inputDir := t.TempDir()
	workspace := filepath.Join(t.TempDir(), "ws")

	const trueSecs = 1683900000
	writeTestZip(t, filepath.Join(inputDir, "mydata.zip"), map[string]*zip.FileHeader{
		"mydata/json/chat_history.json": {Modified: time.Unix(1600000000, 0)},
		"mydata/chat_media/2023-05-12_media~a.jpg": {
			Modified: time.Unix(1600000000, 0),
			Extra:    extTimeExtra(1, trueSecs),
		},
		"mydata/html/ignored.html": {Modified: time.Unix(1600000000, 0)},
	})

	ex, err := NewExtractor(Options{Workspace: workspace, Workers: 2}, nil, nil)
	require.NoError(t, err)

	archives, err := ListArchives(inputDir)
	require.NoError(t, err)
	require.NoError(t, ex.ExtractAll(context.Background(), archives))

	_, err = os.Stat(filepath.Join(workspace, "json", "chat_history.json"))
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(workspace, "chat_media", "2023-05-12_media~a.jpg"))
	require.NoError(t, err)
	assert.Equal(t, int64(trueSecs), info.ModTime().Unix(), "mtime must come from the extended timestamp")

	_, err = os.Stat(filepath.Join(workspace, "html", "ignored.html"))
	assert.True(t, os.IsNotExist(err), "unrelated entries must not be extracted")
}

func TestExtractAllCoarseFallback(t *testing.T) {
	inputDir := t.TempDir()
	workspace := filepath.Join(t.TempDir(), "ws")

	coarse := time.Unix(1600000000, 0)
	writeTestZip(t, filepath.Join(inputDir, "mydata.zip"), map[string]*zip.FileHeader{
		"mydata/chat_media/2023-05-12_media~b.jpg": {Modified: coarse},
	})

	ex, err := NewExtractor(Options{Workspace: workspace, Workers: 1}, nil, nil)
	require.NoError(t, err)

	archives, err := ListArchives(inputDir)
	require.NoError(t, err)
	require.NoError(t, ex.ExtractAll(context.Background(), archives))

	info, err := os.Stat(filepath.Join(workspace, "chat_media", "2023-05-12_media~b.jpg"))
	require.NoError(t, err)
	assert.Equal(t, coarse.Unix(), info.ModTime().Unix())
}
