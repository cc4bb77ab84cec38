package muxer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, content, 0644))
	return path
}

func TestConcatArgs(t *testing.T) {
	t.Run("TSInput", func(t *testing.T) {
		args := concatArgs("/tmp/list.txt", "/tmp/out.mp4", true)
		assert.Equal(t, []string{
			"-f", "concat",
			"-safe", "0",
			"-i", "/tmp/list.txt",
			"-c", "copy",
			"-bsf:a", "aac_adtstoasc",
			"-y", "/tmp/out.mp4",
		}, args)
	})

	t.Run("FMP4Input", func(t *testing.T) {
		args := concatArgs("/tmp/list.txt", "/tmp/out.mp4", false)
		assert.NotContains(t, args, "-bsf:a")
		assert.Contains(t, args, "copy")
	})
}

func TestCreateConcatFile(t *testing.T) {
	dir := t.TempDir()
	seg0 := writeFile(t, dir, "seg0.ts", []byte("a"))
	seg1 := writeFile(t, dir, "seg1.ts", []byte("b"))

	t.Run("SegmentsOnly", func(t *testing.T) {
		listPath, err := createConcatFile("", []string{seg0, seg1})
		require.NoError(t, err)
		defer os.Remove(listPath)

		content, err := os.ReadFile(listPath)
		require.NoError(t, err)
		assert.Equal(t, "file '"+seg0+"'\nfile '"+seg1+"'\n", string(content))
	})

	t.Run("InitSegmentFirst", func(t *testing.T) {
		init := writeFile(t, dir, "init.mp4", []byte("i"))
		listPath, err := createConcatFile(init, []string{seg0, seg1})
		require.NoError(t, err)
		defer os.Remove(listPath)

		content, err := os.ReadFile(listPath)
		require.NoError(t, err)
		assert.Equal(t, "file '"+init+"'\nfile '"+seg0+"'\nfile '"+seg1+"'\n", string(content))
	})
}

func TestBinaryConcat(t *testing.T) {
	dir := t.TempDir()
	seg0 := writeFile(t, dir, "seg0.m4s", []byte("AAAA"))
	seg1 := writeFile(t, dir, "seg1.m4s", []byte("BBBB"))
	init := writeFile(t, dir, "init.mp4", []byte("INIT"))

	t.Run("WithInit", func(t *testing.T) {
		out := filepath.Join(dir, "out_init.mp4")
		require.NoError(t, binaryConcat(init, []string{seg0, seg1}, out))

		content, err := os.ReadFile(out)
		require.NoError(t, err)
		assert.Equal(t, "INITAAAABBBB", string(content))
	})

	t.Run("WithoutInit", func(t *testing.T) {
		out := filepath.Join(dir, "out.ts")
		require.NoError(t, binaryConcat("", []string{seg0, seg1}, out))

		content, err := os.ReadFile(out)
		require.NoError(t, err)
		assert.Equal(t, "AAAABBBB", string(content))
	})

	t.Run("MissingSegment", func(t *testing.T) {
		out := filepath.Join(dir, "out_missing.ts")
		err := binaryConcat("", []string{filepath.Join(dir, "nope.ts")}, out)
		assert.Error(t, err)
	})
}

func TestTotalSize(t *testing.T) {
	dir := t.TempDir()
	seg0 := writeFile(t, dir, "a.ts", make([]byte, 100))
	seg1 := writeFile(t, dir, "b.ts", make([]byte, 150))

	size, err := totalSize([]string{seg0, seg1})
	require.NoError(t, err)
	assert.Equal(t, int64(250), size)

	_, err = totalSize([]string{filepath.Join(dir, "missing.ts")})
	assert.Error(t, err)
}
