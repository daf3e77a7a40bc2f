package main

import (
	"bytes"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeJPEG(t *testing.T, path string, shade uint8) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 8, 4))
	for i := range img.Pix {
		img.Pix[i] = shade
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o700))
	writeJPEG(t, filepath.Join(dir, "1.jpg"), 0)
	writeJPEG(t, filepath.Join(dir, "2.JPEG"), 0)
	writeJPEG(t, filepath.Join(dir, "sub", "3.jpg"), 255)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))

	t.Run("ok", func(t *testing.T) {
		output := filepath.Join(t.TempDir(), "out.mp4")

		var stdout bytes.Buffer
		require.NoError(t, run([]string{"-ignore=1", dir, output}, &stdout))
		require.Contains(t, stdout.String(), "Found 3 images.")
		require.Contains(t, stdout.String(), "2 samples, 1 dropped")

		file, err := os.ReadFile(output)
		require.NoError(t, err)
		require.True(t, bytes.Contains(file, []byte("moov")))
	})
	t.Run("exists", func(t *testing.T) {
		output := filepath.Join(t.TempDir(), "out.mp4")
		require.NoError(t, os.WriteFile(output, nil, 0o600))
		require.ErrorIs(t, run([]string{dir, output}, &bytes.Buffer{}), errOutputExists)
	})
	t.Run("usage", func(t *testing.T) {
		var stdout bytes.Buffer
		require.NoError(t, run([]string{dir}, &stdout))
		require.Equal(t, usage+"\n", stdout.String())
	})
	t.Run("badFlag", func(t *testing.T) {
		require.Error(t, run([]string{"-x", dir, "out.mp4"}, &bytes.Buffer{}))
	})
	t.Run("missingDir", func(t *testing.T) {
		output := filepath.Join(t.TempDir(), "out.mp4")
		require.Error(t, run([]string{filepath.Join(dir, "nil"), output}, &bytes.Buffer{}))
	})
	t.Run("invalidImage", func(t *testing.T) {
		bad := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(bad, "a.jpg"), []byte{1, 2}, 0o600))
		output := filepath.Join(t.TempDir(), "out.mp4")
		require.Error(t, run([]string{bad, output}, &bytes.Buffer{}))
	})
}

func TestFindImages(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.jpg", "a.jpeg", "c.png"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o600))
	}
	images, err := findImages(dir)
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(dir, "a.jpeg"), filepath.Join(dir, "b.jpg")}, images)
}
