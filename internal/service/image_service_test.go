package service

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestImageService_SaveDeduplicates(t *testing.T) {
	dir := t.TempDir()
	svc := NewImageService(dir, 1024, zerolog.Nop())

	url, created, err := svc.Save(bytes.NewReader(pngHeader))
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, strings.HasPrefix(url, "/uploads/"))
	assert.True(t, strings.HasSuffix(url, ".png"))

	again, created, err := svc.Save(bytes.NewReader(pngHeader))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, url, again)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not be left behind")

	stored, err := os.ReadFile(filepath.Join(dir, strings.TrimPrefix(url, "/uploads/")))
	require.NoError(t, err)
	assert.Equal(t, pngHeader, stored)
}

func TestImageService_Rejects(t *testing.T) {
	svc := NewImageService(t.TempDir(), 16, zerolog.Nop())

	_, _, err := svc.Save(strings.NewReader("plain text is not an image"))
	assert.ErrorIs(t, err, ErrFileTooLarge)

	_, _, err = svc.Save(strings.NewReader("just text"))
	assert.ErrorIs(t, err, ErrUnsupportedFileType)

	big := append(append([]byte{}, pngHeader...), make([]byte, 16)...)
	_, _, err = svc.Save(bytes.NewReader(big))
	assert.ErrorIs(t, err, ErrFileTooLarge)
}
