package service

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/blake2b"
)

// Sentinel errors for question image uploads.
var (
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrFileTooLarge        = errors.New("file too large")
)

// imageExtensions maps sniffed content types to stored file extensions.
var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// ImageService stores question images under a directory, named by the
// digest of their content so the same picture uploaded twice is kept once.
type ImageService struct {
	dir      string
	maxBytes int64
	log      zerolog.Logger
}

func NewImageService(dir string, maxBytes int64, log zerolog.Logger) *ImageService {
	return &ImageService{
		dir:      dir,
		maxBytes: maxBytes,
		log:      log.With().Str("component", "image_service").Logger(),
	}
}

// Save reads an image and returns the URL path it is served under. The
// content type is sniffed from the bytes; the client's header is ignored.
func (s *ImageService) Save(r io.Reader) (url string, created bool, err error) {
	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return "", false, fmt.Errorf("read image: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return "", false, fmt.Errorf("%w: max %d bytes", ErrFileTooLarge, s.maxBytes)
	}

	contentType := http.DetectContentType(data)
	ext, ok := imageExtensions[contentType]
	if !ok {
		return "", false, fmt.Errorf("%w: %s (allowed: %s)",
			ErrUnsupportedFileType, contentType, strings.Join(allowedImageTypes(), ", "))
	}

	sum := blake2b.Sum256(data)
	name := hex.EncodeToString(sum[:16]) + ext
	url = "/uploads/" + name
	dest := filepath.Join(s.dir, name)

	if _, err := os.Stat(dest); err == nil {
		return url, false, nil
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", false, fmt.Errorf("create upload dir: %w", err)
	}

	// write then rename so a reader never sees a partial file
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", false, fmt.Errorf("create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		tmp.Close()
		return "", false, fmt.Errorf("write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", false, fmt.Errorf("write file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", false, fmt.Errorf("store file: %w", err)
	}

	s.log.Info().Str("file", name).Int("bytes", len(data)).Msg("Question image stored")
	return url, true, nil
}

// Dir is where stored images live.
func (s *ImageService) Dir() string { return s.dir }

func allowedImageTypes() []string {
	types := make([]string, 0, len(imageExtensions))
	for t := range imageExtensions {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
