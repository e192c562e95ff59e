package imagestore

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

var (
	// ErrEmptyUpload is returned when no filename or no content was provided,
	// or when nothing usable remains after sanitisation.
	ErrEmptyUpload = errors.New("empty upload")
	// ErrUnsupportedFormat is returned for extensions outside the allow-list.
	ErrUnsupportedFormat = errors.New("unsupported image format")
)

var allowedExtensions = map[string]struct{}{
	".png":  {},
	".jpg":  {},
	".jpeg": {},
	".gif":  {},
}

// Store writes uploaded lesion images to a flat directory on disk.
//
// The directory is deliberately flat: saving under a name that already exists
// silently overwrites the previous file. Callers that need collision-free
// names must make them unique before calling Save.
type Store struct {
	dir    string
	logger *zap.Logger
}

// NewStore creates the upload directory if missing.
func NewStore(dir string, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("upload directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{dir: dir, logger: logger.Named("imagestore")}, nil
}

// Save validates and stores an uploaded image, returning the stored name.
func (s *Store) Save(filename string, content []byte) (string, error) {
	if strings.TrimSpace(filename) == "" || len(content) == 0 {
		return "", ErrEmptyUpload
	}
	name := Sanitize(filename)
	if name == "" {
		return "", ErrEmptyUpload
	}
	if !AllowedExtension(name) {
		return "", ErrUnsupportedFormat
	}
	target := filepath.Join(s.dir, name)
	if err := os.WriteFile(target, content, 0o644); err != nil {
		return "", err
	}
	s.logger.Info("image stored", zap.String("path", target), zap.Int("bytes", len(content)))
	return name, nil
}

// Path returns the on-disk location of a stored image.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, Sanitize(name))
}

// Exists reports whether a stored image is still present.
func (s *Store) Exists(name string) bool {
	info, err := os.Stat(s.Path(name))
	return err == nil && !info.IsDir()
}

// Read returns the raw bytes of a stored image.
func (s *Store) Read(name string) ([]byte, error) {
	return os.ReadFile(s.Path(name))
}

// Delete removes a stored image. Missing files are not an error.
func (s *Store) Delete(name string) error {
	err := os.Remove(s.Path(name))
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// AllowedExtension reports whether the filename carries a supported
// image extension (case-insensitive).
func AllowedExtension(name string) bool {
	_, ok := allowedExtensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

// Sanitize strips directory components and unsafe characters from an
// uploaded filename. The result may be empty.
func Sanitize(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == ".." {
		return ""
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	return strings.TrimLeft(b.String(), ".")
}
