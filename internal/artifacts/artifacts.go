// Package artifacts stores raw scanner reports on disk. Reports are laid
// out under a root directory as <scanner>/<target>_<scan-id>.<ext> so a
// scan's artifacts can be located from its database record alone.
package artifacts

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/scanward/scanward/internal/logging"
)

var unsafePathChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// Store persists scan report artifacts.
type Store struct {
	fs     afero.Fs
	root   string
	logger *logging.Logger
}

// NewStore creates an artifact store rooted at dir on the OS filesystem.
func NewStore(dir string) *Store {
	return NewStoreWithFs(afero.NewOsFs(), dir)
}

// NewStoreWithFs creates an artifact store on the given filesystem.
func NewStoreWithFs(fs afero.Fs, dir string) *Store {
	return &Store{
		fs:     fs,
		root:   dir,
		logger: logging.Default().WithComponent("artifacts"),
	}
}

// sanitize strips characters that are unsafe in a filename component.
func sanitize(name string) string {
	cleaned := unsafePathChars.ReplaceAllString(name, "_")
	if cleaned == "" {
		return "unnamed"
	}
	return cleaned
}

// Path returns the artifact path for a scan without writing anything.
func (s *Store) Path(scanner, target string, scanID uuid.UUID, ext string) string {
	name := fmt.Sprintf("%s_%s.%s", sanitize(target), scanID, strings.TrimPrefix(ext, "."))
	return filepath.Join(s.root, sanitize(scanner), name)
}

// Save writes a report artifact and returns its path.
func (s *Store) Save(scanner, target string, scanID uuid.UUID, ext string, content []byte) (string, error) {
	path := s.Path(scanner, target, scanID, ext)

	if err := s.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create artifact directory: %w", err)
	}

	if err := afero.WriteFile(s.fs, path, content, 0o644); err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}

	s.logger.Debug("Saved artifact", "path", path, "bytes", len(content))
	return path, nil
}

// Read returns the content of a previously saved artifact.
func (s *Store) Read(path string) ([]byte, error) {
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return data, nil
}

// Remove deletes a single artifact. Missing files are not an error so
// retention sweeps can be retried safely.
func (s *Store) Remove(path string) error {
	if err := s.fs.Remove(path); err != nil {
		exists, statErr := afero.Exists(s.fs, path)
		if statErr == nil && !exists {
			return nil
		}
		return fmt.Errorf("failed to remove artifact: %w", err)
	}
	return nil
}
