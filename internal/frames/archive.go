// Package frames keeps the raw screenshot of each indexed capture on
// disk, named by screen-state id, so callers can pull the pixels behind
// a search hit. Files are pruned on a much shorter clock than the index
// itself (24h vs 7d by default).
package frames

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Archive struct {
	dir string
}

func NewArchive(dir string) (*Archive, error) {
	if dir == "" {
		return nil, fmt.Errorf("frames: empty archive dir")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("frames: create archive dir: %w", err)
	}
	return &Archive{dir: dir}, nil
}

func (a *Archive) Dir() string { return a.dir }

// Save writes the capture PNG under the screen-state id. Ids come from
// uuid.New, so there is nothing to sanitize beyond rejecting separators.
func (a *Archive) Save(screenID string, png []byte) error {
	if screenID == "" || strings.ContainsAny(screenID, "/\\") {
		return fmt.Errorf("frames: invalid screen id %q", screenID)
	}
	if err := os.WriteFile(a.Path(screenID), png, 0o644); err != nil {
		return fmt.Errorf("frames: write %s: %w", screenID, err)
	}
	return nil
}

func (a *Archive) Path(screenID string) string {
	return filepath.Join(a.dir, screenID+".png")
}

// Read returns the archived PNG for a screen, or os.ErrNotExist when it
// was never saved or already pruned.
func (a *Archive) Read(screenID string) ([]byte, error) {
	return os.ReadFile(a.Path(screenID))
}

// Prune removes frames older than the TTL and reports how many went.
func (a *Archive) Prune(olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return 0, fmt.Errorf("frames: read archive dir: %w", err)
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".png") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(a.dir, entry.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}
