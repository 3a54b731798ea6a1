package file

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// NewestWithExt returns the most recently modified regular file in dir
// with the given extension, modified at or after startTime. Empty string
// when nothing matches.
func NewestWithExt(dir, ext string, startTime time.Time) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}

	var newest string
	var newestMod time.Time
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ext) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(startTime) {
			continue
		}
		if newest == "" || info.ModTime().After(newestMod) {
			newest = filepath.Join(dir, entry.Name())
			newestMod = info.ModTime()
		}
	}
	return newest, nil
}
