package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var imageExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".gif":  {},
	".bmp":  {},
	".webp": {},
}

// Directory serves the newest image file in a folder, such as a phone upload
// or camera drop directory.
type Directory struct {
	Path string
	Now  func() time.Time
}

func NewDirectory(path string) *Directory {
	return &Directory{Path: path, Now: time.Now}
}

func (d *Directory) CaptureNext(ctx context.Context) (Frame, bool, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, false, fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}

	newest, err := newestImage(d.Path)
	if err != nil {
		return Frame{}, false, fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}
	if newest == "" {
		return Frame{}, false, nil
	}

	data, err := os.ReadFile(newest)
	if err != nil {
		return Frame{}, false, fmt.Errorf("%w: read %s: %v", ErrCaptureUnavailable, newest, err)
	}
	if len(data) == 0 {
		// Still being written.
		return Frame{}, false, nil
	}

	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	return NewFrame(data, newest, now()), true, nil
}

func newestImage(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read dir %s: %w", dir, err)
	}

	var (
		newest     string
		newestTime time.Time
	)
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if _, ok := imageExtensions[strings.ToLower(filepath.Ext(entry.Name()))]; !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		mod := info.ModTime()
		if newest == "" || mod.After(newestTime) || (mod.Equal(newestTime) && entry.Name() > filepath.Base(newest)) {
			newest = filepath.Join(dir, entry.Name())
			newestTime = mod
		}
	}
	return newest, nil
}
