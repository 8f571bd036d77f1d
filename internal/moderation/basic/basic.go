// Package basic implements the Basic (keyword) moderation stage of
// spec.md §4.3: a case-insensitive substring filter loaded from a flat
// file, hot-reloaded when its mtime changes.
package basic

import (
	"bufio"
	"os"
	"strings"
	"sync"
	"time"
)

// Result is the outcome of a Basic-stage check.
type Result struct {
	Blocked bool
	// Keyword is the matching keyword when Blocked is true.
	Keyword string
}

// Filter is a process-wide, file-backed keyword filter. One Filter per
// keywords file path; callers share a Filter across requests via the
// registry below (spec.md §5: "keyword-filter registry is a process-wide
// map; filters self-reload on file mtime change under the query operation").
type Filter struct {
	path string

	mu       sync.Mutex
	mtime    time.Time
	keywords []string
}

// NewFilter builds a Filter for path without loading it; the first Check
// call triggers the initial load.
func NewFilter(path string) *Filter {
	return &Filter{path: path}
}

// Check reports whether text contains any configured keyword, reloading
// from disk first if the file's mtime has changed since the last load.
func (f *Filter) Check(text string) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.reloadLocked(); err != nil {
		return Result{}, err
	}

	lower := strings.ToLower(text)

	for _, kw := range f.keywords {
		if strings.Contains(lower, kw) {
			return Result{Blocked: true, Keyword: kw}, nil
		}
	}

	return Result{}, nil
}

// reloadLocked re-reads the keyword file if its mtime advanced since the
// last successful load. A missing file is treated as an empty keyword set
// rather than an error, since basic_moderation.keywords_file may point at a
// file that has not been created yet.
func (f *Filter) reloadLocked() error {
	info, err := os.Stat(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			f.keywords = nil
			f.mtime = time.Time{}

			return nil
		}

		return err
	}

	if !info.ModTime().After(f.mtime) && f.keywords != nil {
		return nil
	}

	file, err := os.Open(f.path)
	if err != nil {
		return err
	}
	defer file.Close()

	var keywords []string

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		keywords = append(keywords, strings.ToLower(line))
	}

	if err := scanner.Err(); err != nil {
		return err
	}

	f.keywords = keywords
	f.mtime = info.ModTime()

	return nil
}

// registry caches one Filter per path so repeated requests against the same
// keywords_file share reload state instead of re-statting independently.
var (
	registryMu sync.Mutex
	registry   = map[string]*Filter{}
)

// ForPath returns the shared Filter for path, creating it on first use.
func ForPath(path string) *Filter {
	registryMu.Lock()
	defer registryMu.Unlock()

	if f, ok := registry[path]; ok {
		return f
	}

	f := NewFilter(path)
	registry[path] = f

	return f
}
