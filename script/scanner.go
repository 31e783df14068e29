package script

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ErrDuplicateName is returned when two files in the directory share a
// migration name.
var ErrDuplicateName = errors.New("duplicate migration name on disk")

// Scanner enumerates migration scripts in a directory.
type Scanner struct {
	dir      string
	registry *Registry

	mu      sync.Mutex
	sqlByFn map[string]*sqlScript
}

// NewScanner returns a Scanner for dir. A nil registry means the registry
// populated by Register.
func NewScanner(dir string, registry *Registry) *Scanner {
	if registry == nil {
		registry = defaultRegistry
	}
	return &Scanner{dir: dir, registry: registry, sqlByFn: make(map[string]*sqlScript)}
}

// Scan returns every script in the directory ordered by timestamp. A missing
// directory yields no scripts.
func (s *Scanner) Scan() ([]Script, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read migrations directory %s: %w", s.dir, err)
	}

	seen := make(map[string]string)
	var scripts []Script
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		sc, ok := s.load(entry.Name())
		if !ok {
			continue
		}
		if prev, dup := seen[sc.Name]; dup {
			return nil, fmt.Errorf("%w: %q in %s and %s", ErrDuplicateName, sc.Name, prev, sc.Filename)
		}
		seen[sc.Name] = sc.Filename
		scripts = append(scripts, sc)
	}

	sort.Slice(scripts, func(i, j int) bool {
		if scripts[i].Timestamp != scripts[j].Timestamp {
			return scripts[i].Timestamp < scripts[j].Timestamp
		}
		return scripts[i].Name < scripts[j].Name
	})
	return scripts, nil
}

// Filenames returns the set of regular file names in the directory.
func (s *Scanner) Filenames() (map[string]bool, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]bool{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read migrations directory %s: %w", s.dir, err)
	}
	names := make(map[string]bool, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names[entry.Name()] = true
		}
	}
	return names, nil
}

// load resolves a single filename. Files that are not migration scripts are
// skipped.
func (s *Scanner) load(filename string) (Script, bool) {
	if strings.HasSuffix(filename, "_test.go") {
		return Script{}, false
	}
	ts, name, ext, err := ParseFilename(filename)
	if err != nil {
		return Script{}, false
	}

	sc := Script{
		Timestamp: ts,
		Name:      name,
		Filename:  filename,
		Path:      filepath.Join(s.dir, filename),
	}
	switch ext {
	case "sql":
		parsed := s.sqlScript(sc.Path)
		sc.Up, sc.Down = parsed.Up, parsed.Down
	case "go":
		sc.Up, sc.Down = s.registry.resolve(filename)
	default:
		return Script{}, false
	}
	return sc, true
}

// sqlScript returns the cached parse of path, starting a new one when the
// file's size or modification time has changed since it was cached.
func (s *Scanner) sqlScript(path string) *sqlScript {
	fi, err := os.Stat(path)
	if err != nil {
		// Surface the error from load when the script runs.
		return &sqlScript{path: path}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if parsed, ok := s.sqlByFn[path]; ok && parsed.sameVersion(fi) {
		return parsed
	}
	parsed := &sqlScript{path: path, size: fi.Size(), modTime: fi.ModTime()}
	s.sqlByFn[path] = parsed
	return parsed
}
