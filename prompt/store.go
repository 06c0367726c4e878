package prompt

import (
	"embed"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/roostlabs/roost/am"
	"github.com/roostlabs/roost/errors"
)

// Starter documents seeded into a fresh workspace by `roost init`.
//
//go:embed starter/*.md
var starterFS embed.FS

// Store loads prompt documents from a directory and serves them by name.
type Store struct {
	dir    string
	logger *zap.SugaredLogger
	docs   map[string]*Document
}

// NewStore creates a store over dir. Call Load before reading.
func NewStore(dir string, logger *zap.SugaredLogger) *Store {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Store{
		dir:    dir,
		logger: logger,
		docs:   make(map[string]*Document),
	}
}

// Load reads every *.md in the directory. Documents that fail to parse are
// skipped with a warning so one broken file does not hide the rest. A missing
// directory loads empty.
func (s *Store) Load() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			s.docs = make(map[string]*Document)
			return nil
		}
		return errors.Wrapf(err, "failed to read prompts directory %s", s.dir)
	}

	docs := make(map[string]*Document, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}

		path := filepath.Join(s.dir, entry.Name())
		content, err := os.ReadFile(path)
		if err != nil {
			return errors.Wrapf(err, "failed to read prompt %s", path)
		}

		doc, err := Parse(string(content))
		if err != nil {
			s.logger.Warnw("Skipping unparseable prompt document",
				"path", path, "error", err)
			continue
		}

		name := doc.Metadata.Name
		if name == "" {
			name = strings.TrimSuffix(entry.Name(), ".md")
			doc.Metadata.Name = name
		}
		if _, exists := docs[name]; exists {
			s.logger.Warnw("Duplicate prompt name, keeping the first",
				"name", name, "path", path)
			continue
		}
		docs[name] = doc
	}

	s.docs = docs
	return nil
}

// Get returns the named document.
func (s *Store) Get(name string) (*Document, error) {
	doc, ok := s.docs[name]
	if !ok {
		return nil, errors.Wrapf(errors.ErrNotFound, "prompt %q", name)
	}
	return doc, nil
}

// List returns all loaded documents sorted by name.
func (s *Store) List() []*Document {
	names := make([]string, 0, len(s.docs))
	for name := range s.docs {
		names = append(names, name)
	}
	sort.Strings(names)

	docs := make([]*Document, 0, len(names))
	for _, name := range names {
		docs = append(docs, s.docs[name])
	}
	return docs
}

// Dir returns the directory the store reads from.
func (s *Store) Dir() string { return s.dir }

// SeedStarters writes the embedded starter documents into dir, skipping
// files that already exist so user edits survive re-running init. Returns
// the filenames written.
func SeedStarters(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, am.DefaultDirPermissions); err != nil {
		return nil, errors.Wrapf(err, "failed to create prompts directory %s", dir)
	}

	entries, err := fs.ReadDir(starterFS, "starter")
	if err != nil {
		return nil, errors.Wrap(err, "failed to read embedded starter prompts")
	}

	var written []string
	for _, entry := range entries {
		target := filepath.Join(dir, entry.Name())
		if _, err := os.Stat(target); err == nil {
			continue
		}

		content, err := starterFS.ReadFile("starter/" + entry.Name())
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read embedded prompt %s", entry.Name())
		}
		if err := os.WriteFile(target, content, am.DefaultFilePermissions); err != nil {
			return nil, errors.Wrapf(err, "failed to write starter prompt %s", target)
		}
		written = append(written, entry.Name())
	}

	return written, nil
}
