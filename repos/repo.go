// Package repos manages the repositories the agent works in: cloning them
// into the workspace, registering them in SQLite, and saving (commit + push)
// their outstanding changes, either on demand or from the autosave watcher.
package repos

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/roostlabs/roost/errors"
)

// ManifestFileName is the optional per-repo override file read from the repo
// root.
const ManifestFileName = ".roost.toml"

// Repo is one registered repository under the workspace repos directory.
type Repo struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	URL         string     `json:"url"`
	Path        string     `json:"path"`
	Branch      string     `json:"branch,omitempty"`
	Autosave    bool       `json:"autosave"`
	LastSavedAt *time.Time `json:"last_saved_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Manifest is the optional .roost.toml a repo can carry to override registry
// and config defaults for itself.
type Manifest struct {
	// Branch the repo wants saves pushed to. Informational for now; saves
	// push whatever branch is checked out.
	Branch string `toml:"branch"`
	// CommitPrefix is prepended to every save commit message.
	CommitPrefix string `toml:"commit_prefix"`
	// Exclude lists gitignore-style patterns. They hide untracked files
	// from saves; modified tracked files are always committed.
	Exclude []string `toml:"exclude"`
	// Autosave overrides the registry flag when set.
	Autosave *bool `toml:"autosave"`
	// MaxSavesPerMinute overrides the configured autosave rate cap.
	MaxSavesPerMinute int `toml:"max_saves_per_minute"`
	// Hooks run around each save with the repo root as working directory.
	Hooks ManifestHooks `toml:"hooks"`
}

// ManifestHooks are shell commands run around a save. A failing pre-save
// hook aborts the save; a failing post-save hook is logged and ignored.
type ManifestHooks struct {
	PreSave  string `toml:"pre_save"`
	PostSave string `toml:"post_save"`
}

// LoadManifest reads .roost.toml from the repo root. A missing file is not
// an error and yields the zero manifest.
func LoadManifest(repoPath string) (Manifest, error) {
	var m Manifest
	path := filepath.Join(repoPath, ManifestFileName)
	if _, err := toml.DecodeFile(path, &m); err != nil {
		if os.IsNotExist(err) {
			return Manifest{}, nil
		}
		return Manifest{}, errors.Wrapf(err, "failed to parse %s", path)
	}
	return m, nil
}

// SaveResult describes the outcome of saving one repo.
type SaveResult struct {
	Repo       string `json:"repo"`
	Committed  bool   `json:"committed"`
	CommitHash string `json:"commit_hash,omitempty"`
	Pushed     bool   `json:"pushed"`
	Files      int    `json:"files,omitempty"`
	Message    string `json:"message,omitempty"`
}
