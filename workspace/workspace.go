// Package workspace manages the on-disk home of the resident agent: the
// directory layout under workspace.root, the SSH keypair and did:key
// identity, the advisory PID lock that keeps concurrent roost processes
// from double-working the queue, and the crontab line that drives one-shot
// processing.
package workspace

import (
	"os"
	"path/filepath"

	"github.com/roostlabs/roost/am"
	"github.com/roostlabs/roost/errors"
)

// LockFileName is the advisory lock under the state directory.
const LockFileName = "roost.lock"

// Workspace holds the resolved layout paths. Repos, prompts, and runtime
// state live under the workspace root; keys live under the config dir so a
// workspace wipe never destroys the agent's identity.
type Workspace struct {
	Root       string
	ReposDir   string
	PromptsDir string
	KeysDir    string
	StateDir   string
}

// New derives the layout from configuration.
func New(cfg *am.Config) *Workspace {
	root := cfg.GetWorkspaceRoot()
	return &Workspace{
		Root:       root,
		ReposDir:   filepath.Join(root, "repos"),
		PromptsDir: filepath.Join(root, "prompts"),
		KeysDir:    filepath.Join(am.ConfigDir(), "keys"),
		StateDir:   filepath.Join(root, "state"),
	}
}

// Ensure creates the workspace layout. Idempotent; an existing file where a
// directory belongs is an error, never clobbered.
func (w *Workspace) Ensure() error {
	for _, dir := range []string{w.Root, w.ReposDir, w.PromptsDir, w.StateDir, w.KeysDir} {
		info, err := os.Stat(dir)
		if err == nil {
			if !info.IsDir() {
				return errors.Newf("%s exists and is not a directory", dir)
			}
			continue
		}
		if !os.IsNotExist(err) {
			return errors.Wrapf(err, "failed to stat %s", dir)
		}
		if err := os.MkdirAll(dir, am.DefaultDirPermissions); err != nil {
			return errors.Wrapf(err, "failed to create %s", dir)
		}
	}
	return nil
}

// LockPath returns the PID lock file location.
func (w *Workspace) LockPath() string {
	return filepath.Join(w.StateDir, LockFileName)
}

// RepliesDir returns where prompt job replies are written.
func (w *Workspace) RepliesDir() string {
	return filepath.Join(w.StateDir, "replies")
}

// PrivateKeyPath returns the OpenSSH private key location.
func (w *Workspace) PrivateKeyPath() string {
	return filepath.Join(w.KeysDir, "id_ed25519")
}

// PublicKeyPath returns the authorized_keys-format public key location.
func (w *Workspace) PublicKeyPath() string {
	return w.PrivateKeyPath() + ".pub"
}
