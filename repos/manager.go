package repos

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"github.com/roostlabs/roost/am"
	"github.com/roostlabs/roost/errors"
	"github.com/roostlabs/roost/workspace"
)

// Manager clones, saves, and pulls registered repos. SSH remotes authenticate
// with the workspace key.
type Manager struct {
	store  *Store
	ws     *workspace.Workspace
	cfg    *am.Config
	logger *zap.SugaredLogger
}

// NewManager creates a repo manager.
func NewManager(store *Store, ws *workspace.Workspace, cfg *am.Config, logger *zap.SugaredLogger) *Manager {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Manager{store: store, ws: ws, cfg: cfg, logger: logger}
}

// Store exposes the registry for listing and lookups.
func (m *Manager) Store() *Store {
	return m.store
}

// Clone fetches a repository into the workspace repos directory and registers
// it with autosave enabled. The directory name is derived from the source.
func (m *Manager) Clone(ctx context.Context, input string) (*Repo, error) {
	src, err := Resolve(input, m.cfg.Workspace.CloneProtocol)
	if err != nil {
		return nil, err
	}

	if existing, err := m.store.GetByName(src.Name); err != nil && !errors.IsNotFoundError(err) {
		return nil, err
	} else if existing != nil {
		return nil, errors.Wrapf(errors.ErrAlreadyExists, "repo %s", src.Name)
	}

	dest := filepath.Join(m.ws.ReposDir, src.Name)
	if info, err := os.Stat(dest); err == nil {
		if !info.IsDir() {
			return nil, errors.Newf("clone target %s exists and is not a directory", dest)
		}
		if _, err := gogit.PlainOpen(dest); err != nil {
			return nil, errors.WithHint(
				errors.Newf("clone target %s exists and is not a git repository", dest),
				"remove the directory and retry")
		}
		return nil, errors.WithHint(errors.Wrapf(errors.ErrAlreadyExists, "clone target %s", dest),
			"remove the directory or clone under a different name")
	}

	auth, err := m.sshAuth(src.URL)
	if err != nil {
		return nil, err
	}

	m.logger.Infow("Cloning repository", "url", src.URL, "dest", dest)
	cloned, err := gogit.PlainCloneContext(ctx, dest, false, &gogit.CloneOptions{
		URL:  src.URL,
		Auth: auth,
	})
	if err != nil {
		os.RemoveAll(dest)
		return nil, errors.Wrapf(transportHint(err), "failed to clone %s", src.URL)
	}

	branch := ""
	if head, err := cloned.Head(); err == nil && head.Name().IsBranch() {
		branch = head.Name().Short()
	}

	repo := &Repo{
		Name:     src.Name,
		URL:      src.URL,
		Path:     dest,
		Branch:   branch,
		Autosave: true,
	}
	if err := m.store.Create(repo); err != nil {
		return nil, err
	}

	m.logger.Infow("Repository registered", "name", repo.Name, "branch", branch)
	return repo, nil
}

// Save commits outstanding changes in a registered repo and pushes them. A
// clean worktree is success with Committed=false.
func (m *Manager) Save(ctx context.Context, name, message string) (*SaveResult, error) {
	repo, err := m.store.GetByName(name)
	if err != nil {
		return nil, err
	}
	return m.save(ctx, repo, message)
}

// SaveAll saves every registered repo. Per-repo failures are joined into the
// returned error; the sweep continues past them.
func (m *Manager) SaveAll(ctx context.Context, message string) ([]*SaveResult, error) {
	list, err := m.store.List()
	if err != nil {
		return nil, err
	}

	var results []*SaveResult
	var errs []error
	for _, repo := range list {
		result, err := m.save(ctx, repo, message)
		if err != nil {
			m.logger.Warnw("Save failed", "repo", repo.Name, "error", err)
			errs = append(errs, err)
		}
		if result != nil {
			results = append(results, result)
		}
	}
	return results, errors.Join(errs...)
}

func (m *Manager) save(ctx context.Context, repo *Repo, message string) (*SaveResult, error) {
	result := &SaveResult{Repo: repo.Name}

	manifest, err := LoadManifest(repo.Path)
	if err != nil {
		m.logger.Warnw("Ignoring unreadable repo manifest", "repo", repo.Name, "error", err)
		manifest = Manifest{}
	}

	if manifest.Hooks.PreSave != "" {
		if err := m.runHook(ctx, repo, "pre_save", manifest.Hooks.PreSave); err != nil {
			return result, err
		}
	}

	gitRepo, err := gogit.PlainOpen(repo.Path)
	if err != nil {
		return result, errors.Wrapf(err, "failed to open repo %s", repo.Name)
	}
	wt, err := gitRepo.Worktree()
	if err != nil {
		return result, errors.Wrapf(err, "failed to open worktree for %s", repo.Name)
	}
	for _, pattern := range manifest.Exclude {
		wt.Excludes = append(wt.Excludes, gitignore.ParsePattern(pattern, nil))
	}

	status, err := wt.Status()
	if err != nil {
		return result, errors.Wrapf(err, "failed to read status for %s", repo.Name)
	}
	if status.IsClean() {
		m.logger.Debugw("Nothing to save", "repo", repo.Name)
		return result, nil
	}
	result.Files = len(status)

	if err := wt.AddWithOptions(&gogit.AddOptions{All: true}); err != nil {
		return result, errors.Wrapf(err, "failed to stage changes in %s", repo.Name)
	}

	if message == "" {
		message = fmt.Sprintf("autosave: %d file(s)", result.Files)
	}
	if manifest.CommitPrefix != "" {
		message = manifest.CommitPrefix + message
	}
	result.Message = message

	now := time.Now()
	hash, err := wt.Commit(message, &gogit.CommitOptions{
		Author: &object.Signature{
			Name:  m.cfg.Workspace.GitName,
			Email: m.cfg.Workspace.GitEmail,
			When:  now,
		},
	})
	if err != nil {
		return result, errors.Wrapf(err, "failed to commit in %s", repo.Name)
	}
	result.Committed = true
	result.CommitHash = hash.String()

	if err := m.push(ctx, repo, gitRepo); err != nil {
		return result, err
	}
	result.Pushed = true

	// LastSavedAt means the save landed on the remote; a commit with a
	// failed push stays eligible for the next sweep.
	if err := m.store.SetLastSaved(repo.ID, now.UTC()); err != nil {
		m.logger.Warnw("Failed to record save time", "repo", repo.Name, "error", err)
	}

	if manifest.Hooks.PostSave != "" {
		if err := m.runHook(ctx, repo, "post_save", manifest.Hooks.PostSave); err != nil {
			m.logger.Warnw("Post-save hook failed", "repo", repo.Name, "error", err)
		}
	}

	m.logger.Infow("Saved repository",
		"repo", repo.Name,
		"commit", result.CommitHash,
		"files", result.Files,
	)
	return result, nil
}

// Pull fast-forwards a registered repo from origin. An already up-to-date
// repo is success.
func (m *Manager) Pull(ctx context.Context, name string) error {
	repo, err := m.store.GetByName(name)
	if err != nil {
		return err
	}

	gitRepo, err := gogit.PlainOpen(repo.Path)
	if err != nil {
		return errors.Wrapf(err, "failed to open repo %s", repo.Name)
	}
	wt, err := gitRepo.Worktree()
	if err != nil {
		return errors.Wrapf(err, "failed to open worktree for %s", repo.Name)
	}

	auth, err := m.sshAuth(repo.URL)
	if err != nil {
		return err
	}

	err = wt.PullContext(ctx, &gogit.PullOptions{RemoteName: "origin", Auth: auth})
	if errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		m.logger.Debugw("Already up to date", "repo", repo.Name)
		return nil
	}
	if err != nil {
		return errors.Wrapf(transportHint(err), "failed to pull %s", repo.Name)
	}

	m.logger.Infow("Pulled repository", "repo", repo.Name)
	return nil
}

// push sends the checked-out branch to origin. An up-to-date remote is
// success. Detached HEADs refuse the push: the commit stays local.
func (m *Manager) push(ctx context.Context, repo *Repo, gitRepo *gogit.Repository) error {
	head, err := gitRepo.Head()
	if err != nil {
		return errors.Wrapf(err, "failed to resolve HEAD for %s", repo.Name)
	}
	if !head.Name().IsBranch() {
		return errors.WithHint(
			errors.Newf("repo %s is on a detached HEAD, committed but not pushed", repo.Name),
			"check out a branch to resume pushing")
	}

	auth, err := m.sshAuth(repo.URL)
	if err != nil {
		return err
	}

	err = gitRepo.PushContext(ctx, &gogit.PushOptions{RemoteName: "origin", Auth: auth})
	if errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(transportHint(err), "failed to push %s", repo.Name)
	}
	return nil
}

// runHook executes a manifest hook with the repo root as working directory.
func (m *Manager) runHook(ctx context.Context, repo *Repo, name, command string) error {
	argv, err := shellquote.Split(command)
	if err != nil {
		return errors.Wrapf(err, "failed to parse %s hook for %s", name, repo.Name)
	}
	if len(argv) == 0 {
		return nil
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = repo.Path
	out, err := cmd.CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "%s hook failed for %s: %s",
			name, repo.Name, strings.TrimSpace(string(out)))
	}

	m.logger.Debugw("Hook completed", "repo", repo.Name, "hook", name)
	return nil
}

// sshAuth returns workspace-key auth for ssh remotes and nil for everything
// else (https, local paths).
func (m *Manager) sshAuth(cloneURL string) (transport.AuthMethod, error) {
	ep, err := transport.NewEndpoint(cloneURL)
	if err != nil || ep.Protocol != "ssh" {
		return nil, nil
	}

	signer, err := m.ws.Signer()
	if err != nil {
		return nil, err
	}

	user := ep.User
	if user == "" {
		user = "git"
	}
	return &gitssh.PublicKeys{User: user, Signer: signer}, nil
}

// transportHint decorates common transport failures with setup hints.
func transportHint(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "knownhosts") || strings.Contains(msg, "known_hosts"):
		return errors.WithHint(err, "trust the host first: ssh-keyscan <host> >> ~/.ssh/known_hosts")
	case strings.Contains(msg, "unable to authenticate") || strings.Contains(msg, "handshake failed"):
		return errors.WithHint(err, "add the workspace public key to your git host (roost keygen shows it)")
	}
	return err
}
