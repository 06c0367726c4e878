package repos

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/roostlabs/roost/am"
	"github.com/roostlabs/roost/errors"
	roosttest "github.com/roostlabs/roost/internal/testing"
	"github.com/roostlabs/roost/workspace"
)

type managerFixture struct {
	db    *sql.DB
	store *Store
	ws    *workspace.Workspace
	cfg   *am.Config
	m     *Manager
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	cfg := &am.Config{}
	cfg.Workspace.Root = filepath.Join(t.TempDir(), "ws")
	cfg.Workspace.CloneProtocol = "ssh"
	cfg.Workspace.GitName = "roost"
	cfg.Workspace.GitEmail = "roost@localhost"

	ws := workspace.New(cfg)
	require.NoError(t, ws.Ensure())

	db := roosttest.CreateMigratedTestDB(t)
	store := NewStore(db)
	return &managerFixture{
		db:    db,
		store: store,
		ws:    ws,
		cfg:   cfg,
		m:     NewManager(store, ws, cfg, zap.NewNop().Sugar()),
	}
}

func TestCloneRegistersRepo(t *testing.T) {
	f := newManagerFixture(t)
	remote := seedRemote(t, "notes")

	repo, err := f.m.Clone(context.Background(), remote)
	require.NoError(t, err)

	assert.Equal(t, "notes", repo.Name)
	assert.Equal(t, filepath.Join(f.ws.ReposDir, "notes"), repo.Path)
	assert.Equal(t, "master", repo.Branch)
	assert.True(t, repo.Autosave)
	assert.FileExists(t, filepath.Join(repo.Path, "README.md"))

	stored, err := f.store.GetByName("notes")
	require.NoError(t, err)
	assert.Equal(t, repo.ID, stored.ID)
	assert.Equal(t, remote, stored.URL)
}

func TestCloneDuplicateName(t *testing.T) {
	f := newManagerFixture(t)
	remote := seedRemote(t, "notes")

	_, err := f.m.Clone(context.Background(), remote)
	require.NoError(t, err)

	_, err = f.m.Clone(context.Background(), remote)
	require.Error(t, err)
	assert.True(t, errors.IsAlreadyExistsError(err))
}

func TestCloneTargetNotGitRepo(t *testing.T) {
	f := newManagerFixture(t)
	remote := seedRemote(t, "notes")

	// Something already squats on the clone target.
	writeRepoFile(t, filepath.Join(f.ws.ReposDir, "notes"), "junk.txt", "junk\n")

	_, err := f.m.Clone(context.Background(), remote)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a git repository")
	assert.Contains(t, strings.Join(errors.GetAllHints(err), "\n"), "remove the directory")
}

func TestSaveCommitsAndPushes(t *testing.T) {
	f := newManagerFixture(t)
	remote := seedRemote(t, "notes")
	repo, err := f.m.Clone(context.Background(), remote)
	require.NoError(t, err)

	writeRepoFile(t, repo.Path, "scratch.md", "hello\n")

	result, err := f.m.Save(context.Background(), "notes", "")
	require.NoError(t, err)
	assert.True(t, result.Committed)
	assert.True(t, result.Pushed)
	assert.Equal(t, 1, result.Files)
	assert.Equal(t, "autosave: 1 file(s)", result.Message)
	require.NotEmpty(t, result.CommitHash)

	// The remote branch advanced to the save commit.
	bare, err := gogit.PlainOpen(remote)
	require.NoError(t, err)
	ref, err := bare.Reference(plumbing.NewBranchReferenceName("master"), true)
	require.NoError(t, err)
	assert.Equal(t, result.CommitHash, ref.Hash().String())

	stored, err := f.store.GetByName("notes")
	require.NoError(t, err)
	assert.NotNil(t, stored.LastSavedAt)
}

func TestSaveCleanWorktree(t *testing.T) {
	f := newManagerFixture(t)
	remote := seedRemote(t, "notes")
	_, err := f.m.Clone(context.Background(), remote)
	require.NoError(t, err)

	result, err := f.m.Save(context.Background(), "notes", "")
	require.NoError(t, err)
	assert.False(t, result.Committed)
	assert.False(t, result.Pushed)
	assert.Empty(t, result.CommitHash)

	stored, err := f.store.GetByName("notes")
	require.NoError(t, err)
	assert.Nil(t, stored.LastSavedAt)
}

func TestSaveUsesCustomMessage(t *testing.T) {
	f := newManagerFixture(t)
	remote := seedRemote(t, "notes")
	repo, err := f.m.Clone(context.Background(), remote)
	require.NoError(t, err)

	writeRepoFile(t, repo.Path, "scratch.md", "hello\n")

	result, err := f.m.Save(context.Background(), "notes", "checkpoint before refactor")
	require.NoError(t, err)
	assert.Equal(t, "checkpoint before refactor", result.Message)

	gitRepo, err := gogit.PlainOpen(repo.Path)
	require.NoError(t, err)
	head, err := gitRepo.Head()
	require.NoError(t, err)
	commit, err := gitRepo.CommitObject(head.Hash())
	require.NoError(t, err)
	assert.Equal(t, "checkpoint before refactor", commit.Message)
	assert.Equal(t, "roost", commit.Author.Name)
	assert.Equal(t, "roost@localhost", commit.Author.Email)
}

func TestSaveHonorsManifestExcludes(t *testing.T) {
	f := newManagerFixture(t)
	remote := seedRemote(t, "notes")
	repo, err := f.m.Clone(context.Background(), remote)
	require.NoError(t, err)

	writeRepoFile(t, repo.Path, ManifestFileName, "commit_prefix = \"[roost] \"\nexclude = [\"*.log\"]\n")
	writeRepoFile(t, repo.Path, "scratch.md", "keep me\n")
	writeRepoFile(t, repo.Path, "debug.log", "drop me\n")

	result, err := f.m.Save(context.Background(), "notes", "")
	require.NoError(t, err)
	assert.True(t, result.Committed)
	assert.Equal(t, 2, result.Files) // manifest + scratch.md
	assert.Equal(t, "[roost] autosave: 2 file(s)", result.Message)

	gitRepo, err := gogit.PlainOpen(repo.Path)
	require.NoError(t, err)
	head, err := gitRepo.Head()
	require.NoError(t, err)
	commit, err := gitRepo.CommitObject(head.Hash())
	require.NoError(t, err)
	_, err = commit.File("scratch.md")
	require.NoError(t, err)
	_, err = commit.File("debug.log")
	assert.ErrorIs(t, err, object.ErrFileNotFound)
}

func TestSavePreSaveHookFailureAborts(t *testing.T) {
	f := newManagerFixture(t)
	remote := seedRemote(t, "notes")
	repo, err := f.m.Clone(context.Background(), remote)
	require.NoError(t, err)

	head := repoHead(t, repo.Path)
	writeRepoFile(t, repo.Path, ManifestFileName, "[hooks]\npre_save = \"false\"\n")
	writeRepoFile(t, repo.Path, "scratch.md", "hello\n")

	result, err := f.m.Save(context.Background(), "notes", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pre_save hook failed")
	assert.False(t, result.Committed)
	assert.Equal(t, head, repoHead(t, repo.Path)) // nothing committed
}

func TestSaveHookRunsInRepoDir(t *testing.T) {
	f := newManagerFixture(t)
	remote := seedRemote(t, "notes")
	repo, err := f.m.Clone(context.Background(), remote)
	require.NoError(t, err)

	writeRepoFile(t, repo.Path, ManifestFileName, "[hooks]\npre_save = \"touch hooked.txt\"\n")

	_, err = f.m.Save(context.Background(), "notes", "")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(repo.Path, "hooked.txt"))
}

func TestSavePostSaveHookFailureIsIgnored(t *testing.T) {
	f := newManagerFixture(t)
	remote := seedRemote(t, "notes")
	repo, err := f.m.Clone(context.Background(), remote)
	require.NoError(t, err)

	writeRepoFile(t, repo.Path, ManifestFileName, "[hooks]\npost_save = \"false\"\n")
	writeRepoFile(t, repo.Path, "scratch.md", "hello\n")

	result, err := f.m.Save(context.Background(), "notes", "")
	require.NoError(t, err)
	assert.True(t, result.Committed)
	assert.True(t, result.Pushed)
}

func TestSaveDetachedHead(t *testing.T) {
	f := newManagerFixture(t)
	remote := seedRemote(t, "notes")
	repo, err := f.m.Clone(context.Background(), remote)
	require.NoError(t, err)

	gitRepo, err := gogit.PlainOpen(repo.Path)
	require.NoError(t, err)
	head, err := gitRepo.Head()
	require.NoError(t, err)
	wt, err := gitRepo.Worktree()
	require.NoError(t, err)
	require.NoError(t, wt.Checkout(&gogit.CheckoutOptions{Hash: head.Hash()}))

	writeRepoFile(t, repo.Path, "scratch.md", "hello\n")

	result, err := f.m.Save(context.Background(), "notes", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "detached HEAD")
	assert.True(t, result.Committed) // commit landed, push refused
	assert.False(t, result.Pushed)
	assert.Contains(t, strings.Join(errors.GetAllHints(err), "\n"), "check out a branch")

	// A commit that never reached the remote is not a recorded save.
	stored, err := f.store.GetByName("notes")
	require.NoError(t, err)
	assert.Nil(t, stored.LastSavedAt)
}

func TestSaveMissingRepo(t *testing.T) {
	f := newManagerFixture(t)

	_, err := f.m.Save(context.Background(), "ghost", "")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestSaveAllContinuesPastFailures(t *testing.T) {
	f := newManagerFixture(t)
	remote := seedRemote(t, "notes")
	repo, err := f.m.Clone(context.Background(), remote)
	require.NoError(t, err)
	writeRepoFile(t, repo.Path, "scratch.md", "hello\n")

	// A registry entry whose worktree is gone.
	require.NoError(t, f.store.Create(&Repo{
		Name: "broken", URL: "/nowhere", Path: "/nonexistent/broken", Autosave: true,
	}))

	results, err := f.m.SaveAll(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	require.Len(t, results, 2)

	committed := 0
	for _, r := range results {
		if r.Committed {
			committed++
			assert.Equal(t, "notes", r.Repo)
		}
	}
	assert.Equal(t, 1, committed)
}

func TestPullFastForwards(t *testing.T) {
	f := newManagerFixture(t)
	remote := seedRemote(t, "notes")
	repo, err := f.m.Clone(context.Background(), remote)
	require.NoError(t, err)

	// Another clone pushes a commit this one does not have.
	other := filepath.Join(t.TempDir(), "other")
	otherRepo, err := gogit.PlainClone(other, false, &gogit.CloneOptions{URL: remote})
	require.NoError(t, err)
	writeRepoFile(t, other, "upstream.md", "from elsewhere\n")
	commitAll(t, otherRepo, "upstream change")
	require.NoError(t, otherRepo.Push(&gogit.PushOptions{}))

	require.NoError(t, f.m.Pull(context.Background(), "notes"))
	assert.FileExists(t, filepath.Join(repo.Path, "upstream.md"))

	// A second pull is already up to date.
	require.NoError(t, f.m.Pull(context.Background(), "notes"))
}

func TestPullMissingRepo(t *testing.T) {
	f := newManagerFixture(t)

	err := f.m.Pull(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func repoHead(t *testing.T, path string) string {
	t.Helper()
	gitRepo, err := gogit.PlainOpen(path)
	require.NoError(t, err)
	head, err := gitRepo.Head()
	require.NoError(t, err)
	return head.Hash().String()
}
