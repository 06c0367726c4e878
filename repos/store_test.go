package repos

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roostlabs/roost/errors"
	roosttest "github.com/roostlabs/roost/internal/testing"
)

func testRepo(name string) *Repo {
	return &Repo{
		Name:     name,
		URL:      "git@github.com:roostlabs/" + name + ".git",
		Path:     "/ws/repos/" + name,
		Branch:   "main",
		Autosave: true,
	}
}

func TestStoreCreateAndGet(t *testing.T) {
	s := NewStore(roosttest.CreateMigratedTestDB(t))

	repo := testRepo("notes")
	require.NoError(t, s.Create(repo))
	assert.True(t, strings.HasPrefix(repo.ID, "repo-"))
	assert.False(t, repo.CreatedAt.IsZero())

	got, err := s.Get(repo.ID)
	require.NoError(t, err)
	assert.Equal(t, "notes", got.Name)
	assert.Equal(t, "main", got.Branch)
	assert.True(t, got.Autosave)
	assert.Nil(t, got.LastSavedAt)

	byName, err := s.GetByName("notes")
	require.NoError(t, err)
	assert.Equal(t, repo.ID, byName.ID)
}

func TestStoreCreateDuplicateName(t *testing.T) {
	s := NewStore(roosttest.CreateMigratedTestDB(t))

	require.NoError(t, s.Create(testRepo("notes")))
	err := s.Create(testRepo("notes"))
	require.Error(t, err)
	assert.True(t, errors.IsAlreadyExistsError(err))
}

func TestStoreGetMissing(t *testing.T) {
	s := NewStore(roosttest.CreateMigratedTestDB(t))

	_, err := s.Get("repo-missing")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))

	_, err = s.GetByName("ghost")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestStoreListOrdersByName(t *testing.T) {
	s := NewStore(roosttest.CreateMigratedTestDB(t))

	for _, name := range []string{"charlie", "alpha", "bravo"} {
		require.NoError(t, s.Create(testRepo(name)))
	}

	list, err := s.List()
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "alpha", list[0].Name)
	assert.Equal(t, "bravo", list[1].Name)
	assert.Equal(t, "charlie", list[2].Name)
}

func TestStoreListAutosave(t *testing.T) {
	s := NewStore(roosttest.CreateMigratedTestDB(t))

	require.NoError(t, s.Create(testRepo("watched")))
	manual := testRepo("manual")
	manual.Autosave = false
	require.NoError(t, s.Create(manual))

	list, err := s.ListAutosave()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "watched", list[0].Name)
}

func TestStoreSetLastSaved(t *testing.T) {
	s := NewStore(roosttest.CreateMigratedTestDB(t))

	repo := testRepo("notes")
	require.NoError(t, s.Create(repo))

	at := time.Now().UTC()
	require.NoError(t, s.SetLastSaved(repo.ID, at))

	got, err := s.Get(repo.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastSavedAt)
	assert.WithinDuration(t, at, *got.LastSavedAt, time.Second)

	err = s.SetLastSaved("repo-missing", at)
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestStoreSetAutosave(t *testing.T) {
	s := NewStore(roosttest.CreateMigratedTestDB(t))

	repo := testRepo("notes")
	require.NoError(t, s.Create(repo))

	require.NoError(t, s.SetAutosave(repo.ID, false))
	got, err := s.Get(repo.ID)
	require.NoError(t, err)
	assert.False(t, got.Autosave)

	list, err := s.ListAutosave()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestStoreSetBranch(t *testing.T) {
	s := NewStore(roosttest.CreateMigratedTestDB(t))

	repo := testRepo("notes")
	require.NoError(t, s.Create(repo))

	require.NoError(t, s.SetBranch(repo.ID, "develop"))
	got, err := s.Get(repo.ID)
	require.NoError(t, err)
	assert.Equal(t, "develop", got.Branch)
}

func TestStoreDelete(t *testing.T) {
	s := NewStore(roosttest.CreateMigratedTestDB(t))

	repo := testRepo("notes")
	require.NoError(t, s.Create(repo))

	require.NoError(t, s.Delete(repo.ID))
	_, err := s.GetByName("notes")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))

	err = s.Delete(repo.ID)
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}
