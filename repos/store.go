package repos

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/roostlabs/roost/errors"
)

// Store persists the repo registry in the repos table.
type Store struct {
	db *sql.DB
}

// NewStore creates a repo store backed by the given database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const repoSelectColumns = `id, name, url, path, branch, autosave, last_saved_at, created_at, updated_at`

// Create registers a repo. Names are unique; registering a taken name
// returns an already-exists error.
func (s *Store) Create(repo *Repo) error {
	if repo.ID == "" {
		repo.ID = "repo-" + uuid.NewString()
	}
	now := time.Now().UTC()
	if repo.CreatedAt.IsZero() {
		repo.CreatedAt = now
	}
	repo.UpdatedAt = now

	existing, err := s.GetByName(repo.Name)
	if err != nil && !errors.IsNotFoundError(err) {
		return err
	}
	if existing != nil {
		return errors.Wrapf(errors.ErrAlreadyExists, "repo %s", repo.Name)
	}

	_, err = s.db.Exec(`
		INSERT INTO repos (id, name, url, path, branch, autosave, last_saved_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		repo.ID, repo.Name, repo.URL, repo.Path, repo.Branch, repo.Autosave,
		nullTime(repo.LastSavedAt), repo.CreatedAt, repo.UpdatedAt)
	if err != nil {
		return errors.Wrapf(err, "failed to create repo %s", repo.Name)
	}
	return nil
}

// Get retrieves a repo by ID.
func (s *Store) Get(id string) (*Repo, error) {
	row := s.db.QueryRow(`SELECT `+repoSelectColumns+` FROM repos WHERE id = ?`, id)
	repo, err := scanRepo(row)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(errors.ErrNotFound, "repo %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get repo %s", id)
	}
	return repo, nil
}

// GetByName retrieves a repo by its registered name.
func (s *Store) GetByName(name string) (*Repo, error) {
	row := s.db.QueryRow(`SELECT `+repoSelectColumns+` FROM repos WHERE name = ?`, name)
	repo, err := scanRepo(row)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(errors.ErrNotFound, "repo %s", name)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get repo %s", name)
	}
	return repo, nil
}

// List returns every registered repo ordered by name.
func (s *Store) List() ([]*Repo, error) {
	rows, err := s.db.Query(`SELECT ` + repoSelectColumns + ` FROM repos ORDER BY name ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list repos")
	}
	defer rows.Close()

	return collectRepos(rows)
}

// ListAutosave returns repos with autosave enabled, ordered by name.
func (s *Store) ListAutosave() ([]*Repo, error) {
	rows, err := s.db.Query(`SELECT ` + repoSelectColumns + ` FROM repos WHERE autosave = 1 ORDER BY name ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list autosave repos")
	}
	defer rows.Close()

	return collectRepos(rows)
}

// SetLastSaved records a successful save.
func (s *Store) SetLastSaved(id string, at time.Time) error {
	result, err := s.db.Exec(`UPDATE repos SET last_saved_at = ?, updated_at = ? WHERE id = ?`,
		at, time.Now().UTC(), id)
	if err != nil {
		return errors.Wrapf(err, "failed to record save time for repo %s", id)
	}
	return requireRow(result, id)
}

// SetAutosave toggles the autosave flag for a repo.
func (s *Store) SetAutosave(id string, enabled bool) error {
	result, err := s.db.Exec(`UPDATE repos SET autosave = ?, updated_at = ? WHERE id = ?`,
		enabled, time.Now().UTC(), id)
	if err != nil {
		return errors.Wrapf(err, "failed to update autosave for repo %s", id)
	}
	return requireRow(result, id)
}

// SetBranch records the branch a repo is tracked on.
func (s *Store) SetBranch(id, branch string) error {
	result, err := s.db.Exec(`UPDATE repos SET branch = ?, updated_at = ? WHERE id = ?`,
		branch, time.Now().UTC(), id)
	if err != nil {
		return errors.Wrapf(err, "failed to update branch for repo %s", id)
	}
	return requireRow(result, id)
}

// Delete removes a repo from the registry. The working tree stays on disk.
func (s *Store) Delete(id string) error {
	result, err := s.db.Exec(`DELETE FROM repos WHERE id = ?`, id)
	if err != nil {
		return errors.Wrapf(err, "failed to delete repo %s", id)
	}
	return requireRow(result, id)
}

// requireRow converts a zero-row update into a not-found error.
func requireRow(result sql.Result, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check update result")
	}
	if rows == 0 {
		return errors.Wrapf(errors.ErrNotFound, "repo %s", id)
	}
	return nil
}

// nullTime returns a NULL bind for unset timestamps.
func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

// scanRepo scans a single row into a new Repo.
func scanRepo(row interface{ Scan(...interface{}) error }) (*Repo, error) {
	repo := &Repo{}
	var lastSaved sql.NullTime
	err := row.Scan(&repo.ID, &repo.Name, &repo.URL, &repo.Path, &repo.Branch,
		&repo.Autosave, &lastSaved, &repo.CreatedAt, &repo.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastSaved.Valid {
		t := lastSaved.Time
		repo.LastSavedAt = &t
	}
	return repo, nil
}

// collectRepos drains a result set into a repo slice.
func collectRepos(rows *sql.Rows) ([]*Repo, error) {
	var repos []*Repo
	for rows.Next() {
		repo, err := scanRepo(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan repo row")
		}
		repos = append(repos, repo)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate repo rows")
	}
	return repos, nil
}
