package commands

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roostlabs/roost/am"
	"github.com/roostlabs/roost/display"
	"github.com/roostlabs/roost/errors"
	"github.com/roostlabs/roost/logger"
	"github.com/roostlabs/roost/repos"
	"github.com/roostlabs/roost/sym"
	"github.com/roostlabs/roost/workspace"
)

// CloneCmd registers and clones a repository into the workspace
var CloneCmd = &cobra.Command{
	Use:   "clone <source>",
	Short: sym.Sync + " Register and clone a repository",
	Long: sym.Sync + ` clone — Register a repository and clone it into the workspace.

The source can be a full clone URL, a forge shorthand (owner/name), or a
local path. SSH remotes authenticate with the workspace key; run
'roost init' or 'roost keygen' first if you haven't.

Examples:
  roost clone git@github.com:acme/notes.git
  roost clone acme/notes          # expands per workspace.clone_protocol
  roost clone ~/src/scratchpad    # local path`,
	Args: cobra.ExactArgs(1),
	RunE: runClone,
}

// ReposCmd lists registered repositories
var ReposCmd = &cobra.Command{
	Use:   "repos",
	Short: sym.Sync + " List registered repositories",
	Long: sym.Sync + ` repos — List the repositories roost keeps.

Shows each repository's branch, autosave state, and when it was last saved.

Examples:
  roost repos           # Table view
  roost repos --json    # JSON for scripts and the agent`,
	RunE: runRepos,
}

// SaveCmd commits and pushes repository changes
var SaveCmd = &cobra.Command{
	Use:   "save [repo]",
	Short: sym.Sync + " Commit and push repository changes",
	Long: sym.Sync + ` save — Commit and push a repository's changes.

Without a name, saves every registered repository. Clean repositories are
reported and skipped. The commit message defaults to an autosave line with
the file count.

Examples:
  roost save                      # Save everything
  roost save notes                # Save one repository
  roost save notes -m "wip"       # Custom commit message`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSave,
}

// PullCmd fast-forwards a repository from its remote
var PullCmd = &cobra.Command{
	Use:   "pull <repo>",
	Short: sym.Sync + " Pull a repository from its remote",
	Long: sym.Sync + ` pull — Fast-forward a registered repository from origin.

Example:
  roost pull notes`,
	Args: cobra.ExactArgs(1),
	RunE: runPull,
}

var saveMessage string

func init() {
	SaveCmd.Flags().StringVarP(&saveMessage, "message", "m", "", "Commit message (default autosave line)")
}

// openRepoManager wires the store and manager every repo command needs.
// Callers must Close the returned database.
func openRepoManager() (*repos.Manager, *sql.DB, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	database, err := openDatabase("")
	if err != nil {
		return nil, nil, err
	}

	ws := workspace.New(cfg)
	if err := ws.Ensure(); err != nil {
		database.Close()
		return nil, nil, errors.Wrap(err, "failed to create workspace directories")
	}

	store := repos.NewStore(database)
	manager := repos.NewManager(store, ws, cfg, logger.Logger)
	return manager, database, nil
}

func runClone(cmd *cobra.Command, args []string) error {
	manager, database, err := openRepoManager()
	if err != nil {
		return err
	}
	defer database.Close()

	repo, err := manager.Clone(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(repo)
	}

	fmt.Printf("%s Cloned %s\n", sym.Sync, repo.Name)
	fmt.Printf("  URL:    %s\n", repo.URL)
	fmt.Printf("  Path:   %s\n", repo.Path)
	fmt.Printf("  Branch: %s\n", repo.Branch)
	return nil
}

func runRepos(cmd *cobra.Command, args []string) error {
	manager, database, err := openRepoManager()
	if err != nil {
		return err
	}
	defer database.Close()

	list, err := manager.Store().List()
	if err != nil {
		return errors.Wrap(err, "failed to list repos")
	}

	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(list)
	}

	if len(list) == 0 {
		fmt.Printf("%s No repositories registered (try 'roost clone <source>')\n", sym.Sync)
		return nil
	}

	rows := make([][]string, 0, len(list))
	for _, r := range list {
		autosave := "off"
		if r.Autosave {
			autosave = "on"
		}
		lastSaved := "never"
		if r.LastSavedAt != nil {
			lastSaved = r.LastSavedAt.Format("2006-01-02 15:04")
		}
		rows = append(rows, []string{r.Name, r.Branch, autosave, lastSaved, r.URL})
	}
	display.Table(os.Stdout, []string{"NAME", "BRANCH", "AUTOSAVE", "LAST SAVED", "URL"}, rows)
	fmt.Printf("\nTotal: %d repo(s)\n", len(list))
	return nil
}

func runSave(cmd *cobra.Command, args []string) error {
	manager, database, err := openRepoManager()
	if err != nil {
		return err
	}
	defer database.Close()

	var results []*repos.SaveResult
	if len(args) == 1 {
		result, err := manager.Save(cmd.Context(), args[0], saveMessage)
		if err != nil {
			return err
		}
		results = append(results, result)
	} else {
		results, err = manager.SaveAll(cmd.Context(), saveMessage)
		if err != nil {
			return err
		}
	}

	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(results)
	}

	if len(results) == 0 {
		fmt.Printf("%s No repositories registered\n", sym.Sync)
		return nil
	}
	for _, result := range results {
		fmt.Printf("%s %s\n", sym.Sync, formatSaveResult(result))
	}
	return nil
}

func runPull(cmd *cobra.Command, args []string) error {
	manager, database, err := openRepoManager()
	if err != nil {
		return err
	}
	defer database.Close()

	if err := manager.Pull(cmd.Context(), args[0]); err != nil {
		return err
	}

	fmt.Printf("%s Pulled %s\n", sym.Sync, args[0])
	return nil
}

// formatSaveResult renders one repository save outcome.
func formatSaveResult(result *repos.SaveResult) string {
	if !result.Committed {
		return fmt.Sprintf("%s: clean, nothing to save", result.Repo)
	}
	hash := result.CommitHash
	if len(hash) > 7 {
		hash = hash[:7]
	}
	state := "pushed"
	if !result.Pushed {
		state = "not pushed"
	}
	return fmt.Sprintf("%s: committed %s (%d file(s), %s)", result.Repo, hash, result.Files, state)
}
