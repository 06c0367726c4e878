package commands

import (
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/roostlabs/roost/am"
	"github.com/roostlabs/roost/display"
	"github.com/roostlabs/roost/errors"
	"github.com/roostlabs/roost/prompt"
	"github.com/roostlabs/roost/sym"
	"github.com/roostlabs/roost/workspace"
)

// InitCmd prepares the workspace for first use
var InitCmd = &cobra.Command{
	Use:   "init",
	Short: sym.Open + " Prepare the roost workspace",
	Long: sym.Open + ` init — Prepare the roost workspace for first use.

Creates the workspace directory tree, generates the SSH keypair the agent
uses for git remotes, derives the did:key identity, migrates the database,
and seeds the starter prompt library. Safe to re-run; existing keys and
prompts are left alone.

Examples:
  roost init                # Set up everything under workspace.root
  roost init --comment bot  # Key comment for the generated SSH key`,
	RunE: runInit,
}

var initKeyComment string

func init() {
	InitCmd.Flags().StringVar(&initKeyComment, "comment", "", "Comment for the generated SSH key (default roost@hostname)")
}

// initResult is the JSON shape of a completed init.
type initResult struct {
	Workspace     string `json:"workspace"`
	Database      string `json:"database"`
	PublicKey     string `json:"public_key"`
	Fingerprint   string `json:"fingerprint"`
	KeyGenerated  bool   `json:"key_generated"`
	DID           string `json:"did"`
	PromptsSeeded int    `json:"prompts_seeded"`
	CronLine      string `json:"cron_line"`
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ws := workspace.New(cfg)
	if err := ws.Ensure(); err != nil {
		return errors.Wrap(err, "failed to create workspace directories")
	}

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	database.Close()

	keyGenerated := true
	kp, err := ws.GenerateKeypair(initKeyComment, false)
	if errors.IsAlreadyExistsError(err) {
		keyGenerated = false
		kp, err = ws.Keypair()
	}
	if err != nil {
		return errors.Wrap(err, "failed to set up workspace key")
	}

	identity, err := ws.LoadOrCreateIdentity()
	if err != nil {
		return errors.Wrap(err, "failed to derive identity")
	}

	seeded, err := prompt.SeedStarters(ws.PromptsDir)
	if err != nil {
		return errors.Wrap(err, "failed to seed starter prompts")
	}

	// Pin the resolved workspace root so later runs agree with this one even
	// if $HOME moves. Written 0600 with the rest of the managed config.
	if err := am.SetValue("workspace.root", ws.Root); err != nil {
		return errors.Wrap(err, "failed to write managed config")
	}

	cronLine := workspace.CronLine(cfg.Workspace.CronSpec, executablePath(), "queue", "process")

	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(initResult{
			Workspace:     ws.Root,
			Database:      resolvedDatabasePath(),
			PublicKey:     kp.PublicLine,
			Fingerprint:   kp.Fingerprint,
			KeyGenerated:  keyGenerated,
			DID:           identity.DID,
			PromptsSeeded: len(seeded),
			CronLine:      cronLine,
		})
	}

	fmt.Printf("%s Workspace ready at %s\n\n", sym.Open, ws.Root)
	pterm.Success.Printf("Directories ensured (repos, prompts, keys, state)\n")
	pterm.Success.Printf("Database migrated (%s)\n", resolvedDatabasePath())
	if keyGenerated {
		pterm.Success.Printf("SSH key generated (%s)\n", kp.PrivatePath)
	} else {
		pterm.Info.Printf("Using existing SSH key (%s)\n", kp.PrivatePath)
	}
	pterm.Success.Printf("Identity %s\n", identity.DID)
	if len(seeded) > 0 {
		pterm.Success.Printf("Seeded %d starter prompt(s)\n", len(seeded))
	} else {
		pterm.Info.Printf("Prompt library already populated\n")
	}

	fmt.Printf("\n%s Public key (add as a deploy key on your forge):\n", sym.Key)
	fmt.Printf("  %s\n", kp.PublicLine)
	fmt.Printf("  %s\n", kp.Fingerprint)

	fmt.Printf("\nTo process the queue from cron:\n")
	fmt.Printf("  %s\n", cronLine)
	return nil
}

// executablePath returns the running binary's path for cron hints, falling
// back to the bare command name when the path can't be resolved.
func executablePath() string {
	exe, err := os.Executable()
	if err != nil {
		return "roost"
	}
	return exe
}
