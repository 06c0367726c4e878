package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roostlabs/roost/am"
	"github.com/roostlabs/roost/display"
	"github.com/roostlabs/roost/errors"
	"github.com/roostlabs/roost/sym"
	"github.com/roostlabs/roost/workspace"
)

// KeygenCmd generates the workspace SSH keypair
var KeygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: sym.Key + " Generate the workspace SSH keypair",
	Long: sym.Key + ` keygen — Generate the ed25519 keypair the agent uses for git.

The private key stays in the workspace keys directory (mode 0600); add the
public line as a deploy key on your forge. Refuses to overwrite an existing
key unless --force is given, because replacing the key invalidates every
deploy key derived from it.

Examples:
  roost keygen                      # Generate if missing
  roost keygen --force              # Replace the existing key
  roost keygen --comment ci-roost   # Custom key comment`,
	RunE: runKeygen,
}

var (
	keygenForce   bool
	keygenComment string
)

func init() {
	KeygenCmd.Flags().BoolVar(&keygenForce, "force", false, "Overwrite an existing keypair")
	KeygenCmd.Flags().StringVar(&keygenComment, "comment", "", "Comment for the key (default roost@hostname)")
}

func runKeygen(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ws := workspace.New(cfg)
	if err := ws.Ensure(); err != nil {
		return errors.Wrap(err, "failed to create workspace directories")
	}

	kp, err := ws.GenerateKeypair(keygenComment, keygenForce)
	if err != nil {
		return err
	}

	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(kp)
	}

	fmt.Printf("%s Keypair written to %s\n", sym.Key, kp.PrivatePath)
	fmt.Printf("  %s\n", kp.PublicLine)
	fmt.Printf("  %s\n", kp.Fingerprint)
	fmt.Printf("\nAdd the public line as a deploy key on your forge.\n")
	return nil
}
