package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/roostlabs/roost/am"
	"github.com/roostlabs/roost/display"
	"github.com/roostlabs/roost/errors"
	"github.com/roostlabs/roost/internal/util"
	"github.com/roostlabs/roost/logger"
	"github.com/roostlabs/roost/prompt"
	"github.com/roostlabs/roost/sym"
	"github.com/roostlabs/roost/workspace"
)

// PromptCmd groups prompt library operations
var PromptCmd = &cobra.Command{
	Use:   "prompt",
	Short: sym.Doc + " Manage the prompt library",
	Long: sym.Doc + ` prompt — Manage the workspace prompt documents.

Prompts are markdown files with YAML frontmatter (model, sampling, category,
required variables) living in the workspace prompts directory. The agent can
edit them and save them back like any other file.

Commands:
  roost prompt list              # List prompt documents
  roost prompt show <name>       # Show frontmatter and body
  roost prompt render <name>     # Render with variables substituted`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var promptListCmd = &cobra.Command{
	Use:   "list",
	Short: "List prompt documents",
	RunE:  runPromptList,
}

var promptShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show a prompt document",
	Args:  cobra.ExactArgs(1),
	RunE:  runPromptShow,
}

var promptRenderCmd = &cobra.Command{
	Use:   "render <name>",
	Short: "Render a prompt with variables substituted",
	Long: `Render a prompt document, substituting {{placeholders}} from --var pairs.
Useful for checking what the agent will actually receive.

Example:
  roost prompt render daily-briefing --var last_run=2026-08-24`,
	Args: cobra.ExactArgs(1),
	RunE: runPromptRender,
}

var promptRenderVars []string

func init() {
	promptRenderCmd.Flags().StringArrayVar(&promptRenderVars, "var", nil, "Template variable as key=value (repeatable)")

	PromptCmd.AddCommand(promptListCmd)
	PromptCmd.AddCommand(promptShowCmd)
	PromptCmd.AddCommand(promptRenderCmd)
}

// openPromptStore loads the workspace prompt library.
func openPromptStore() (*prompt.Store, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	ws := workspace.New(cfg)
	store := prompt.NewStore(ws.PromptsDir, logger.Logger)
	if err := store.Load(); err != nil {
		return nil, errors.Wrapf(err, "failed to load prompts from %s", ws.PromptsDir)
	}
	return store, nil
}

func runPromptList(cmd *cobra.Command, args []string) error {
	store, err := openPromptStore()
	if err != nil {
		return err
	}

	docs := store.List()

	if display.ShouldOutputJSON(cmd) {
		metas := make([]prompt.Metadata, 0, len(docs))
		for _, doc := range docs {
			metas = append(metas, doc.Metadata)
		}
		return display.OutputJSON(metas)
	}

	if len(docs) == 0 {
		fmt.Printf("%s No prompts in %s (run 'roost init' to seed starters)\n", sym.Doc, store.Dir())
		return nil
	}

	rows := make([][]string, 0, len(docs))
	for _, doc := range docs {
		model := doc.Metadata.Model
		if model == "" {
			model = "-"
		}
		category := doc.Metadata.Category
		if category == "" {
			category = "-"
		}
		rows = append(rows, []string{
			doc.Metadata.Name,
			doc.Metadata.Version,
			category,
			model,
			util.Truncate(doc.Metadata.Description, 50),
		})
	}
	display.Table(os.Stdout, []string{"NAME", "VERSION", "CATEGORY", "MODEL", "DESCRIPTION"}, rows)
	fmt.Printf("\nTotal: %d prompt(s) in %s\n", len(docs), store.Dir())
	return nil
}

func runPromptShow(cmd *cobra.Command, args []string) error {
	store, err := openPromptStore()
	if err != nil {
		return err
	}

	doc, err := store.Get(args[0])
	if err != nil {
		return err
	}

	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(doc)
	}

	meta := doc.Metadata
	fmt.Printf("%s %s", sym.Doc, meta.Name)
	if meta.Version != "" {
		fmt.Printf(" v%s", meta.Version)
	}
	fmt.Printf("\n")
	if meta.Description != "" {
		fmt.Printf("  %s\n", meta.Description)
	}
	if meta.Model != "" {
		fmt.Printf("  Model: %s\n", meta.Model)
	}
	if meta.Category != "" {
		fmt.Printf("  Category: %s\n", meta.Category)
	}
	if meta.Requires != "" {
		fmt.Printf("  Requires: roost %s\n", meta.Requires)
	}
	if len(meta.Variables) > 0 {
		fmt.Printf("  Variables: %s\n", strings.Join(meta.Variables, ", "))
	}
	fmt.Printf("\n%s\n", doc.Body)
	return nil
}

func runPromptRender(cmd *cobra.Command, args []string) error {
	store, err := openPromptStore()
	if err != nil {
		return err
	}

	doc, err := store.Get(args[0])
	if err != nil {
		return err
	}

	vars := make(map[string]string, len(promptRenderVars))
	for _, pair := range promptRenderVars {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return errors.NewInvalidRequestError(fmt.Sprintf("--var %q must be key=value", pair))
		}
		vars[key] = value
	}

	if err := doc.CheckRequires(); err != nil {
		pterm.Warning.Printf("%v\n", err)
	}

	rendered, err := doc.Render(vars)
	if err != nil {
		return err
	}

	fmt.Println(rendered)
	return nil
}
