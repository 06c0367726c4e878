package commands

import (
	"fmt"

	"github.com/roostlabs/roost/am"
	"github.com/roostlabs/roost/logger"
	"github.com/roostlabs/roost/sym"
	"github.com/roostlabs/roost/version"
)

// printStartupBanner prints the user-friendly daemon startup message
func printStartupBanner(verbosity int, cfg *am.Config, dbPath string) {
	// ANSI escape codes
	cyan := "\033[36m"
	green := "\033[32m"
	yellow := "\033[33m"
	blue := "\033[34m"
	magenta := "\033[35m"
	white := "\033[37m"
	bgBlack := "\033[40m"
	bold := "\033[1m"
	reset := "\033[0m"

	versionInfo := version.Get()

	fmt.Printf("\n%s%s", cyan, bold)
	fmt.Printf("   ╔═══════════════════════════════════════════════════╗\n")
	fmt.Printf("   ║                                                   ║\n")
	fmt.Printf("   ║     %s%s%s ██████   ████    ████    █████  ██████ %s      ║\n", white, bold, bgBlack, reset+cyan+bold)
	fmt.Printf("   ║     %s%s%s ██  ██  ██  ██  ██  ██  ██        ██   %s      ║\n", white, bold, bgBlack, reset+cyan+bold)
	fmt.Printf("   ║     %s%s%s █████   ██  ██  ██  ██   ████     ██   %s      ║\n", white, bold, bgBlack, reset+cyan+bold)
	fmt.Printf("   ║     %s%s%s ██  ██  ██  ██  ██  ██      ██    ██   %s      ║\n", white, bold, bgBlack, reset+cyan+bold)
	fmt.Printf("   ║     %s%s%s ██  ██   ████    ████   █████     ██   %s      ║\n", white, bold, bgBlack, reset+cyan+bold)
	fmt.Printf("   ║                                                   ║\n")
	fmt.Printf("   ║   %s%s%s Queue  %s%s%s Save  %s%s%s Agent  %s%s%s Prompts             ║\n",
		magenta, sym.Queue, reset+cyan+bold, green, sym.Sync, reset+cyan+bold, blue, sym.Agent, reset+cyan+bold, yellow, sym.Doc, reset+cyan+bold)
	fmt.Printf("   ║                                                   ║\n")
	fmt.Printf("   ╚═══════════════════════════════════════════════════╝%s\n\n", reset)

	fmt.Printf("%s%s┌─ Roost Info ────────────────────────────────────────┐%s\n", green, bold, reset)
	fmt.Printf("%s│%s Version:   %s (commit %s)\n", green, reset, versionInfo.Version, versionInfo.Short())
	fmt.Printf("%s│%s Built:     %s\n", green, reset, versionInfo.BuildTime)
	fmt.Printf("%s│%s Verbosity: %s\n", green, reset, logger.LevelName(verbosity))
	if dbPath != "" {
		fmt.Printf("%s│%s Database:  %s\n", green, reset, dbPath)
	}
	if cfg != nil {
		fmt.Printf("%s│%s Workspace: %s\n", green, reset, cfg.GetWorkspaceRoot())
		fmt.Printf("%s│%s Listen:    http://%s\n", green, reset, cfg.GetListenAddr())
	}
	fmt.Printf("%s└─────────────────────────────────────────────────────┘%s\n", green, reset)

	fmt.Printf("\n%s%s✨ Queue work for the agent with 'roost queue add'%s\n", yellow, bold, reset)
	fmt.Printf("%s💡 Press Ctrl+C to stop%s\n\n", blue, reset)
}
