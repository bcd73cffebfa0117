package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dylanbstorey/arawn-sub003/internal/workspace"
)

// buildDoctorCmd creates the "doctor" command, a read-only diagnostic
// pass over the settings runServe would use, without a config file to
// inspect (out of scope, see SPEC_FULL.md §1) -- it checks environment
// variables and the workspace directory instead.
func buildDoctorCmd() *cobra.Command {
	var (
		workspaceRoot string
		providerName  string
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check environment and workspace configuration",
		Long: `Reports whether the environment variables and workspace files
arawnd serve depends on are present, without starting the gateway.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(workspaceRoot, providerName)
		},
	}

	cmd.Flags().StringVar(&workspaceRoot, "workspace", ".", "workspace root to inspect")
	cmd.Flags().StringVar(&providerName, "provider", "anthropic", "provider whose API key to check")

	return cmd
}

func runDoctor(workspaceRoot, providerName string) error {
	ok := true

	check := func(label string, healthy bool, detail string) {
		status := "ok"
		if !healthy {
			status = "MISSING"
			ok = false
		}
		fmt.Printf("%-28s %-8s %s\n", label, status, detail)
	}

	switch providerName {
	case "openai":
		check("OPENAI_API_KEY", os.Getenv("OPENAI_API_KEY") != "", "required for --provider openai")
	default:
		check("ANTHROPIC_API_KEY", os.Getenv("ANTHROPIC_API_KEY") != "", "required for --provider anthropic")
	}

	info, err := os.Stat(workspaceRoot)
	check("workspace root", err == nil && info.IsDir(), workspaceRoot)

	for _, name := range []string{"AGENTS.md", "SOUL.md", "USER.md", "IDENTITY.md", "MEMORY.md"} {
		_, statErr := os.Stat(workspaceRoot + string(os.PathSeparator) + name)
		check(name, statErr == nil, "run `arawnd serve` once to bootstrap, or seed it by hand")
	}

	files := workspace.DefaultBootstrapFiles()
	check("bootstrap file set", len(files) > 0, fmt.Sprintf("%d default files known", len(files)))

	if !ok {
		return fmt.Errorf("doctor: one or more checks failed")
	}
	fmt.Println("all checks passed")
	return nil
}
