package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"changewatch/internal/config"
	pkgconfig "changewatch/internal/pkg/config"
)

// validateCmd checks a monitors file without fetching anything.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a monitors file",
	Long: `Validate a changewatch monitors file without starting the daemon.

The file is parsed, ${VAR} references are expanded, defaults are applied and
every entry is validated, including duplicate detection. Useful in CI before
a deploy.

Exit codes:
  0 - File is valid
  1 - File is invalid (details printed to stderr)

Example:
  changewatch validate -c monitors.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to the monitors file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	interval := pkgconfig.LoadEnvDuration("MONITOR_DEFAULT_INTERVAL", 5*time.Minute,
		pkgconfig.DurationRange(time.Second, 7*24*time.Hour)).Value

	file, err := config.LoadMonitors(path)
	if err != nil {
		return fmt.Errorf("invalid monitors file: %w", err)
	}
	resources, err := file.ResourceConfigs(interval)
	if err != nil {
		return fmt.Errorf("invalid monitors file: %w", err)
	}

	disabled := 0
	for _, rc := range resources {
		if rc.Disabled {
			disabled++
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Monitors file is valid!\n")
	fmt.Fprintf(out, "  Default interval: %s\n", interval)
	fmt.Fprintf(out, "  Monitors:         %d (%d enabled, %d disabled)\n",
		len(resources), len(resources)-disabled, disabled)
	return nil
}
