package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/ustack/internal/config"
)

var validatePrint bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Load and validate a configuration file without starting the stack.

Examples:
  ustack validate -c config.yml
  ustack validate -c config.yml --print    # Also print the effective configuration`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(configFile, validatePrint, cmd.OutOrStdout())
	},
}

func init() {
	validateCmd.Flags().BoolVar(&validatePrint, "print", false, "print the effective configuration")
}

func runValidate(path string, show bool, out io.Writer) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("INVALID: %w", err)
	}

	fmt.Fprintf(out, "VALID: %d device(s), log level %s\n", len(cfg.Devices), cfg.Log.Level)
	if !show {
		return nil
	}
	data, err := cfg.YAML()
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}
	_, err = out.Write(data)
	return err
}
