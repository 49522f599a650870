package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/xlsprobe/internal/config"
)

// ConfigCheckResult holds config validation results.
type ConfigCheckResult struct {
	Valid  bool               `json:"valid"`
	File   string             `json:"file"`
	Errors []ConfigFieldError `json:"errors,omitempty"`
}

// ConfigFieldError is one schema violation.
type ConfigFieldError struct {
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Message string `json:"message"`
}

// NewCheckConfigCommand creates the check-config command.
func NewCheckConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check-config <file>",
		Short: "Validate a config file without running",
		Long: `Validate an xlsprobe YAML config file against the config schema.

Reports unknown keys, malformed durations and addresses, and unsupported
simulators with their line and column.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckConfig(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runCheckConfig(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	data, err := os.ReadFile(path)
	if err != nil {
		_ = formatter.Error(ErrCodeConfigRead, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to read config", err)
	}

	formatter.VerboseLog("Checking %s (%d bytes)", path, len(data))

	var schemaErr *config.SchemaError
	err = config.Check(path, data)
	switch {
	case err == nil:
		return outputCheckSuccess(formatter, path)
	case errors.As(err, &schemaErr):
		return outputCheckErrors(formatter, path, schemaErr)
	default:
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to check config", err)
	}
}

func outputCheckSuccess(formatter *OutputFormatter, path string) error {
	if formatter.Format == "json" {
		return formatter.Success(ConfigCheckResult{Valid: true, File: path})
	}
	fmt.Fprintf(formatter.Writer, "✓ %s is valid\n", path)
	return nil
}

// outputCheckErrors reports schema violations. Invalid config is a
// validation failure (exit code 1), not a command error.
func outputCheckErrors(formatter *OutputFormatter, path string, schemaErr *config.SchemaError) error {
	result := ConfigCheckResult{File: path}
	for _, f := range schemaErr.Fields {
		fe := ConfigFieldError{Message: f.Message}
		if f.Pos.IsValid() {
			fe.Line = f.Pos.Line()
			fe.Column = f.Pos.Column()
		}
		result.Errors = append(result.Errors, fe)
	}
	exitErr := NewExitError(ExitFailure, fmt.Sprintf("config check failed with %d error(s)", len(result.Errors)))

	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   result,
			Error: &CLIError{
				Code:    ErrCodeConfigInvalid,
				Message: result.Errors[0].Message,
			},
		}
		if err := encodeJSON(formatter.Writer, response); err != nil {
			return err
		}
		return exitErr
	}

	fmt.Fprintf(formatter.Writer, "✗ %s is invalid\n\n", path)
	for _, e := range result.Errors {
		if e.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d, column %d\n", e.Line, e.Column)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", ErrCodeConfigInvalid, e.Message)
	}
	return exitErr
}
