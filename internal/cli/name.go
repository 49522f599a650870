package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/xlsprobe/internal/firmware"
)

// NameOptions holds flags for the name command.
type NameOptions struct {
	*RootOptions
	Paths       bool
	TestDataDir string

	// Lookup reads the build environment. If nil, defaults to os.LookupEnv.
	Lookup firmware.LookupFunc
}

// NameOutput is the JSON payload of the name command.
type NameOutput struct {
	Build      firmware.Options `json:"build"`
	ConfigName string           `json:"config_name"`
	firmware.Paths
}

// NewNameCommand creates the name command.
func NewNameCommand(rootOpts *RootOptions) *cobra.Command {
	return newNameCommand(&NameOptions{RootOptions: rootOpts})
}

func newNameCommand(opts *NameOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "name",
		Short: "Print the firmware name for the current build configuration",
		Long: `Print the firmware name derived from MAKE_CONFIG and PLATFORM.

The name is fw_<platform>, followed by _<dma> unless DMA=none and by _irq
when INTERRUPTS=yes. With --paths the stimuli, reference and XLS config
paths used by "xlsprobe run" are printed as well.

Example:
  MAKE_CONFIG="DMA=axi INTERRUPTS=yes" PLATFORM=sim xlsprobe name
  xlsprobe name --paths --test-data ci/test_data`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runName(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Paths, "paths", false, "also print the derived test data paths")
	cmd.Flags().StringVar(&opts.TestDataDir, "test-data", firmware.DefaultTestDataDir, "directory holding stimuli, references and XLS configs")

	return cmd
}

func runName(opts *NameOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	lookup := opts.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	build, err := firmware.FromLookup(lookup)
	if err != nil {
		_ = formatter.Error(ErrCodeEnvironment, err.Error(), nil)
		return WrapExitError(ExitCommandError, "cannot derive firmware name", err)
	}
	paths := build.Layout(opts.TestDataDir)

	if opts.Format == "json" {
		return formatter.Success(NameOutput{
			Build:      build,
			ConfigName: build.ConfigName(),
			Paths:      paths,
		})
	}

	w := formatter.Writer
	if !opts.Paths {
		fmt.Fprintln(w, paths.Firmware)
		return nil
	}
	fmt.Fprintf(w, "firmware:   %s\n", paths.Firmware)
	fmt.Fprintf(w, "stimuli:    %s\n", paths.Stimuli)
	fmt.Fprintf(w, "reference:  %s\n", paths.Reference)
	fmt.Fprintf(w, "xls config: %s\n", paths.XLSConfig)
	return nil
}
