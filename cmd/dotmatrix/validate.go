package dotmatrix

import (
	"fmt"

	"github.com/opnlabs/dotmatrix/pkg/pipeline"
	"github.com/opnlabs/dotmatrix/pkg/runner"
	"github.com/spf13/cobra"
)

func newValidateCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Checks the pipeline file and prints the matrix",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return validatePipeline(cmd, flags)
		},
	}
}

func validatePipeline(cmd *cobra.Command, flags *rootFlags) error {
	file, err := loadPipeline(flags, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s is valid\n", flags.jobFilePath)
	for _, cell := range pipeline.Expand(file) {
		image := "host"
		if flags.backend == backendDocker {
			image = runner.ImageFor(flags.image, cell)
		}
		fmt.Fprintf(out, "  %-16s %s\n", cell.ID, image)
	}
	return nil
}
