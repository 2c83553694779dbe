package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/omnessssssssss/gallery-dl/internal/output"
	"github.com/omnessssssssss/gallery-dl/internal/utils"
)

func newCleanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clean [flags] PATH",
		Short: "Remove leftover part files for a download path",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			removed, err := utils.CleanPartFiles(args[0], partDir)
			if err != nil {
				output.PrintError(fmt.Sprintf("Error cleaning part files: %v", err))
				os.Exit(1)
			}
			output.PrintSuccess(fmt.Sprintf("Removed %d part file(s)", removed))
		},
	}
	return cmd
}
