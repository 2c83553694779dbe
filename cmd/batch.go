package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/omnessssssssss/gallery-dl/internal/output"
	"github.com/omnessssssssss/gallery-dl/internal/scheduler"
	"github.com/omnessssssssss/gallery-dl/internal/utils"
)

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch [flags] YAML_FILE",
		Short: "Download every link from a YAML list",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			entries, err := utils.ReadDownloadList(args[0])
			if err != nil {
				output.PrintError(fmt.Sprintf("Failed to read URL list: %v", err))
				os.Exit(1)
			}
			if len(entries) == 0 {
				output.PrintInfo("Nothing to download")
				return
			}
			// Cap the total connection count across parallel links
			connectionsPerLink := connections
			if numWorkers*connectionsPerLink > utils.MaxTotalConnections {
				connectionsPerLink = max(utils.MaxTotalConnections/numWorkers, 1)
			}
			clientConfig := buildClientConfig()
			jobs := make([]utils.Job, 0, len(entries))
			for _, entry := range entries {
				jobs = append(jobs, utils.Job{
					JobType:          "http",
					URL:              entry.URL,
					OutputPath:       entry.OutputPath,
					PartDir:          partDir,
					NoPart:           noPart,
					Connections:      connectionsPerLink,
					Metadata:         make(map[string]any),
					HTTPClientConfig: clientConfig,
				})
			}
			if err := scheduler.Run(jobs, numWorkers); err != nil {
				fmt.Println()
				output.PrintError("Encountered failed operation(s)")
				os.Exit(1)
			}
		},
	}
	return cmd
}
