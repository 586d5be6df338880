package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spigell/job-agents/internal/jobs"
	"go.uber.org/zap"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage saved jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print saved jobs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApplication(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		byCompany, _ := cmd.Flags().GetBool("by-company")
		if !byCompany {
			return printJobs(cmd.Context(), cmd, a)
		}

		saved, err := a.store.GetJobs(cmd.Context(), a.config.UserID)
		if err != nil {
			return err
		}
		pretty, err := json.MarshalIndent(jobs.NewList(saved).ReportByCompany(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(pretty))
		return nil
	},
}

var jobsDeleteCmd = &cobra.Command{
	Use:   "delete <id>...",
	Short: "Delete saved jobs by id",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApplication(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		for _, id := range args {
			if err := a.deleteJob(cmd.Context(), id); err != nil {
				return err
			}
			a.logger.Info("deleted saved job", zap.String("job_id", id))
		}
		return nil
	},
}

var jobsDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump saved jobs to a temp JSON file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApplication(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		return dumpJobs(cmd.Context(), a)
	},
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd, jobsDeleteCmd, jobsDumpCmd)

	jobsListCmd.Flags().Bool("by-company", false, "group saved jobs by company")
}
