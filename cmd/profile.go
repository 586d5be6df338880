package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spigell/job-agents/internal/jobs"
	"go.uber.org/zap"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show or change the profile used for scoring",
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the profile",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApplication(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		return printProfile(cmd.Context(), cmd, a)
	},
}

var profileSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Update profile fields and scoring weights",
	Long: "Update profile fields and scoring weights. Unset flags keep their current values. " +
		"The five weights must add up to 100.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApplication(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		current, err := a.store.GetProfile(cmd.Context(), a.config.UserID)
		if err != nil {
			return err
		}

		profile := jobs.UserProfile{ScoringWeights: jobs.DefaultWeights()}
		if current != nil {
			profile = *current
		}
		if err := applyProfileFlags(cmd.Flags(), &profile); err != nil {
			return err
		}

		if err := a.store.SaveProfile(cmd.Context(), a.config.UserID, profile); err != nil {
			return fmt.Errorf("saving profile: %w", err)
		}

		a.logger.Info("profile saved", zap.String("user_id", a.config.UserID))
		return printProfile(cmd.Context(), cmd, a)
	},
}

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.AddCommand(profileShowCmd, profileSetCmd)

	f := profileSetCmd.Flags()
	f.String("name", "", "full name")
	f.String("headline", "", "one line summary")
	f.StringSlice("skills", nil, "comma separated skills")
	f.StringSlice("roles", nil, "comma separated desired roles")
	f.StringSlice("locations", nil, "comma separated preferred locations")
	f.Int("min-salary", 0, "minimal acceptable salary")
	f.String("notes", "", "free form notes for the matching agent")

	f.Int("salary-weight", 0, "points for salary match")
	f.Int("location-weight", 0, "points for location fit")
	f.Int("company-weight", 0, "points for company appeal")
	f.Int("role-weight", 0, "points for role match")
	f.Int("requirements-weight", 0, "points for requirements fit")
}

// applyProfileFlags copies only the flags the user set.
func applyProfileFlags(f *pflag.FlagSet, p *jobs.UserProfile) error {
	var errs []error
	str := func(name string, dst *string) {
		if f.Changed(name) {
			v, err := f.GetString(name)
			errs = append(errs, err)
			*dst = v
		}
	}
	slice := func(name string, dst *[]string) {
		if f.Changed(name) {
			v, err := f.GetStringSlice(name)
			errs = append(errs, err)
			*dst = v
		}
	}
	integer := func(name string, dst *int) {
		if f.Changed(name) {
			v, err := f.GetInt(name)
			errs = append(errs, err)
			*dst = v
		}
	}

	str("name", &p.Name)
	str("headline", &p.Headline)
	str("notes", &p.Notes)
	slice("skills", &p.Skills)
	slice("roles", &p.DesiredRoles)
	slice("locations", &p.PreferredLocations)
	integer("min-salary", &p.MinSalary)

	integer("salary-weight", &p.ScoringWeights.SalaryMatch)
	integer("location-weight", &p.ScoringWeights.LocationFit)
	integer("company-weight", &p.ScoringWeights.CompanyAppeal)
	integer("role-weight", &p.ScoringWeights.RoleMatch)
	integer("requirements-weight", &p.ScoringWeights.RequirementsFit)

	return errors.Join(errs...)
}
