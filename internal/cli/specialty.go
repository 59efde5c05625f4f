package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/linnemanlabs/medtriage/internal/specialty"
)

func newAssignCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "assign <code>",
		Short: "Print the referral specialty for a single code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pol, err := loadPolicy(v)
			if err != nil {
				return err
			}
			code := strings.ToUpper(strings.TrimSpace(args[0]))
			_, err = fmt.Fprintln(cmd.OutOrStdout(), specialty.New(pol).Assign(code))
			return err
		},
	}
}

func newResolveCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <code>...",
		Short: "Print the session specialty for a set of best-match codes",
		Long:  "resolve treats each code as one symptom's best match and prints the specialty the majority vote picks, ties broken by policy priority.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pol, err := loadPolicy(v)
			if err != nil {
				return err
			}
			resolver := specialty.New(pol)

			votes := make([]specialty.Vote, 0, len(args))
			for _, a := range args {
				code := strings.ToUpper(strings.TrimSpace(a))
				votes = append(votes, specialty.Vote{Code: code, Specialty: resolver.Assign(code)})
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), resolver.ResolveSession(votes))
			return err
		},
	}
}
