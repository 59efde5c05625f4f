// Package cli implements triagectl, an offline tool for querying the
// reference index, checking specialty routing and managing the corpus.
package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/linnemanlabs/medtriage/internal/corpus"
	"github.com/linnemanlabs/medtriage/internal/policy"
	"github.com/linnemanlabs/medtriage/internal/simindex"
	"github.com/linnemanlabs/medtriage/internal/specialty"
)

const envPrefix = "TRIAGECTL"

// ExecuteContext runs the root command with ctx.
func ExecuteContext(ctx context.Context) error {
	return newRootCmd().ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:           "triagectl",
		Short:         "Query the triage reference index and specialty routing offline",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := rootCmd.PersistentFlags()
	flags.String("corpus-file", "", "CSV or TSV reference corpus (default: bundled corpus)")
	flags.String("policy-file", "", "TOML triage policy (default: built-in policy)")
	_ = v.BindPFlags(flags)

	rootCmd.AddCommand(
		newQueryCmd(v),
		newAssignCmd(v),
		newResolveCmd(v),
		newCorpusCmd(v),
	)

	return rootCmd
}

// reference is everything the read-only commands need.
type reference struct {
	policy   policy.Policy
	entries  []corpus.Entry
	index    *simindex.Index
	resolver *specialty.Resolver
}

func loadPolicy(v *viper.Viper) (policy.Policy, error) {
	path := v.GetString("policy-file")
	if path == "" {
		return policy.Default(), nil
	}
	pol, err := policy.Load(path)
	if err != nil {
		return policy.Policy{}, fmt.Errorf("load policy: %w", err)
	}
	return pol, nil
}

func loadEntries(v *viper.Viper) ([]corpus.Entry, error) {
	path := v.GetString("corpus-file")
	if path == "" {
		entries, err := corpus.Default()
		if err != nil {
			return nil, fmt.Errorf("load bundled corpus: %w", err)
		}
		return entries, nil
	}
	entries, err := corpus.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load corpus: %w", err)
	}
	return entries, nil
}

func loadReference(v *viper.Viper) (*reference, error) {
	pol, err := loadPolicy(v)
	if err != nil {
		return nil, err
	}
	entries, err := loadEntries(v)
	if err != nil {
		return nil, err
	}
	idx, err := simindex.Build(entries)
	if err != nil {
		return nil, fmt.Errorf("build index: %w", err)
	}
	return &reference{
		policy:   pol,
		entries:  entries,
		index:    idx,
		resolver: specialty.New(pol),
	}, nil
}
