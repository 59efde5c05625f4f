package cli

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/linnemanlabs/medtriage/internal/corpus/pgcorpus"
	"github.com/linnemanlabs/medtriage/internal/postgres"
)

var errNoDatabaseURL = errors.New("database url is required (--database-url or TRIAGECTL_DATABASE_URL)")

func newCorpusCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "corpus",
		Short: "Show reference corpus statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ref, err := loadReference(v)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "entries: %d\n", ref.index.Len())
			_, _ = fmt.Fprintf(out, "searchable chapters: %s\n", ref.policy.AllowedPrefixes)

			counts := make(map[string]int)
			for _, e := range ref.entries {
				counts[e.Code[:1]]++
			}
			chapters := make([]string, 0, len(counts))
			for c := range counts {
				chapters = append(chapters, c)
			}
			sort.Strings(chapters)
			for _, c := range chapters {
				_, _ = fmt.Fprintf(out, "  %s  %3d  %s\n", c, counts[c], ref.resolver.Assign(c))
			}
			return nil
		},
	}

	cmd.AddCommand(newCorpusPushCmd(v))
	return cmd
}

func newCorpusPushCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Upsert the corpus into a PostgreSQL table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dsn := v.GetString("database-url")
			if dsn == "" {
				return errNoDatabaseURL
			}
			entries, err := loadEntries(v)
			if err != nil {
				return err
			}

			pool, err := postgres.NewPool(cmd.Context(), dsn)
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer pool.Close()

			src := pgcorpus.New(pool, v.GetString("table"))
			if err := src.Push(cmd.Context(), entries); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "pushed %d entries to %s\n", len(entries), src.Table())
			return err
		},
	}

	cmd.Flags().String("database-url", "", "PostgreSQL connection string")
	cmd.Flags().String("table", pgcorpus.DefaultTable, "target table, optionally schema-qualified")
	_ = v.BindPFlags(cmd.Flags())

	return cmd
}
