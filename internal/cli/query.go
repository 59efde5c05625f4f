package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/linnemanlabs/medtriage/internal/simindex"
	"github.com/linnemanlabs/medtriage/internal/triage"
)

var errEmptyQuery = errors.New("query text is empty")

type queryMatch struct {
	simindex.Match
	Specialty string `json:"specialty"`
}

func newQueryCmd(v *viper.Viper) *cobra.Command {
	var (
		topK   int
		all    bool
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "query <text>...",
		Short: "Rank reference codes for a symptom or diagnosis phrase",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := triage.CleanForRetrieval(strings.Join(args, " "))
			if text == "" {
				return errEmptyQuery
			}

			ref, err := loadReference(v)
			if err != nil {
				return err
			}
			if topK <= 0 {
				topK = ref.policy.TopK
			}

			allowed := simindex.Prefixes(ref.policy.AllowedPrefixes)
			if all {
				allowed = simindex.Prefixes(allChapters(ref))
			}

			var out []queryMatch
			for _, m := range ref.index.QueryFloor(text, topK, allowed, ref.policy.MinScore) {
				out = append(out, queryMatch{Match: m, Specialty: ref.resolver.Assign(m.Code)})
			}

			if asJSON {
				if out == nil {
					out = []queryMatch{}
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}

			if len(out) == 0 {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "no matches")
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "CODE\tSCORE\tSPECIALTY\tDESCRIPTION")
			for _, m := range out {
				_, _ = fmt.Fprintf(tw, "%s\t%.3f\t%s\t%s\n", m.Code, m.Score, m.Specialty, m.Description)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "number of matches (default: policy top_k)")
	cmd.Flags().BoolVar(&all, "all-chapters", false, "search every chapter instead of the policy's allowed prefixes")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print matches as JSON")

	return cmd
}

// allChapters returns every code chapter present in the corpus.
func allChapters(ref *reference) string {
	seen := make(map[rune]bool)
	var b strings.Builder
	for _, e := range ref.entries {
		for _, c := range e.Code {
			if !seen[c] {
				seen[c] = true
				b.WriteRune(c)
			}
			break
		}
	}
	return b.String()
}
