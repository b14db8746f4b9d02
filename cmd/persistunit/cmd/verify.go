package cmd

import (
	"errors"
	"fmt"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/persistunit"
	"github.com/GoCodeAlone/persistunit/dataset"
)

func newVerifyCommand(opts *rootOptions) *cobra.Command {
	var (
		unit    string
		exclude []string
	)

	cmd := &cobra.Command{
		Use:   "verify [flags] DATASET...",
		Short: "Compare a persistence unit against expected datasets",
		Long: `Verify compares the rows stored in the database of a persistence unit with
the expected dataset files. Row order is ignored. Mismatches are printed as a
table and the command exits with an error.

Examples:
  persistunit verify expected/users.yml
  persistunit verify --exclude created_at --exclude orders.id expected.yml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			expected, err := dataset.NewLoader(cfg.DataSetDir).LoadAll(args...)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			db, _, err := unitDB(ctx, cfg, unit, opts.logger())
			if err != nil {
				return err
			}
			defer db.Close()

			err = dataset.Compare(ctx, db, expected, exclude)
			var failure *persistunit.AssertionFailure
			if !errors.As(err, &failure) {
				if err == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%d tables match\n", len(expected.Tables))
				}
				return err
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.Header("#", "Mismatch")
			for i, m := range failure.Mismatches {
				table.Append([]string{fmt.Sprint(i + 1), m})
			}
			if rerr := table.Render(); rerr != nil {
				return rerr
			}
			return fmt.Errorf("%d mismatches: %w", len(failure.Mismatches), persistunit.ErrAssertion)
		},
	}

	cmd.Flags().StringVarP(&unit, "unit", "u", "", "Persistence unit (default: the configured default unit)")
	cmd.Flags().StringSliceVarP(&exclude, "exclude", "e", nil, "Columns to skip, as column or table.column")
	return cmd
}
