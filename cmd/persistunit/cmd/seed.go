package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/persistunit"
	"github.com/GoCodeAlone/persistunit/config"
	"github.com/GoCodeAlone/persistunit/dataset"
	"github.com/GoCodeAlone/persistunit/sqlunit"
)

var ErrUnknownUnit = errors.New("unknown persistence unit")

// unitDB opens the data source of unit, or of the default unit when unit is empty.
func unitDB(ctx context.Context, cfg *config.Config, unit string, logger persistunit.Logger) (*sql.DB, *sqlunit.Producer, error) {
	if unit == "" {
		unit = cfg.DefaultUnit
	}
	uc, ok := cfg.Units[unit]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownUnit, unit)
	}
	producer, err := sqlunit.NewProducer(unit, uc, nil, logger)
	if err != nil {
		return nil, nil, err
	}
	db, err := producer.OpenDataSource(ctx)
	if err != nil {
		return nil, nil, err
	}
	return db, producer, nil
}

func newSeedCommand(opts *rootOptions) *cobra.Command {
	var (
		unit     string
		strategy string
	)

	cmd := &cobra.Command{
		Use:   "seed [flags] DATASET...",
		Short: "Seed a persistence unit from dataset files",
		Long: `Seed writes the rows of one or more dataset files into the database of a
persistence unit. Relative paths are resolved against the configured dataset
directory. With the clean-insert strategy every table of the datasets is
emptied first.

Examples:
  persistunit seed users.yml orders.yml
  persistunit seed --unit reporting --strategy insert extra.json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seedStrategy := persistunit.SeedStrategy(strategy)
			if !seedStrategy.Valid() {
				return fmt.Errorf("%w: unknown seed strategy %q", persistunit.ErrConfiguration, strategy)
			}
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			ds, err := dataset.NewLoader(cfg.DataSetDir).LoadAll(args...)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			db, producer, err := unitDB(ctx, cfg, unit, opts.logger())
			if err != nil {
				return err
			}
			defer db.Close()

			if err := dataset.Seed(ctx, db, producer.Driver(), ds, seedStrategy); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d rows into %d tables of unit %s\n", ds.RowCount(), len(ds.Tables), producer.Unit())
			return nil
		},
	}

	cmd.Flags().StringVarP(&unit, "unit", "u", "", "Persistence unit (default: the configured default unit)")
	cmd.Flags().StringVarP(&strategy, "strategy", "s", string(persistunit.SeedCleanInsert), "Seed strategy: clean-insert or insert")
	return cmd
}
