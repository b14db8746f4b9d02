package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/persistunit/dataset"
)

func newCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check DATASET...",
		Short: "Parse dataset files and report their tables",
		Long: `Check parses each dataset file, validates its table and column names and
prints a summary. It needs no configuration or database.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.Header("File", "Tables", "Rows")

			var failed []string
			for _, path := range args {
				ds, err := dataset.Load(path)
				if err != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), err)
					failed = append(failed, path)
					continue
				}
				table.Append([]string{path, strings.Join(ds.TableNames(), ", "), strconv.Itoa(ds.RowCount())})
			}
			if err := table.Render(); err != nil {
				return err
			}
			if len(failed) > 0 {
				return fmt.Errorf("%d invalid dataset files: %s", len(failed), strings.Join(failed, ", "))
			}
			return nil
		},
	}
}
