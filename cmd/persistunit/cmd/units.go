package cmd

import (
	"net/url"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func newUnitsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "units",
		Short: "List the configured persistence units",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.Header("Unit", "Driver", "DSN", "Max Open", "Default")
			for _, name := range cfg.UnitNames() {
				u := cfg.Units[name]
				def := ""
				if name == cfg.DefaultUnit {
					def = "*"
				}
				table.Append([]string{name, u.Driver, redactDSN(u.DSN), strconv.Itoa(u.MaxOpenConnections), def})
			}
			return table.Render()
		},
	}
}

// redactDSN hides the password of URL style connection strings.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	return u.Redacted()
}
