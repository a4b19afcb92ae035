package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/garyjia/nfe-danfe/internal/repository"
	"github.com/garyjia/nfe-danfe/pkg/database"
	"github.com/spf13/cobra"
)

func newMigrateCommand(opts *globalOptions) *cobra.Command {
	var statusOnly bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Long: `Apply the pending schema migrations to the database configured under
database.path. With --status nothing is changed and the state of every
migration is listed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			defer a.logger.Sync()

			db, err := database.New(a.cfg.DatabaseSettings(), a.logger)
			if err != nil {
				return err
			}
			defer db.Close()

			if !statusOnly {
				if err := repository.Migrate(db, a.logger); err != nil {
					return err
				}
			}

			statuses, err := repository.MigrationStatus(db)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "VERSION\tNAME\tSTATE")
			for _, st := range statuses {
				state := "pending"
				if st.Applied {
					state = "applied " + st.AppliedAt.Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(tw, "%03d\t%s\t%s\n", st.Version, st.Name, state)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&statusOnly, "status", false, "List migrations without applying them")
	return cmd
}
