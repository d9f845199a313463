package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/GollyTicker/ethereum-bridge-when-cheap/config"
	"github.com/GollyTicker/ethereum-bridge-when-cheap/db"
)

func newStatusCommand(flags *flagSet) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the recorded samples, known users and active requests of every chain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := flags.logger()

			cfg, err := config.LoadConfig()
			if err != nil {
				log.Error().Err(err).Msg("Failed to load config")
				return err
			}

			database, err := db.Open(cmd.Context(), cfg.DatabaseURL, log)
			if err != nil {
				log.Error().Err(err).Msg("Failed to initialize database")
				return err
			}
			defer database.Close()

			return printStatus(cmd.Context(), os.Stdout, cfg, database)
		},
	}
}

func printStatus(ctx context.Context, out io.Writer, cfg *config.Config, database db.Database) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHAIN\tNAME\tGAS SAMPLES\tLATEST BLOCK\tKNOWN USERS\tACTIVE REQUESTS")

	for _, chainID := range cfg.ChainIDs() {
		name := cfg.ChainConfigs[chainID].Name

		status, err := database.Status(ctx, chainID)
		if err != nil {
			fmt.Fprintf(w, "%d\t%s\t-\t-\t-\t-\n", chainID, name)
			continue
		}

		latest := "-"
		if block, ok, err := database.LatestRecordedBlock(ctx, chainID); err == nil && ok {
			latest = fmt.Sprint(block)
		}

		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%d\t%d\n",
			chainID, name, status.GasSamples, latest, status.KnownUsers, status.ActiveRequests)
	}

	return w.Flush()
}
