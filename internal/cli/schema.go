package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bnema/tether/internal/config"
)

func newSchemaCommand() *cobra.Command {
	var write bool

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the configuration JSON schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			if write {
				return config.GenerateSchemaFile()
			}

			data, err := config.SchemaJSON()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}

	cmd.Flags().BoolVar(&write, "write", false, "write the schema next to the config file")

	return cmd
}
