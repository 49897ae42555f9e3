package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/brandvault/metaledger/internal/model"
)

var resolveActor string

var resolveCmd = &cobra.Command{
	Use:   "resolve <asset-id>",
	Short: "Print the resolved metadata state of an asset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		state, err := env.Resolver.ResolveState(cmd.Context(), args[0], model.Actor{ID: resolveActor})
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(state)
	},
}

func init() {
	resolveCmd.Flags().StringVar(&resolveActor, "actor", "operator", "acting identity")
	rootCmd.AddCommand(resolveCmd)
}
