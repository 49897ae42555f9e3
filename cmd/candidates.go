package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/brandvault/metaledger/internal/model"
)

var candidatesActor string

var candidatesCmd = &cobra.Command{
	Use:   "candidates",
	Short: "Review producer proposals",
}

var candidatesListCmd = &cobra.Command{
	Use:   "list <asset-id>",
	Short: "List open candidates for an asset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		open, err := env.Candidates.List(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(open)
	},
}

var candidatesApproveCmd = &cobra.Command{
	Use:   "approve <candidate-id>",
	Short: "Approve a candidate into the ledger",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		entry, err := env.Candidates.Approve(cmd.Context(), args[0], model.Actor{ID: candidatesActor})
		if err != nil {
			return err
		}
		fmt.Printf("approved: entry %d value %q\n", entry.ID, entry.Value)
		return nil
	},
}

var candidatesRejectCmd = &cobra.Command{
	Use:   "reject <candidate-id>",
	Short: "Dismiss a candidate permanently",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Candidates.Reject(cmd.Context(), args[0], model.Actor{ID: candidatesActor}); err != nil {
			return err
		}
		fmt.Println("dismissed")
		return nil
	},
}

func init() {
	candidatesCmd.PersistentFlags().StringVar(&candidatesActor, "actor", "operator", "acting identity")
	candidatesCmd.AddCommand(candidatesListCmd, candidatesApproveCmd, candidatesRejectCmd)
	rootCmd.AddCommand(candidatesCmd)
}
