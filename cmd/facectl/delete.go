package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var deleteLabel string

var deleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete an identity, or one of its variations with --label",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		if deleteLabel != "" {
			if err := client.DeleteVariation(cmd.Context(), name, deleteLabel); err != nil {
				return err
			}
			fmt.Printf("Deleted variation %s/%s\n", name, deleteLabel)
			return nil
		}
		if err := client.Delete(cmd.Context(), name); err != nil {
			return err
		}
		fmt.Printf("Deleted %s\n", name)
		return nil
	},
}

func init() {
	deleteCmd.Flags().StringVar(&deleteLabel, "label", "", "delete only this variation")
	rootCmd.AddCommand(deleteCmd)
}
