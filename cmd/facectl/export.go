package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/renameio"
	"github.com/spf13/cobra"
)

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the store metadata as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		meta, err := client.Export(cmd.Context())
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(meta, "", "  ")
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		data = append(data, '\n')

		if exportOut == "" || exportOut == "-" {
			_, err := os.Stdout.Write(data)
			return err
		}
		if err := renameio.WriteFile(exportOut, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", exportOut, err)
		}
		fmt.Fprintf(os.Stderr, "Exported %d identities to %s\n", len(meta.Order), exportOut)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "output", "o", "", "output file (default stdout)")
	rootCmd.AddCommand(exportCmd)
}
