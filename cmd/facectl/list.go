package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrolled identities",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := client.List(cmd.Context())
		if err != nil {
			return err
		}
		if resp.Total == 0 {
			fmt.Println("No faces enrolled.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "NAME\tVARIATIONS\tRECOGNIZED\tADDED\tLABELS")
		for _, f := range resp.Faces {
			fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\n",
				f.Name, f.TotalVariations, f.RecognitionCount, f.AddedAt, strings.Join(f.Variations, ","))
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
