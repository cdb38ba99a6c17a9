package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openproblems/dimred/pkg/method"
)

var listJSON bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered methods",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		infos := method.Default.List()

		if listJSON {
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(infos)
		}

		for _, info := range infos {
			fmt.Printf("%s\t%s\n", info.Name, info.MethodName)
			fmt.Printf("\t%s (%d) %s\n", info.PaperName, info.PaperYear, info.PaperURL)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output in JSON format")
}
