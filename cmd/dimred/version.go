package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openproblems/dimred/pkg/method"
	"github.com/openproblems/dimred/pkg/umap"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of dimred and its numerical libraries",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("dimred version %s\n", umap.Version())
		for _, mod := range []string{"gonum.org/v1/gonum", "google.golang.org/grpc"} {
			fmt.Printf("  %s %s\n", mod, method.CheckVersion(mod))
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
