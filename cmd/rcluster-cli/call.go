package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var callCmd = &cobra.Command{
	Use:   "call <command> [<arg>...]",
	Short: "Run a single command, routed by its key's slot",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		rest := make([]interface{}, len(args)-1)
		for i, a := range args[1:] {
			rest[i] = a
		}

		v, err := cluster.Call(name, rest...)
		if err != nil {
			return err
		}
		fmt.Println(v)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(callCmd)
}
