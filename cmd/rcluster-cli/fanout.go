package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var eachNodeCmd = &cobra.Command{
	Use:   "each_node",
	Short: "Force a topology refresh and list every known node",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cluster.EachNode(func(name string, _ interface{}) error {
			fmt.Println(name)
			return nil
		})
	},
}

var keysCmd = &cobra.Command{
	Use:   "keys <pattern>",
	Short: "Union of KEYS <pattern> across every node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		keys, err := cluster.Keys(args[0])
		if err != nil {
			return err
		}
		for _, k := range keys {
			fmt.Println(k)
		}
		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "INFO reply of every node, keyed by node name",
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := cluster.Info()
		if err != nil {
			return err
		}
		for name, s := range info {
			fmt.Printf("=== %s ===\n%s\n", name, s)
		}
		return nil
	},
}

var flushdbCmd = &cobra.Command{
	Use:   "flushdb",
	Short: "FLUSHDB on every node",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cluster.FlushDB()
	},
}

func init() {
	rootCmd.AddCommand(eachNodeCmd, keysCmd, infoCmd, flushdbCmd)
}
