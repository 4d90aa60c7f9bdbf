package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mna/rcluster"
)

var multiFlag bool

var pipelinedCmd = &cobra.Command{
	Use:   "pipelined <cmd1;arg...> [<cmd2;arg...> ...]",
	Short: "Send a batch of commands to the node owning their shared slot",
	Long: `Each positional argument is one command, with its name and
arguments joined by semicolons, e.g.:

  rcluster-cli pipelined "set;{tag}a;1" "set;{tag}b;2"

Every command in the batch must resolve to the same slot. Pass --multi
to wrap the batch in MULTI/EXEC.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		scope := func(p *rcluster.Pipeline) {
			for _, a := range args {
				parts := strings.Split(a, ";")
				rest := make([]interface{}, len(parts)-1)
				for i, s := range parts[1:] {
					rest[i] = s
				}
				p.Command(parts[0], rest...)
			}
		}

		var v interface{}
		var err error
		if multiFlag {
			v, err = cluster.Multi(scope)
		} else {
			v, err = cluster.Pipelined(scope)
		}
		if err != nil {
			return err
		}
		fmt.Println(v)
		return nil
	},
}

func init() {
	pipelinedCmd.Flags().BoolVar(&multiFlag, "multi", false, "wrap the batch in MULTI/EXEC")
	rootCmd.AddCommand(pipelinedCmd)
}
