package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mna/rcluster"
	"github.com/mna/rcluster/config"
)

var cfgFile string

var cluster *rcluster.Cluster

var rootCmd = &cobra.Command{
	Use:   "rcluster-cli",
	Short: "Operate a Redis Cluster through the rcluster client",
	Long: `rcluster-cli runs commands against a cluster the same way an
application using the rcluster package would: it routes by key slot,
follows MOVED/ASK redirections, and refreshes its view of the cluster
on demand.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		nodes := strings.Split(viper.GetString("nodes"), ",")
		if len(nodes) == 0 || nodes[0] == "" {
			return fmt.Errorf("no cluster nodes configured: set --nodes or cluster_nodes in the config file")
		}

		c, err := rcluster.New(rcluster.Options{
			ClusterNodes:             nodes,
			MaxRedirections:          viper.GetInt("max_redirections"),
			MaxConnectionErrors:      viper.GetInt("max_connection_errors"),
			ConnectRetryInterval:     viper.GetDuration("connect_retry_interval"),
			ConnectRetryRandomFactor: viper.GetFloat64("connect_retry_random_factor"),
			ConnectionAdapter:        viper.GetString("connection_adapter"),
		})
		if err != nil {
			return err
		}
		if err := c.Refresh(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: initial refresh failed: %v\n", err)
		}
		cluster = c
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if cluster != nil {
			cluster.Close()
		}
	},
}

// Execute runs the root command. Called from main.main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (TOML)")
	rootCmd.PersistentFlags().StringP("nodes", "n", "127.0.0.1:6379", "comma-separated seed node addresses")
	rootCmd.PersistentFlags().Int("max-redirections", 10, "maximum MOVED/ASK redirections per call")
	rootCmd.PersistentFlags().Int("max-connection-errors", 5, "maximum connection errors per call")
	rootCmd.PersistentFlags().Duration("connect-retry-interval", time.Millisecond, "base backoff once every known node fails to connect")
	rootCmd.PersistentFlags().Float64("connect-retry-random-factor", 0.1, "jitter fraction applied to the backoff")

	viper.BindPFlag("nodes", rootCmd.PersistentFlags().Lookup("nodes"))
	viper.BindPFlag("max_redirections", rootCmd.PersistentFlags().Lookup("max-redirections"))
	viper.BindPFlag("max_connection_errors", rootCmd.PersistentFlags().Lookup("max-connection-errors"))
	viper.BindPFlag("connect_retry_interval", rootCmd.PersistentFlags().Lookup("connect-retry-interval"))
	viper.BindPFlag("connect_retry_random_factor", rootCmd.PersistentFlags().Lookup("connect-retry-random-factor"))
}

// initConfig loads cfgFile with config.Load (BurntSushi/toml) and seeds
// viper's defaults from it, so flags and RCLUSTER_* env vars still take
// precedence over whatever the file sets.
func initConfig() {
	if cfgFile != "" {
		c, err := config.Load(cfgFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "unable to read config %s: %v\n", cfgFile, err)
		} else {
			if len(c.ClusterNodes) > 0 {
				viper.SetDefault("nodes", strings.Join(c.ClusterNodes, ","))
			}
			if c.MaxRedirections != 0 {
				viper.SetDefault("max_redirections", c.MaxRedirections)
			}
			if c.MaxConnectionErrors != 0 {
				viper.SetDefault("max_connection_errors", c.MaxConnectionErrors)
			}
			if c.ConnectRetryInterval.Duration != 0 {
				viper.SetDefault("connect_retry_interval", c.ConnectRetryInterval.Duration)
			}
			if c.ConnectRetryRandomFactor != 0 {
				viper.SetDefault("connect_retry_random_factor", c.ConnectRetryRandomFactor)
			}
			if c.ConnectionAdapter != "" {
				viper.SetDefault("connection_adapter", c.ConnectionAdapter)
			}
		}
	}

	viper.SetEnvPrefix("rcluster")
	viper.AutomaticEnv()
}
