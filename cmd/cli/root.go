package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "deskify",
	Short: "Helpdesk ticketing service with SLA tracking and rule automation",
	Long: `deskify is a helpdesk backend. It manages support tickets through their
status lifecycle, applies per-priority SLA deadlines, schedules follow-ups,
and runs event-driven automation rules (conditions plus actions) whenever
tickets are created, updated, assigned, resolved or breach their SLA.

Configuration is read from ./config.yml by default and can be overridden
with --config or environment variables.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yml)")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// 没有配置文件时全部走默认值
		} else {
			fmt.Println("Error reading config file:", err)
		}
	}
}
