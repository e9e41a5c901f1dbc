package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultAPIURL = "http://localhost:8080"

var (
	apiURL       string
	outputFormat string
	cfgFile      string
	timeout      time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "genctl",
	Short:         "CLI for the genqueue image generation service",
	Long:          `genctl submits image generation jobs to a genqueue server and inspects the queue.`,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.genctl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "genqueue API URL (default from config or "+defaultAPIURL+")")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "table", "output format: table or json")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "HTTP timeout")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".genctl"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetDefault("api_url", defaultAPIURL)
	_ = viper.BindEnv("api_url", "GENCTL_API_URL")

	if err := viper.ReadInConfig(); err != nil && cfgFile != "" {
		fmt.Fprintf(os.Stderr, "Error reading config %s: %v\n", cfgFile, err)
	}
	if apiURL == "" {
		apiURL = viper.GetString("api_url")
	}
}

// baseURL returns the configured API URL without trailing slashes.
func baseURL() string {
	return strings.TrimRight(apiURL, "/")
}

func isJSONOutput() bool {
	return outputFormat == "json"
}

func newClient() *Client {
	return NewClient(baseURL(), timeout)
}
