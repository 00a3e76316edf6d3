// Package main is the entry point for llmgate.
package main

import (
	"context"
	"os"

	"charm.land/fang/v2"
	"github.com/spf13/cobra"
)

const defaultConfigFile = "config.yaml"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "llmgate",
	Short: "Routing gateway for OpenAI-compatible LLM providers",
	Long: `llmgate sits between OpenAI-compatible clients and multiple LLM providers,
applying per-model fallback chains, retry budgets, and per-client key
rotation so a failing provider never surfaces as a failed request.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file path (default: ./"+defaultConfigFile+" or ~/.config/llmgate/"+defaultConfigFile+")")
}

func main() {
	if err := fang.Execute(context.Background(), rootCmd); err != nil {
		os.Exit(1)
	}
}
