package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "lambdactl",
		Short: "Lambda Cloud instance control",
		Long: `lambdactl - Lambda Cloud instance control

List, launch and terminate Lambda Cloud instances, and find the ones
that have been running longer than they should.

Start times come from a started-at tag when present, and optionally
from the account's audit history.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate(`lambdactl {{.Version}}
`)

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.apiKey, "api-key", "", "Lambda Cloud API key (default $LAMBDA_API_KEY)")
	pf.StringVar(&a.flags.configPath, "config", "", "Config file (default $LAMBDACTL_CONFIG, then ./lambdactl.yaml if present)")
	pf.StringVar(&a.flags.dotenv, "dotenv", "", "Dotenv file to load (default ./.env if present)")
	pf.BoolVar(&a.flags.noDotenv, "no-dotenv", false, "Do not load any dotenv file")
	pf.StringVar(&a.flags.baseURL, "base-url", "", "API base URL (default $LAMBDA_API_BASE_URL)")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "Log level: trace, debug, info, warn, error")
	pf.BoolVar(&a.flags.debug, "debug", false, "Enable debug logging")
	root.MarkFlagsMutuallyExclusive("dotenv", "no-dotenv")

	root.AddCommand(
		newInstancesCmd(a),
		newImagesCmd(a),
		newJournalCmd(a),
		newVersionCmd(a),
	)
	return root
}
