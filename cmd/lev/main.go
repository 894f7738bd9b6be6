// Command lev runs tool-use evaluation suites against LLM providers.
package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/danield137/lev/runtime/logger"
	"github.com/danield137/lev/runtime/version"

	_ "github.com/danield137/lev/runtime/evals/handlers" // register built-in scorers
	_ "github.com/danield137/lev/runtime/providers/all"  // register built-in providers
)

const (
	envPrefix   = "LEV"
	flagVerbose = "verbose"
	flagProfile = "profile"
)

// newViper returns a viper instance reading LEV_* variables, with dashes in
// flag names mapped to underscores.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

func newRootCmd() *cobra.Command {
	v := newViper()
	root := &cobra.Command{
		Use:           "lev",
		Short:         "Evaluate how LLM agents use tools",
		Version:       version.GetVersion(),
		SilenceUsage:  true,
		SilenceErrors: false,
		Long: `lev runs suites of eval cases. Each case sends a prompt to an LLM agent
that can call tools served over MCP, then scores the transcript.`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			if v.GetBool(flagVerbose) {
				logger.SetVerbose(true)
			}
			return nil
		},
	}
	root.SetVersionTemplate(version.GetVersionInfo() + "\n")

	root.PersistentFlags().BoolP(flagVerbose, "v", false, "Enable debug logging")
	root.PersistentFlags().String(flagProfile, "", "LLM profile from the profile file")

	root.AddCommand(newRunCmd(v), newValidateCmd(v), newScorersCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
