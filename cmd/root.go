package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rapld/rapld/cmd/link"
	"github.com/rapld/rapld/cmd/rap"
	"github.com/rapld/rapld/cmd/syms"
	"github.com/rapld/rapld/pkg/ld"
)

var cfgFile string

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "rapld",
	Short: "A host-side linker for runtime-loadable application images",
	Long: `rapld prepares statically compiled object files for dynamic loading by an
embedded target's runtime loader.

It collects objects and archive libraries, resolves the symbols the
application needs against the base image, and writes the dependent objects
into a single compressed RAP container.`,
	Version: ld.Version,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main() and returns the command
// error for exit-code mapping.
func Execute() error {
	return RootCmd.Execute()
}

func init() {
	RootCmd.AddCommand(link.LinkCmd, rap.RapCmd, syms.SymsCmd)
	RootCmd.SilenceErrors = true
	RootCmd.SilenceUsage = true

	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.rapld.yaml)")
	RootCmd.PersistentFlags().CountP("verbose", "v", "increase diagnostics verbosity (repeatable, up to 6)")
	RootCmd.PersistentFlags().String("trace-file", "", "also append diagnostics to this file")

	cobra.CheckErr(viper.BindPFlag("verbose", RootCmd.PersistentFlags().Lookup("verbose")))
	cobra.CheckErr(viper.BindPFlag("trace-file", RootCmd.PersistentFlags().Lookup("trace-file")))

	cobra.OnInitialize(initConfig)
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".rapld" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".rapld")
	}

	viper.SetEnvPrefix("rapld")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
