package syms

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rapld/rapld/pkg/ld"
	"github.com/rapld/rapld/pkg/ld/base"
	"github.com/rapld/rapld/pkg/ld/elfio"
	"github.com/rapld/rapld/pkg/ld/files"
	"github.com/rapld/rapld/pkg/ld/symbols"
)

var (
	withLocals bool
	unresolved bool
	mapFile    string
)

// SymsCmd extracts and prints the symbols of objects and archives.
var SymsCmd = &cobra.Command{
	Use:   "syms [flags] file...",
	Short: "List the symbols of object files and archives",
	Long: `Syms loads the given objects and archive libraries and prints their symbol
tables: globals, weaks and, with --locals, the local symbols too.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cleanup, err := ld.NewLoggedContext(
			viper.GetInt("verbose"), viper.GetString("trace-file"))
		if err != nil {
			return err
		}
		defer cleanup()

		var format elfio.Format
		cache := files.NewCache(ctx, &format)
		cache.AddPaths(args)

		if err := cache.Open(); err != nil {
			return err
		}
		if err := cache.ArchivesBegin(); err != nil {
			return err
		}
		defer cache.ArchivesEnd()

		table := symbols.NewTable()
		if err := cache.LoadSymbols(table, withLocals); err != nil {
			return err
		}

		if unresolved {
			cache.OutputUnresolved(os.Stdout)
			return nil
		}

		if mapFile != "" {
			return base.Save(mapFile, table)
		}

		symbols.Output(os.Stdout, table)
		return nil
	},
}

func init() {
	SymsCmd.Flags().BoolVar(&withLocals, "locals", false, "include local symbols")
	SymsCmd.Flags().BoolVar(&unresolved, "unresolved", false, "list unresolved references instead")
	SymsCmd.Flags().StringVar(&mapFile, "map", "", "write the global symbols as a YAML base map")
}
