package link

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rapld/rapld/pkg/ld"
	"github.com/rapld/rapld/pkg/ld/linker"
	"github.com/rapld/rapld/pkg/ld/outputter"
)

var (
	output       string
	format       string
	entry        string
	libraries    []string
	libraryPaths []string
	basePath     string
	undefined    []string
	noStdLibs    bool
)

// LinkCmd links objects and libraries into a loadable application image.
var LinkCmd = &cobra.Command{
	Use:   "link [flags] file...",
	Short: "Link objects and libraries into a loadable application image",
	Long: `Link resolves the symbols of the given object files against the base image
and the archive libraries, pulls in the objects the application depends on,
and writes them into a single output image.

Library search paths come from -L flags, the library-paths config key and
the RAPLD_LIBRARY_PATHS environment variable.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cleanup, err := ld.NewLoggedContext(
			viper.GetInt("verbose"), viper.GetString("trace-file"))
		if err != nil {
			return err
		}
		defer cleanup()

		searchPaths := libraryPaths
		if !noStdLibs {
			searchPaths = append(searchPaths, viper.GetStringSlice("library-paths")...)
		}

		if entry == "" {
			entry = viper.GetString("entry")
		}

		l := linker.New(ctx, linker.Options{
			Output:       output,
			Format:       format,
			Entry:        entry,
			Inputs:       args,
			Libraries:    libraries,
			LibraryPaths: searchPaths,
			BasePath:     basePath,
			Undefined:    undefined,
		})
		return l.Link()
	},
}

func init() {
	LinkCmd.Flags().StringVarP(&output, "output", "o", "a.rap", "output image")
	LinkCmd.Flags().StringVarP(&format, "output-format", "O", outputter.FormatRAP,
		"output format: rap, elf, script or archive")
	LinkCmd.Flags().StringVarP(&entry, "entry", "e", "", "entry symbol (default \"rtems\")")
	LinkCmd.Flags().StringSliceVarP(&libraries, "library", "l", nil, "link the short-named library")
	LinkCmd.Flags().StringSliceVarP(&libraryPaths, "library-path", "L", nil, "add a library search path")
	LinkCmd.Flags().StringVarP(&basePath, "base", "b", "", "base image symbols (ELF kernel or YAML map)")
	LinkCmd.Flags().StringSliceVarP(&undefined, "undefined", "u", nil, "force a symbol to be undefined")
	LinkCmd.Flags().BoolVar(&noStdLibs, "no-standard-libraries", false, "ignore the configured library paths")
}
