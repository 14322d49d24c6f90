package rap

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/rapld/rapld/pkg/ld/rap"
)

var (
	expand string
	verify bool
)

var fieldColor = color.New(color.FgCyan)

// RapCmd inspects RAP images.
var RapCmd = &cobra.Command{
	Use:   "rap [flags] file...",
	Short: "Inspect RAP application images",
	Long: `Rap prints the header and payload prologue of RAP images. With --expand the
decompressed payload is written to a side file for further inspection.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, path := range args {
			if err := show(path); err != nil {
				return err
			}
		}
		return nil
	},
}

func show(path string) error {
	f, err := rap.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	hdr := f.Header()
	fmt.Printf("%s\n", path)
	fmt.Printf("  %s: %d\n", fieldColor.Sprint("header length"), hdr.Length)
	fmt.Printf("  %s: %d\n", fieldColor.Sprint("version"), hdr.Version)
	fmt.Printf("  %s: %s\n", fieldColor.Sprint("compression"), hdr.Compression)
	fmt.Printf("  %s: 0x%08x\n", fieldColor.Sprint("checksum"), hdr.Checksum)

	if verify {
		if err := f.VerifyChecksum(); err != nil {
			return err
		}
		fmt.Printf("  %s\n", color.GreenString("checksum ok"))
	}

	info, records, err := f.ReadObjects()
	if err != nil {
		return err
	}
	fmt.Printf("  %s: %q\n", fieldColor.Sprint("metadata"), info.Metadata)
	fmt.Printf("  %s: %d\n", fieldColor.Sprint("objects"), info.ObjectCount)
	fmt.Printf("  %s: %d\n", fieldColor.Sprint("text"), info.TotalText)
	fmt.Printf("  %s: %d\n", fieldColor.Sprint("data"), info.TotalData)
	fmt.Printf("  %s: %d\n", fieldColor.Sprint("bss"), info.TotalBss)

	for i, rec := range records {
		fmt.Printf("  %s %d: text: %d ctor: %d dtor: %d data: %d symtab: %d strtab: %d relocs: %d\n",
			fieldColor.Sprint("object"), i,
			rec.Text, rec.Ctor, rec.Dtor, rec.Data, rec.Symtab, rec.Strtab, rec.Relocs)
	}

	if expand != "" {
		if err := f.Expand(expand); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "expanded to %s\n", expand)
	}
	return nil
}

func init() {
	RapCmd.Flags().StringVar(&expand, "expand", "", "write the decompressed payload to this file")
	RapCmd.Flags().BoolVar(&verify, "verify", false, "verify the payload checksum")
}
