/*
Copyright © 2025 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/blacktop/memscope/internal/colors"
	"github.com/blacktop/memscope/internal/config"
	"github.com/blacktop/memscope/pkg/rtti"
	"github.com/blacktop/memscope/pkg/singleton"
	"github.com/blacktop/memscope/pkg/symcache"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(symsCmd)

	symsCmd.Flags().Bool("live", false, "Dereference slots in the process given by --pid/--name")
	symsCmd.Flags().Uint32P("pid", "p", 0, "Target process ID")
	symsCmd.Flags().StringP("name", "n", "", "Target process executable name")
	symsCmd.Flags().StringP("module", "m", "", "Module the table was discovered in")
	viper.BindPFlag("syms.live", symsCmd.Flags().Lookup("live"))
}

// symsCmd represents the syms command
var symsCmd = &cobra.Command{
	Use:   "syms <TABLE> [NAME...]",
	Short: "Look up singletons in a saved discovery table",
	Example: heredoc.Doc(`
		# Print every entry
		❯ memscope syms singletons.txt

		# Follow two slots in the running game
		❯ memscope syms singletons.txt WidgetManager GadgetManager --live --name game.exe`),
	Args:          cobra.MinimumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	PreRun: func(cmd *cobra.Command, args []string) {
		bindProcessFlags(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		load := func() (*singleton.Table, error) {
			f, err := os.Open(args[0])
			if err != nil {
				return nil, err
			}
			defer f.Close()
			return singleton.ParseExport(f)
		}

		if !viper.GetBool("syms.live") {
			cache := symcache.New(load, nil, nil, 8)
			tbl, err := cache.Table()
			if err != nil {
				return fmt.Errorf("failed to load %s: %w", args[0], err)
			}
			names := args[1:]
			if len(names) == 0 {
				names = tbl.Names()
			}
			for _, name := range names {
				addr, ok, _ := cache.Get(name)
				if !ok {
					log.Warnf("%s not in table", name)
					continue
				}
				fmt.Printf("%s  %s\n", colors.Address("%#x", uint64(addr)), colors.Symbol("%s", name))
			}
			return nil
		}

		conf, err := config.LoadConfig()
		if err != nil {
			return err
		}
		proc, err := openTarget(conf)
		if err != nil {
			return err
		}
		defer proc.Close()

		var namer symcache.ClassNamer
		ptrSize := 8
		if img, err := proc.Snapshot(); err == nil {
			namer = rtti.NewResolver(img, conf.ResolverOptions()...)
			ptrSize = img.PointerSize()
		} else {
			log.WithError(err).Warn("no snapshot; class names unavailable")
		}
		cache := symcache.New(load, namer, proc, ptrSize)
		tbl, err := cache.Table()
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", args[0], err)
		}
		if len(args) == 1 {
			printTable(cache, tbl)
			return nil
		}
		for _, name := range args[1:] {
			slot, obj, err := cache.Object(name)
			if errors.Is(err, symcache.ErrUnknownName) {
				log.Warnf("%s not in table", name)
				continue
			}
			fmt.Printf("%s  %s", colors.Address("%#x", uint64(slot)), colors.Symbol("%s", name))
			if err != nil {
				fmt.Printf("  %s\n", colors.Faint().Sprint(err))
				continue
			}
			fmt.Printf("  -> %s", colors.Address("%#x", uint64(obj)))
			if class, ok := cache.ClassNameOf(obj); ok {
				fmt.Printf(" %s", colors.Yellow().Sprint(class))
			}
			fmt.Println()
		}
		return nil
	},
}
