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
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/blacktop/memscope/internal/colors"
	"github.com/blacktop/memscope/internal/config"
	"github.com/blacktop/memscope/internal/disasm"
	"github.com/blacktop/memscope/internal/utils"
	"github.com/blacktop/memscope/pkg/image"
	"github.com/blacktop/memscope/pkg/rtti"
	"github.com/blacktop/memscope/pkg/singleton"
	"github.com/blacktop/memscope/pkg/symcache"
	"github.com/briandowns/spinner"
	"github.com/caarlos0/ctrlc"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(discoverCmd)

	discoverCmd.Flags().Uint32P("pid", "p", 0, "Target process ID")
	discoverCmd.Flags().StringP("name", "n", "", "Target process executable name")
	discoverCmd.Flags().StringP("module", "m", "", "Module to scan (default main executable)")
	discoverCmd.Flags().DurationP("timeout", "t", 0, "Timeout for each remote name call")
	discoverCmd.Flags().StringP("output", "o", "", "Write the table to this file")
	discoverCmd.Flags().Bool("no-class", false, "Do not resolve the class of live instances")
	viper.BindPFlag("discover.output", discoverCmd.Flags().Lookup("output"))
	viper.BindPFlag("discover.no-class", discoverCmd.Flags().Lookup("no-class"))
}

// discoverCmd represents the discover command
var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Discover the singletons of a running process",
	Example: heredoc.Doc(`
		# Attach by name and save the table
		❯ memscope discover --name game.exe -o singletons.txt

		# Scan a DLL inside a known process
		❯ memscope discover --pid 4242 --module engine.dll`),
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	PreRun: func(cmd *cobra.Command, args []string) {
		bindProcessFlags(cmd)
		viper.BindPFlag("process.timeout", cmd.Flags().Lookup("timeout"))
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := config.LoadConfig()
		if err != nil {
			return err
		}

		proc, err := openTarget(conf)
		if err != nil {
			return err
		}
		defer proc.Close()

		img, err := proc.Snapshot()
		if err != nil {
			return fmt.Errorf("failed to snapshot %s: %w", proc.Module().Name, err)
		}
		log.WithFields(log.Fields{
			"pid":    proc.PID(),
			"module": proc.Module().Name,
			"base":   img.Base(),
		}).Info("Attached")
		for _, sec := range img.Sections() {
			utils.Indent(log.WithField("size", humanize.Bytes(sec.VirtualRange.Size)).Debug, 2)(sec.Name)
		}

		opts := conf.DiscoveryOptions()
		if conf.Discovery.Disasm {
			opts = append(opts, singleton.WithFilter(disasm.Aligned))
		}
		inv := singleton.NewRemoteInvoker(proc, conf.Process.Timeout)

		var namer symcache.ClassNamer
		if !viper.GetBool("discover.no-class") {
			namer = rtti.NewResolver(img, conf.ResolverOptions()...)
		}
		cache := symcache.New(func() (*singleton.Table, error) {
			return singleton.Discover(img, inv, opts...)
		}, namer, proc, img.PointerSize())

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var tbl *singleton.Table
		if err := ctrlc.Default.Run(ctx, func() error {
			s := spinner.New(spinner.CharSets[38], 100*time.Millisecond)
			s.Prefix = color.BlueString("   • Discovering... ")
			s.Start()
			defer s.Stop()
			tbl, err = cache.Table()
			return err
		}); err != nil {
			if errors.As(err, &ctrlc.ErrorCtrlC{}) {
				log.Warn("Detaching...")
				return nil
			}
			return err
		}
		printTable(cache, tbl)

		if out := viper.GetString("discover.output"); out != "" {
			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", out, err)
			}
			defer f.Close()
			if err := tbl.Export(f); err != nil {
				return fmt.Errorf("failed to write %s: %w", out, err)
			}
			log.Infof("Wrote %d singleton(s) to %s", tbl.Len(), out)
		}
		return nil
	},
}

// bindProcessFlags binds the target flags shared by discover and syms.
func bindProcessFlags(cmd *cobra.Command) {
	viper.BindPFlag("process.pid", cmd.Flags().Lookup("pid"))
	viper.BindPFlag("process.name", cmd.Flags().Lookup("name"))
	viper.BindPFlag("process.module", cmd.Flags().Lookup("module"))
}

// openTarget attaches to the process described by conf, polling until it
// shows up or attempts run out.
func openTarget(conf *config.Config) (*image.Process, error) {
	pid := viper.GetUint32("process.pid")
	if pid == 0 && conf.Process.Name == "" {
		return nil, fmt.Errorf("need --pid or --name")
	}

	var proc *image.Process
	err := utils.Retry(conf.Process.Attempts, conf.Process.Wait, func() error {
		var err error
		if pid != 0 {
			proc, err = image.OpenProcess(pid, conf.Process.Module)
		} else {
			proc, err = image.FindProcess(conf.Process.Name)
			if err == nil && conf.Process.Module != "" {
				pid = proc.PID()
				proc.Close()
				proc, err = image.OpenProcess(pid, conf.Process.Module)
			}
		}
		if errors.Is(err, image.ErrUnsupported) {
			return utils.Stop(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return proc, nil
}

func printTable(cache *symcache.Cache, tbl *singleton.Table) {
	for _, e := range tbl.Entries() {
		fmt.Printf("%s  %s", colors.Address("%#x", uint64(e.Address)), colors.Symbol("%s", e.Name))
		_, obj, err := cache.Object(e.Name)
		switch {
		case errors.Is(err, symcache.ErrNotInstantiated):
			fmt.Printf("  %s", colors.Faint().Sprint("(null)"))
		case err != nil:
			fmt.Printf("  %s", colors.Red().Sprint(err))
		default:
			fmt.Printf("  -> %s", colors.Address("%#x", uint64(obj)))
			if class, ok := cache.ClassNameOf(obj); ok {
				fmt.Printf(" %s", colors.Yellow().Sprint(class))
			}
		}
		fmt.Println()
	}
	st := cache.Stats()
	log.WithFields(log.Fields{
		"singletons":  tbl.Len(),
		"resolutions": st.Resolutions,
	}).Info("Done")
}
