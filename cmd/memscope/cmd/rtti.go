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
	"encoding/json"
	"fmt"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/blacktop/memscope/internal/colors"
	"github.com/blacktop/memscope/internal/config"
	"github.com/blacktop/memscope/internal/utils"
	"github.com/blacktop/memscope/pkg/image"
	"github.com/blacktop/memscope/pkg/rtti"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(rttiCmd)

	rttiCmd.Flags().StringArrayP("vtable", "t", nil, "Resolve the class of this vtable address (repeatable)")
	rttiCmd.Flags().IntP("limit", "n", 0, "Stop after this many classes (0 for all)")
	rttiCmd.Flags().BoolP("json", "j", false, "Output as JSON")
	rttiCmd.Flags().BoolP("mangled", "m", false, "Show the raw type descriptor names")
	viper.BindPFlag("rtti.cmd.vtable", rttiCmd.Flags().Lookup("vtable"))
	viper.BindPFlag("rtti.cmd.limit", rttiCmd.Flags().Lookup("limit"))
	viper.BindPFlag("rtti.cmd.json", rttiCmd.Flags().Lookup("json"))
	viper.BindPFlag("rtti.cmd.mangled", rttiCmd.Flags().Lookup("mangled"))
}

// rttiCmd represents the rtti command
var rttiCmd = &cobra.Command{
	Use:   "rtti <PE>",
	Short: "Recover C++ class names from MSVC RTTI",
	Example: heredoc.Doc(`
		# List every class with a vtable in .rdata
		❯ memscope rtti game.exe

		# Name the class behind one vtable
		❯ memscope rtti game.exe --vtable 0x1403F2A10

		# Dump as JSON
		❯ memscope rtti game.exe --json > classes.json`),
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := config.LoadConfig()
		if err != nil {
			return err
		}
		img, err := image.OpenPE(args[0])
		if err != nil {
			return errors.Wrapf(err, "failed to open %s", args[0])
		}
		r := rtti.NewResolver(img, conf.ResolverOptions()...)

		var classes []rtti.ClassInfo
		if vtables := viper.GetStringSlice("rtti.cmd.vtable"); len(vtables) > 0 {
			for _, v := range vtables {
				addr, err := utils.ParseAddress(v)
				if err != nil {
					return errors.Wrapf(err, "bad vtable address %q", v)
				}
				ci, ok := r.Resolve(image.Address(addr))
				if !ok {
					log.Warnf("no RTTI for vtable %#x", addr)
					continue
				}
				classes = append(classes, ci)
			}
		} else {
			seq, err := r.AllClasses()
			if err != nil {
				return err
			}
			limit := viper.GetInt("rtti.cmd.limit")
			for ci := range seq {
				classes = append(classes, ci)
				if limit > 0 && len(classes) >= limit {
					break
				}
			}
		}

		if viper.GetBool("rtti.cmd.json") {
			out, err := json.MarshalIndent(classes, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal classes: %w", err)
			}
			fmt.Println(string(out))
			return nil
		}

		for _, ci := range classes {
			fmt.Printf("%s  %s", colors.Address("%#x", uint64(ci.Vtable)), colors.Symbol("%s", ci.Name))
			if viper.GetBool("rtti.cmd.mangled") {
				fmt.Printf("  %s", colors.Faint().Sprint(ci.Mangled))
			}
			fmt.Println()
		}
		log.Infof("%d class(es)", len(classes))
		return nil
	},
}
