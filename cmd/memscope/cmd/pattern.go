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
	"fmt"
	"strings"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/blacktop/memscope/internal/colors"
	"github.com/blacktop/memscope/pkg/pattern"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(patternCmd)
}

// patternCmd represents the pattern command
var patternCmd = &cobra.Command{
	Use:   "pattern <SIGNATURE>",
	Short: "Compile a signature and print its atoms",
	Example: heredoc.Doc(`
		# Check a signature before scanning with it
		❯ memscope pattern "48 8B 05 $'{ ?? ?? ?? ?? } 48 85 C0 [0-2] 7? ??"`),
	Args:          cobra.MinimumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := pattern.Compile(strings.Join(args, " "))
		if err != nil {
			return err
		}

		fmt.Println(colors.Bold().Sprint(p.String()))
		fmt.Printf("atoms: %d  min length: %d  captures: %d\n", p.Len(), p.MinLen(), p.NumCaptures())
		for i, a := range p.Atoms() {
			fmt.Printf("  %3d  %-13s %s\n", i, a.Kind, colors.HiCyan().Sprint(a))
		}
		for i, c := range p.Captures() {
			kind := "raw"
			if c.Relative {
				kind = "relative"
			}
			fmt.Printf("  capture %d: %s, %d bytes\n", i, colors.Yellow().Sprint(kind), c.Width)
		}
		return nil
	},
}
