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
	"os"
	"text/tabwriter"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/blacktop/memscope/internal/colors"
	"github.com/blacktop/memscope/pkg/image"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(infoCmd)
}

// infoCmd represents the info command
var infoCmd = &cobra.Command{
	Use:           "info <PE>",
	Short:         "Print the mapped layout of a PE module",
	Example:       heredoc.Doc(`❯ memscope info game.exe`),
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		img, err := image.OpenPE(args[0])
		if err != nil {
			return errors.Wrapf(err, "failed to open %s", args[0])
		}

		log.WithFields(log.Fields{
			"base":    img.Base(),
			"size":    humanize.Bytes(img.Size()),
			"pointer": img.PointerSize(),
		}).Info(colors.Bold().Sprint(args[0]))

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSTART\tEND\tSIZE\tFLAGS")
		for _, s := range img.Sections() {
			start, end := img.Bounds(s)
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				colors.BoldHiGreen().Sprint(s.Name),
				colors.Address("%#x", uint64(start)),
				colors.Address("%#x", uint64(end)),
				humanize.Bytes(s.VirtualRange.Size),
				flags(s),
			)
		}
		return w.Flush()
	},
}

func flags(s image.Section) string {
	prot := []byte("---")
	if s.Characteristics&image.ScnMemRead != 0 {
		prot[0] = 'r'
	}
	if s.Writable() {
		prot[1] = 'w'
	}
	if s.Executable() {
		prot[2] = 'x'
	}
	return string(prot)
}
