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

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/alecthomas/chroma/v2/quick"
	"github.com/apex/log"
	"github.com/blacktop/memscope/internal/colors"
	"github.com/blacktop/memscope/internal/disasm"
	"github.com/blacktop/memscope/internal/utils"
	"github.com/blacktop/memscope/pkg/image"
	"github.com/blacktop/memscope/pkg/pattern"
	"github.com/blacktop/memscope/pkg/scan"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringP("section", "s", ".text", "Section to scan")
	scanCmd.Flags().BoolP("exec", "x", false, "Scan every executable section")
	scanCmd.Flags().String("start", "", "Scan from this address instead of a section")
	scanCmd.Flags().String("end", "", "End address for --start (default end of image)")
	scanCmd.Flags().IntP("limit", "n", 0, "Stop after this many matches (0 for all)")
	scanCmd.Flags().BoolP("disasm", "d", false, "Disassemble each match")
	scanCmd.Flags().Bool("hexdump", false, "Hexdump each match")
	scanCmd.MarkFlagsMutuallyExclusive("exec", "start")
	viper.BindPFlag("scan.section", scanCmd.Flags().Lookup("section"))
	viper.BindPFlag("scan.exec", scanCmd.Flags().Lookup("exec"))
	viper.BindPFlag("scan.start", scanCmd.Flags().Lookup("start"))
	viper.BindPFlag("scan.end", scanCmd.Flags().Lookup("end"))
	viper.BindPFlag("scan.limit", scanCmd.Flags().Lookup("limit"))
	viper.BindPFlag("scan.disasm", scanCmd.Flags().Lookup("disasm"))
	viper.BindPFlag("scan.hexdump", scanCmd.Flags().Lookup("hexdump"))
}

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan <PE> <SIGNATURE>",
	Short: "Find every match of a signature in a PE module",
	Example: heredoc.Doc(`
		# Find all singleton accessors in .text
		❯ memscope scan game.exe "48 8B 05 $'{ ?? ?? ?? ?? } 48 85 C0"

		# Search every executable section and disassemble the first 5 hits
		❯ memscope scan game.exe "E8 $'{ ?? ?? ?? ?? } 84 C0" --exec --limit 5 --disasm`),
	Args:          cobra.ExactArgs(2),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := pattern.Compile(args[1])
		if err != nil {
			return err
		}
		img, err := image.OpenPE(args[0])
		if err != nil {
			return errors.Wrapf(err, "failed to open %s", args[0])
		}

		regions, err := scanRegions(img)
		if err != nil {
			return err
		}

		limit := viper.GetInt("scan.limit")
		found := 0
		for _, r := range regions {
			seq, err := scan.Matches(img, r, p)
			if err != nil {
				return err
			}
			log.WithField("region", r).Debug("Scanning")
			for m := range seq {
				printMatch(img, m)
				found++
				if limit > 0 && found >= limit {
					break
				}
			}
			if limit > 0 && found >= limit {
				break
			}
		}

		if found == 0 {
			log.Warn("No matches")
		} else {
			log.Infof("%d match(es)", found)
		}
		return nil
	},
}

func scanRegions(img *image.Image) ([]scan.Region, error) {
	if viper.GetBool("scan.exec") {
		regions := scan.ExecutableRegions(img)
		if len(regions) == 0 {
			return nil, fmt.Errorf("no executable sections")
		}
		return regions, nil
	}
	if start := viper.GetString("scan.start"); start != "" {
		s, err := utils.ParseAddress(start)
		if err != nil {
			return nil, errors.Wrapf(err, "bad --start %q", start)
		}
		e := uint64(img.Base()) + img.Size()
		if end := viper.GetString("scan.end"); end != "" {
			if e, err = utils.ParseAddress(end); err != nil {
				return nil, errors.Wrapf(err, "bad --end %q", end)
			}
		}
		r, err := scan.RangeRegion(img, image.Address(s), image.Address(e))
		if err != nil {
			return nil, err
		}
		return []scan.Region{r}, nil
	}
	r, err := scan.SectionRegion(img, viper.GetString("scan.section"))
	if err != nil {
		return nil, err
	}
	return []scan.Region{r}, nil
}

func printMatch(img *image.Image, m scan.Match) {
	fmt.Printf("%s", colors.Address("%#x", uint64(m.Start)))
	for i, c := range m.Captures {
		fmt.Printf("  %s=%s", colors.Faint().Sprintf("$%d", i), colors.HiMagenta().Sprintf("%#x", uint64(c)))
	}
	fmt.Println()
	if viper.GetBool("scan.disasm") {
		lines, err := disasm.Match(img, m)
		if err != nil {
			log.WithError(err).Warn("failed to disassemble match")
		} else {
			printAsm(disasm.Format(lines))
		}
	}
	if viper.GetBool("scan.hexdump") {
		data, err := img.ReadVA(m.Start, m.Len())
		if err == nil {
			fmt.Println(utils.HexDump(data, uint64(m.Start)))
		}
	}
}

func printAsm(asm string) {
	if colors.Enabled() {
		if err := quick.Highlight(os.Stdout, asm, "nasm", "terminal256", "nord"); err == nil {
			return
		}
	}
	fmt.Print(asm)
}
