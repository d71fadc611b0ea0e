// Copyright © 2019 Marcus Mengs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/mame82/dapflash/flash"
)

var (
	tmpFirmwarePath = ""
	tmpBaseAddress  uint32
	tmpForceFull    = false
	tmpMinStep      = 0.05
	tmpFlashTimeout = flash.DefaultFlashTimeout
	tmpFill         uint8
)

func progressBar(p flash.Progress) {
	const width = 40
	n := int(p.Fraction * width)
	mode := "full"
	if p.Partial {
		mode = "partial"
	}
	fmt.Printf("\r[%s%s] %3.0f%% (%s)", strings.Repeat("#", n), strings.Repeat(".", width-n), p.Fraction*100, mode)
	if p.Done {
		fmt.Println()
	}
}

func FlashFirmwareFromFile(path string) (err error) {
	img, err := flash.LoadImage(path, tmpBaseAddress)
	if err != nil {
		return err
	}
	fmt.Printf("Opened firmware '%s'\n", path)
	fmt.Print(flash.Describe(img))

	l, err := newLink()
	if err != nil {
		return err
	}
	defer l.Disconnect(context.Background())

	s := flash.NewSession(l,
		flash.WithProgress(flash.Throttle(progressBar, tmpMinStep)),
		flash.WithFlashTimeout(tmpFlashTimeout),
		flash.WithForceFull(tmpForceFull),
		flash.WithFill(tmpFill),
	)
	start := time.Now()
	res, err := s.Flash(context.Background(), img)
	if err != nil {
		return errors.Wrap(err, "flashing failed")
	}

	if sess := l.Session(); sess != nil {
		fmt.Printf("Target: %s\n", sess.Identity)
	}
	fmt.Printf("Flashed in %v using a %s write\n", time.Since(start).Round(time.Millisecond), res.Mode)
	if res.Pages > 0 {
		fmt.Printf("%d of %d pages changed, %d written page by page\n", res.Changed, res.Pages, res.Written)
	}
	if res.FallbackFrom != nil {
		fmt.Printf("Note: fell back after preferred write failed: %v\n", res.FallbackFrom)
	}
	fmt.Printf("Image fingerprint (CRC16): %#04x\n", res.Fingerprint)
	return nil
}

var flashCmd = &cobra.Command{
	Use:   "flash",
	Short: "Flash a firmware image (Intel HEX or raw binary) to the target",
	Long: `Flash a firmware image to the target.

Unless --full is given, page checksums are read from the target first and
only changed pages are reprogrammed, as long as that is less than half of
the image. Otherwise, or if the partial write fails, the image is handed to
the DAPLink interface as a whole.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(tmpFirmwarePath) == 0 && len(args) > 0 {
			tmpFirmwarePath = args[0]
		}
		if len(tmpFirmwarePath) == 0 {
			fmt.Println("Error: no firmware file given for flashing")
			fmt.Println()
			fmt.Println("A firmware file could either be provided as Intel hex file (.hex) with the `-f`")
			fmt.Println("flag or as raw binary, which is placed at the address given by `--base`.")
			return cmd.Usage()
		}
		return FlashFirmwareFromFile(tmpFirmwarePath)
	},
}

func init() {
	rootCmd.AddCommand(flashCmd)
	flashCmd.Flags().StringVarP(&tmpFirmwarePath, "file", "f", "", "path to firmware file (.hex or raw binary)")
	flashCmd.Flags().Uint32Var(&tmpBaseAddress, "base", 0, "load address of a raw binary image")
	flashCmd.Flags().BoolVar(&tmpForceFull, "full", false, "skip the checksum comparison and always write the whole image")
	flashCmd.Flags().Float64Var(&tmpMinStep, "min-step", 0.05, "minimum progress advance between two progress updates")
	flashCmd.Flags().DurationVarP(&tmpFlashTimeout, "timeout", "t", flash.DefaultFlashTimeout, "overall timeout of a flash attempt")
	flashCmd.Flags().Uint8Var(&tmpFill, "fill", 0, "byte used to pad holes in the image")
}
