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

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mame82/dapflash/flash"
)

var tmpCompareFile = ""

// PrintChecksums reads the page checksum table from the target. If an image
// is given, the pages a partial write would reprogram are listed.
func PrintChecksums(imagePath string) error {
	ctx := context.Background()
	l, disconnect, err := connectLink(ctx)
	if err != nil {
		return err
	}
	defer disconnect()

	s := flash.NewSession(l)
	geo, err := s.Geometry()
	if err != nil {
		return err
	}
	if err = l.Reset(ctx, true); err != nil {
		return err
	}
	defer func() {
		if err := l.Reset(ctx, false); err != nil {
			log.Warnf("reset: %v", err)
		}
	}()

	if len(imagePath) == 0 {
		table, err := s.Engine().ReadChecksums(ctx, geo)
		if err != nil {
			return err
		}
		for i, c := range table {
			fmt.Printf("page %4d %#08x: %s\n", i, uint32(i)*geo.PageSize, c)
		}
		return nil
	}

	img, err := flash.LoadImage(imagePath, tmpBaseAddress)
	if err != nil {
		return err
	}
	plan, err := s.Engine().Plan(ctx, img, geo)
	if err != nil {
		return err
	}
	for _, p := range plan.Pages {
		state := "same"
		if plan.IsChanged(p.Index) {
			state = "changed"
		}
		fmt.Printf("page %4d %#08x: %s\n", p.Index, p.Address, state)
	}
	fmt.Printf("%d of %d pages changed, a %s write would be used\n", len(plan.Changed), len(plan.Pages), plan.Preferred())
	return nil
}

var checksumsCmd = &cobra.Command{
	Use:   "checksums",
	Short: "Read page checksums from the target, optionally comparing them against an image",
	RunE: func(cmd *cobra.Command, args []string) error {
		return PrintChecksums(tmpCompareFile)
	},
}

func init() {
	rootCmd.AddCommand(checksumsCmd)
	checksumsCmd.Flags().StringVarP(&tmpCompareFile, "file", "f", "", "image to compare the target against")
	checksumsCmd.Flags().Uint32Var(&tmpBaseAddress, "base", 0, "load address of a raw binary image")
}
