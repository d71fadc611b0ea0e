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
	"io/ioutil"

	"github.com/spf13/cobra"
)

var (
	tmpDumpStart  uint32
	tmpDumpLength uint32
	tmpDumpFile   = ""
)

func DumpTargetMemory(start, length uint32, filename string) error {
	ctx := context.Background()
	l, disconnect, err := connectLink(ctx)
	if err != nil {
		return err
	}
	defer disconnect()

	if length == 0 {
		length = l.Session().FlashSize()
	}
	if err = l.Halt(ctx); err != nil {
		return err
	}
	defer l.Resume(ctx)

	rawdata, err := l.ReadMemory(ctx, start, int(length))
	if err != nil {
		return err
	}

	linebreakCount := 32
	for pos := 0; pos < len(rawdata); pos += linebreakCount {
		end := pos + linebreakCount
		if end > len(rawdata) {
			end = len(rawdata)
		}
		fmt.Printf("%#08x: %02x\n", start+uint32(pos), rawdata[pos:end])
	}

	if len(filename) == 0 {
		filename = fmt.Sprintf("rawdump_%04x_%08x.dump", l.Session().Identity.BoardID, start)
	}
	if err = ioutil.WriteFile(filename, rawdata, 0644); err != nil {
		return err
	}
	fmt.Printf("dumped data stored to file '%s'\n", filename)
	return nil
}

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump target memory to a file",
	Long:  "Halts the core, reads the given memory range and stores it to a file. Without --length the whole flash is dumped.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return DumpTargetMemory(tmpDumpStart, tmpDumpLength, tmpDumpFile)
	},
}

func init() {
	rootCmd.AddCommand(dumpCmd)
	dumpCmd.Flags().Uint32Var(&tmpDumpStart, "start", 0, "start address")
	dumpCmd.Flags().Uint32Var(&tmpDumpLength, "length", 0, "number of bytes to dump, default is the whole flash")
	dumpCmd.Flags().StringVarP(&tmpDumpFile, "out", "o", "", "output file")
}
