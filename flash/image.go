package flash

import (
	"bytes"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/marcinbor85/gohex"
	"github.com/pkg/errors"
	"github.com/sigurn/crc16"
)

// ConfigBase is the start of the configuration region (UICR). Pages at or
// above it are only ever written by a full flash.
const ConfigBase uint32 = 0x10000000

type Region struct {
	Address uint32
	Length  uint32
}

func (r Region) End() uint32 {
	return r.Address + r.Length
}

// Image is a sparse firmware image.
type Image interface {
	// Regions lists the populated address ranges in ascending order.
	Regions() []Region
	// SliceAndPad returns length bytes from start, holes filled with fill.
	SliceAndPad(start, length uint32, fill byte) []byte
}

// BinaryImage is a contiguous blob loaded at Base.
type BinaryImage struct {
	Base uint32
	Data []byte
}

func (b *BinaryImage) Regions() []Region {
	if len(b.Data) == 0 {
		return nil
	}
	return []Region{{Address: b.Base, Length: uint32(len(b.Data))}}
}

func (b *BinaryImage) SliceAndPad(start, length uint32, fill byte) []byte {
	res := bytes.Repeat([]byte{fill}, int(length))
	end := start + length
	if end <= b.Base || start >= b.Base+uint32(len(b.Data)) {
		return res
	}
	from := int64(start) - int64(b.Base)
	dst := res
	if from < 0 {
		dst = res[-from:]
		from = 0
	}
	copy(dst, b.Data[from:])
	return res
}

// HexImage is an image parsed from Intel HEX.
type HexImage struct {
	mem *gohex.Memory
}

func NewHexImage(mem *gohex.Memory) *HexImage {
	return &HexImage{mem: mem}
}

func ParseHex(r io.Reader) (*HexImage, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(r); err != nil {
		return nil, errors.Wrap(err, "parse Intel HEX")
	}
	return &HexImage{mem: mem}, nil
}

func (h *HexImage) Regions() []Region {
	var res []Region
	for _, seg := range h.mem.GetDataSegments() {
		res = append(res, Region{Address: seg.Address, Length: uint32(len(seg.Data))})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Address < res[j].Address })
	return res
}

func (h *HexImage) SliceAndPad(start, length uint32, fill byte) []byte {
	return h.mem.ToBinary(start, length, fill)
}

// LoadImage reads an Intel HEX file, or any other file as a raw binary placed
// at base.
func LoadImage(path string, base uint32) (Image, error) {
	if strings.EqualFold(filepath.Ext(path), ".hex") {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return ParseHex(f)
	}

	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "error reading firmware file")
	}
	return &BinaryImage{Base: base, Data: data}, nil
}

// mainEnd is the end of the code region content, capped at limit if set.
func mainEnd(img Image, limit uint32) uint32 {
	var end uint32
	for _, r := range img.Regions() {
		if r.Address >= ConfigBase {
			continue
		}
		e := r.End()
		if e > ConfigBase {
			e = ConfigBase
		}
		if e > end {
			end = e
		}
	}
	if limit > 0 && end > limit {
		end = limit
	}
	return end
}

// ToHex renders img as Intel HEX. The code region is cut at limit, the
// configuration region is kept as is.
func ToHex(img Image, limit uint32) ([]byte, error) {
	mem := gohex.NewMemory()
	for _, r := range img.Regions() {
		start, end := r.Address, r.End()
		if start < ConfigBase && limit > 0 && end > limit {
			end = limit
		}
		if start >= end {
			continue
		}
		if err := mem.AddBinary(start, img.SliceAndPad(start, end-start, 0xff)); err != nil {
			return nil, errors.Wrapf(err, "region %#08x", start)
		}
	}

	var buf bytes.Buffer
	if err := mem.DumpIntelHex(&buf, 16); err != nil {
		return nil, errors.Wrap(err, "dump Intel HEX")
	}
	return buf.Bytes(), nil
}

// Fingerprint is the CRC16 (CCITT-FALSE) of the code region, erased bytes
// filled with 0xff.
func Fingerprint(img Image, limit uint32) uint16 {
	end := mainEnd(img, limit)
	return crc16.Checksum(img.SliceAndPad(0, end, 0xff), crc16.MakeTable(crc16.CRC16_CCITT_FALSE))
}

func Describe(img Image) string {
	res := ""
	for _, r := range img.Regions() {
		res += fmt.Sprintf("%#08x..%#08x (%d bytes)\n", r.Address, r.End(), r.Length)
	}
	return res
}
