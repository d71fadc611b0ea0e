package flash

import (
	"encoding/binary"
	"fmt"
	"math/bits"
)

// Checksum is the pair of 32 bit murmur3 lanes computed per page, both by
// the on-target checksum routine and locally.
type Checksum [2]uint32

func (c Checksum) String() string {
	return fmt.Sprintf("%08x:%08x", c[0], c[1])
}

type ChecksumTable []Checksum

const (
	murmurSeed0 uint32 = 0x2f9be6cc
	murmurSeed1 uint32 = 0x1ec3a6c8
	murmurC1    uint32 = 0xcc9e2d51
	murmurC2    uint32 = 0x1b873593
	murmurN     uint32 = 0xe6546b64
)

// PageChecksum runs the murmur3 core over data read as little endian words.
func PageChecksum(data []byte) Checksum {
	h0, h1 := murmurSeed0, murmurSeed1
	for i := 0; i+4 <= len(data); i += 4 {
		k := binary.LittleEndian.Uint32(data[i:])
		k *= murmurC1
		k = bits.RotateLeft32(k, 15)
		k *= murmurC2

		h0 ^= k
		h1 ^= k
		h0 = bits.RotateLeft32(h0, 13)
		h1 = bits.RotateLeft32(h1, 13)
		h0 = h0*5 + murmurN
		h1 = h1*5 + murmurN
	}
	return Checksum{h0, h1}
}

// ParseChecksumTable pairs up words as read back from the target.
func ParseChecksumTable(words []uint32) ChecksumTable {
	res := make(ChecksumTable, len(words)/2)
	for i := range res {
		res[i] = Checksum{words[2*i], words[2*i+1]}
	}
	return res
}
