package flash

// Target RAM layout used by the code stubs
const (
	LoadAddr  uint32 = 0x20000000
	StackAddr uint32 = 0x20001000
	DataAddr  uint32 = 0x20002000
)

// flashPageStub copies r2 words from RAM at r1 to the flash page at r0 and
// returns into the breakpoint at its start.
var flashPageStub = []uint32{
	0xbe00be00, // bkpt; bkpt
	0x2502b5f0, 0x4c204b1f, 0xf3bf511d, 0xf3bf8f6f, 0x25808f4f, 0x002e00ed,
	0x2f00595f, 0x25a1d0fc, 0x515800ed, 0x2d00599d, 0x2500d0fc, 0xf3bf511d,
	0xf3bf8f6f, 0x25808f4f, 0x002e00ed, 0x2f00595f, 0x2501d0fc, 0xf3bf511d,
	0xf3bf8f6f, 0x599d8f4f, 0xd0fc2d00, 0x25002680, 0x00f60092, 0xd1094295,
	0x511a2200, 0x8f6ff3bf, 0x8f4ff3bf, 0x2a00599a, 0xbdf0d0fc, 0x5147594f,
	0x2f00599f, 0x3504d0fc, 0x46c0e7ec, 0x4001e000, 0x00000504,
}

// checksumStub writes the murmur3 lane pair of r3 pages of r2 bytes each,
// starting at flash address r1, to RAM at r0 and stops on a breakpoint.
var checksumStub = []uint32{
	0x4c27b5f0, 0x44a52680, 0x22009201, 0x91004f25, 0x00769303, 0x24080013,
	0x25010019, 0x40eb4029, 0xd0002900, 0x3c01407b, 0xd1f52c00, 0x468c0091,
	0xa9044665, 0x506b3201, 0xd1eb42b2, 0x089b9b01, 0x23139302, 0x9b03469c,
	0xd104429c, 0x2000be2a, 0x449d4b15, 0x9f00bdf0, 0x4d149e02, 0x49154a14,
	0x3e01cf08, 0x2111434b, 0x491341cb, 0x405a434b, 0x4663405d, 0x230541da,
	0x4b10435a, 0x466318d2, 0x230541dd, 0x4b0d435d, 0x2e0018ed, 0x6002d1e7,
	0x9a009b01, 0x18d36045, 0x93003008, 0xe7d23401, 0xfffffbec, 0xedb88320,
	0x00000414, 0x1ec3a6c8, 0x2f9be6cc, 0xcc9e2d51, 0x1b873593, 0xe6546b64,
}

// slotAddr is the RAM staging buffer for the i-th written page. Consecutive
// pages alternate so the next page can be uploaded while one is programmed.
func slotAddr(i int, pageSize uint32) uint32 {
	if i&1 == 1 {
		return DataAddr
	}
	return DataAddr + pageSize
}
