package flash

import (
	"bytes"
	"io/ioutil"
	"path/filepath"
	"testing"
)

func TestBinaryImageSliceAndPad(t *testing.T) {
	img := &BinaryImage{Base: 0x10, Data: []byte{1, 2, 3, 4}}
	tests := []struct {
		start, length uint32
		want          []byte
	}{
		{0x0e, 4, []byte{9, 9, 1, 2}},
		{0x12, 4, []byte{3, 4, 9, 9}},
		{0x00, 2, []byte{9, 9}},
		{0x20, 2, []byte{9, 9}},
		{0x10, 4, []byte{1, 2, 3, 4}},
	}
	for _, tc := range tests {
		if got := img.SliceAndPad(tc.start, tc.length, 9); !bytes.Equal(got, tc.want) {
			t.Errorf("SliceAndPad(%#x, %d) = % x, want % x", tc.start, tc.length, got, tc.want)
		}
	}
}

func TestToHexRoundTrip(t *testing.T) {
	data := make([]byte, 3000)
	for i := range data {
		data[i] = byte(i)
	}
	img := &BinaryImage{Data: data}

	hex, err := ToHex(img, 2048)
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := ParseHex(bytes.NewReader(hex))
	if err != nil {
		t.Fatal(err)
	}
	var total uint32
	for _, r := range parsed.Regions() {
		if r.End() > 2048 {
			t.Fatalf("region %+v beyond limit", r)
		}
		total += r.Length
	}
	if total != 2048 {
		t.Fatalf("%d bytes in HEX, want 2048", total)
	}
	if !bytes.Equal(parsed.SliceAndPad(0, 2048, 0), data[:2048]) {
		t.Errorf("content mismatch")
	}
}

func TestLoadImage(t *testing.T) {
	dir, err := ioutil.TempDir("", "dapflash")
	if err != nil {
		t.Fatal(err)
	}
	bin := filepath.Join(dir, "fw.bin")
	if err = ioutil.WriteFile(bin, []byte{1, 2, 3, 4}, 0644); err != nil {
		t.Fatal(err)
	}
	hexData, _ := ToHex(&BinaryImage{Base: 0x1000, Data: []byte{5, 6, 7, 8}}, 0)
	hexFile := filepath.Join(dir, "fw.hex")
	if err = ioutil.WriteFile(hexFile, hexData, 0644); err != nil {
		t.Fatal(err)
	}

	img, err := LoadImage(bin, 0x2000)
	if err != nil {
		t.Fatal(err)
	}
	if r := img.Regions(); len(r) != 1 || r[0].Address != 0x2000 {
		t.Errorf("binary regions %+v", r)
	}

	img, err = LoadImage(hexFile, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got := img.SliceAndPad(0x1000, 4, 0); !bytes.Equal(got, []byte{5, 6, 7, 8}) {
		t.Errorf("hex content % x", got)
	}
}

func TestFingerprintIgnoresConfigRegion(t *testing.T) {
	a := &BinaryImage{Data: []byte{1, 2, 3, 4}}
	b := &BinaryImage{Data: []byte{1, 2, 3, 5}}
	if Fingerprint(a, 0) == Fingerprint(b, 0) {
		t.Errorf("different images share a fingerprint")
	}
	cfg := &BinaryImage{Base: ConfigBase, Data: []byte{1}}
	if Fingerprint(cfg, 0) != Fingerprint(&BinaryImage{}, 0) {
		t.Errorf("configuration region changed the fingerprint")
	}
}
