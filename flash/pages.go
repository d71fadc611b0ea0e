package flash

import "sort"

// Page is one flash page worth of image data. Index is the position of the
// page in the full aligned sequence and survives filtering.
type Page struct {
	Index   int
	Address uint32
	Data    []byte
}

// AlignPages cuts img into pageSize pages: the code region from address 0 up
// to its last populated byte (capped at limit if non-zero), followed by the
// touched configuration region pages in address order.
func AlignPages(img Image, pageSize, limit uint32, fill byte) []Page {
	var pages []Page

	end := mainEnd(img, limit)
	for addr := uint32(0); addr < end; addr += pageSize {
		pages = append(pages, Page{
			Index:   len(pages),
			Address: addr,
			Data:    img.SliceAndPad(addr, pageSize, fill),
		})
	}

	seen := map[uint32]bool{}
	var config []uint32
	for _, r := range img.Regions() {
		if r.Address < ConfigBase || r.Length == 0 {
			continue
		}
		for addr := r.Address &^ (pageSize - 1); addr < r.End(); addr += pageSize {
			if !seen[addr] {
				seen[addr] = true
				config = append(config, addr)
			}
		}
	}
	sort.Slice(config, func(i, j int) bool { return config[i] < config[j] })
	for _, addr := range config {
		pages = append(pages, Page{
			Index:   len(pages),
			Address: addr,
			Data:    img.SliceAndPad(addr, pageSize, fill),
		})
	}
	return pages
}

// Unalign concatenates the code region pages back into one blob, including
// the fill of the last page.
func Unalign(pages []Page) []byte {
	var res []byte
	for _, p := range pages {
		if p.Address >= ConfigBase {
			continue
		}
		res = append(res, p.Data...)
	}
	return res
}
