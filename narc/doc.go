// Package narc encodes and decodes NARC archives, the indexed file
// containers used by Nintendo DS cartridges.
//
// A NARC blob is a 16-byte header followed by three sections in fixed order:
//
//	BTAF  file allocation table: count, then (start, end) per file
//	BTNF  file name table, kept verbatim
//	GMIF  file image, files laid out contiguously and padded to 4 bytes
//
// Decode slices the image into an Archive; Encode recomputes every offset
// from the current file lengths:
//
//	a, err := narc.Decode(blob)
//	if err != nil {
//		return err
//	}
//	a.SetFile(3, patched)
//	out, err := a.Encode()
//
// Decode(Encode(a)) reproduces every file byte for byte. Encode(Decode(b))
// differs from b only in padding.
package narc
