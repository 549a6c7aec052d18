// Package nds reads and rebuilds Nintendo DS cartridge images.
//
// A cartridge is a header followed by the ARM9 and ARM7 executables, the
// overlay tables, a file name table (FNT), a file allocation table (FAT),
// the banner and the files themselves. Decode copies every part out of the
// image; files are addressed by FAT id or by absolute path:
//
//	c, err := nds.Decode(rom)
//	data, err := c.ReadFile("/poketool/personal/pl_personal.narc")
//	err = c.WriteFile("/poketool/personal/pl_personal.narc", edited)
//	rom, err = c.Encode()
//
// Encode never moves a file id. It lays every section out again at
// 0x200-byte boundaries and recomputes the header CRC16, so files and
// executables may change size freely.
package nds
