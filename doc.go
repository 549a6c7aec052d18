// Package romkit edits Nintendo DS Pokémon ROM images.
//
// A ROM is loaded against a layout catalog that describes, per build, where
// each record table lives, which pointers and branches reference movable
// data, and which patches exist. Loading verifies the image against the
// build's checksums; an image that does not match is refused for editing.
//
//	romkit/
//	├── session/     Load, edit, patch and save a ROM image
//	├── nds/         Cartridge container: header, FNT, FAT, overlays
//	├── narc/        NARC archive codec
//	├── layout/      Build catalog and record layouts
//	├── record/      Typed records over layout descriptors
//	├── arena/       Free-space allocation in executable images
//	├── patch/       Byte patches, IPS files and branch relocation
//	├── integrity/   Checksum gate
//	├── textcodec/   String field codecs, including wasm plugins
//	├── config/      ROMKIT_* environment settings
//	└── errors/      Structured error types
//
// # Quick Start
//
//	cat, err := layout.LoadFile(os.DirFS("layouts"), "catalog.json")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	s, err := romkit.LoadFile("platinum.nds", cat)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	rec, _ := s.Record(session.Species, 25)
//	sp := rec.(*record.Species)
//	sp.Speed = 120
//	warnings, err := s.SetRecord(session.Species, 25, sp)
//
//	if _, err := s.ApplyNamedPatch("fastText"); err != nil {
//	    log.Fatal(err)
//	}
//	err = romkit.SaveFile(s, "platinum-edited.nds")
//
// # Errors
//
// Errors are *errors.Error values carrying a phase and a kind. Match them
// with the sentinels:
//
//	if stderrors.Is(err, errors.ErrIntegrity) {
//	    // the image is not the build the catalog describes
//	}
//
// Running out of executable space while applying a patch is recoverable.
// Any other failure after a patch has started writing is fatal: the image
// is restored, but the session refuses to save until it is reloaded.
//
// # Logging
//
// Every package logs through zap and is silent by default. SetLogger
// installs one logger for all of them.
package romkit
