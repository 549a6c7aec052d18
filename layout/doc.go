// Package layout loads the per-build Layout Table: the typed description of
// where every record, pointer, branch and patch lives in one ROM build.
//
// A catalog is a JSON document holding one entry per supported build. It is
// validated against an embedded JSON Schema, decoded into Go structs with
// unknown keys rejected, then checked for semantic consistency (required
// record fields, archive references, explicit pointer relativity). All
// problems are reported together:
//
//	cat, err := layout.LoadFile(fsys, "builds.json")
//	if err != nil {
//		return err // lists every missing or renamed key
//	}
//	build, err := cat.Identify("CPUE", 0)
//
// Numbers may be written as JSON integers or as "0x"-prefixed hex strings.
// Byte strings (patch pre/post images) are hex with optional spaces.
//
// The catalog is read-only after loading.
package layout
