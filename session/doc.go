// Package session is the load, mutate and save facade over a cartridge.
//
// Load decodes the cartridge, identifies the build from the layout catalog
// by game code and version, verifies the executable, overlays and named
// archives against the build's checksums and decodes every archive the
// build names. Nothing is written back until Save:
//
//	s, err := session.Load(rom, catalog, session.WithPatchFS(os.DirFS("patches")))
//	rec, err := s.Record(session.Species, 25)
//	sp := rec.(*record.Species)
//	sp.Speed = 130
//	warnings, err := s.SetRecord(session.Species, 25, sp)
//	_, err = s.ApplyNamedPatch("fastText")
//	rom, err = s.Save()
//
// Save re-encodes only the archives whose files changed, detected by
// comparing per-file digests taken at load. Images that fail verification
// can be inspected with Open, but every structural access on such a
// session returns a not-verified error.
package session
