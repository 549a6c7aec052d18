// Package patch applies byte-level code and data modifications to an
// executable image.
//
// A Descriptor is an ordered list of edits, each an offset, an optional
// pre-image and a post-image. The Applier checks every edit before
// writing anything: an edit already at its post-image is skipped, so
// applying a descriptor twice is a no-op, and an edit matching neither
// image aborts with an *errors.MismatchError.
//
// Edits that grow first try to take the free bytes right after them. When
// those are not free the post-image is written to a fresh allocation, the
// old bytes are released, and every known reference is moved with it:
// pointer words of any relativity and ARM/Thumb relative branches. A
// branch whose new displacement no longer fits its encoding is a
// FatalPatch error; the image is restored before it is returned.
//
// Descriptors come from the build's layout, either inline edits or IPS
// files:
//
//	lib := patch.NewLibrary(build, os.DirFS(patchDir))
//	d, err := lib.Lookup("fastText")
//	res, err := applier.Apply(img, d)
package patch
