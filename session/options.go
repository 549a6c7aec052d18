package session

import (
	"io/fs"

	"github.com/wippyai/romkit/textcodec"
)

type options struct {
	text      textcodec.Codec
	patches   fs.FS
	alignment int
	step      int
}

// Option configures a Session.
type Option func(*options)

// WithTextCodec sets the codec for string fields. The default is UTF-16LE.
func WithTextCodec(c textcodec.Codec) Option {
	return func(o *options) {
		o.text = c
	}
}

// WithPatchFS sets where IPS files named by the layout are read from.
func WithPatchFS(fsys fs.FS) Option {
	return func(o *options) {
		o.patches = fsys
	}
}

// WithAlignment overrides the build's executable allocation alignment.
func WithAlignment(n int) Option {
	return func(o *options) {
		if n > 0 && n&(n-1) == 0 {
			o.alignment = n
		}
	}
}

// WithExtendStep sets the minimum number of bytes the executable grows by
// when a patch runs out of space.
func WithExtendStep(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.step = n
		}
	}
}
