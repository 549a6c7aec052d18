package romkit

import (
	"os"

	"go.uber.org/zap"

	"github.com/wippyai/romkit/arena"
	"github.com/wippyai/romkit/errors"
	"github.com/wippyai/romkit/integrity"
	"github.com/wippyai/romkit/layout"
	"github.com/wippyai/romkit/narc"
	"github.com/wippyai/romkit/nds"
	"github.com/wippyai/romkit/patch"
	"github.com/wippyai/romkit/record"
	"github.com/wippyai/romkit/session"
	"github.com/wippyai/romkit/textcodec/wasmcodec"
)

// SetLogger installs l as the logger of every romkit package. Each
// package gets a child logger named after it.
func SetLogger(l *zap.Logger) {
	arena.SetLogger(l.Named("arena"))
	integrity.SetLogger(l.Named("integrity"))
	layout.SetLogger(l.Named("layout"))
	narc.SetLogger(l.Named("narc"))
	nds.SetLogger(l.Named("nds"))
	patch.SetLogger(l.Named("patch"))
	record.SetLogger(l.Named("record"))
	session.SetLogger(l.Named("session"))
	wasmcodec.SetLogger(l.Named("wasmcodec"))
}

// LoadFile reads a ROM image from disk and loads it against catalog.
func LoadFile(path string, catalog *layout.Catalog, opts ...session.Option) (*session.Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindNotFound, err, "reading "+path)
	}
	return session.Load(data, catalog, opts...)
}

// SaveFile saves s and writes the image to path. The file is only
// replaced once the whole image has been encoded.
func SaveFile(s *session.Session, path string) error {
	data, err := s.Save()
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(errors.PhaseSave, errors.KindInvalidInput, err, "writing "+tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrap(errors.PhaseSave, errors.KindInvalidInput, err, "renaming "+tmp)
	}
	return nil
}
