package nds

import (
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/wippyai/romkit/errors"
	"github.com/wippyai/romkit/internal/binary"
)

const (
	rootDir    = 0xF000
	dirEntry   = 0x80
	maxNameLen = 0x7F
	fntEntry   = 8
)

// parseFNT walks the file name table and returns the file id of every
// path. Paths are absolute and slash-separated.
func parseFNT(fnt []byte, files int) (map[string]int, error) {
	if len(fnt) < fntEntry {
		return nil, errors.Format(errors.PhaseLoad, "fnt", "table shorter than the root entry")
	}
	dirs := int(binary.U16(fnt, 6))
	if dirs == 0 || dirs > 0x1000 || dirs*fntEntry > len(fnt) {
		return nil, errors.FormatAt(errors.PhaseLoad, "fnt", 6, fmt.Sprintf("%d directories", dirs))
	}

	ids := make(map[string]int)
	seen := make(map[int]bool)
	var walk func(dir int, prefix string) error
	walk = func(dir int, prefix string) error {
		if seen[dir] {
			return errors.FormatAt(errors.PhaseLoad, "fnt", dir*fntEntry, "directory cycle")
		}
		seen[dir] = true
		main := dir * fntEntry
		r := binary.NewReader(fnt)
		if err := r.Seek(int(binary.U32(fnt, main))); err != nil {
			return errors.New(errors.PhaseLoad, errors.KindFormat).
				Path("fnt").Offset(main).Cause(err).Detail("sub-table of directory %#x", rootDir|dir).Build()
		}
		id := int(binary.U16(fnt, main+4))

		for {
			start := r.Position()
			n, err := r.ReadByte()
			if err != nil {
				return errors.FormatAt(errors.PhaseLoad, "fnt", start, "unterminated sub-table")
			}
			if n == 0 {
				return nil
			}
			name, err := r.ReadBytes(int(n & maxNameLen))
			if err != nil {
				return errors.FormatAt(errors.PhaseLoad, "fnt", start, "truncated entry name")
			}
			p := prefix + "/" + string(name)
			if n&dirEntry == 0 {
				if id >= files {
					return errors.New(errors.PhaseLoad, errors.KindFormat).Path("fnt", p).Offset(start).
						Detail("file id %d past %d-entry FAT", id, files).Build()
				}
				ids[p] = id
				id++
				continue
			}
			sub, err := r.ReadU16()
			if err != nil || sub&rootDir != rootDir || int(sub&^rootDir) >= dirs {
				return errors.New(errors.PhaseLoad, errors.KindFormat).Path("fnt", p).Offset(start).
					Detail("bad directory id %#x", sub).Build()
			}
			if err := walk(int(sub&^rootDir), p); err != nil {
				return err
			}
		}
	}
	if err := walk(0, ""); err != nil {
		return nil, err
	}
	return ids, nil
}

type fntDir struct {
	name  string
	files []string
	dirs  []*fntDir
	id    int
	first int
	sub   []byte
}

// buildFNT lays out a name table for paths. Files are numbered from first
// in directory order, so the returned ids are the FAT indices to use.
func buildFNT(paths []string, first int) ([]byte, map[string]int, error) {
	root := &fntDir{}
	index := map[string]*fntDir{"": root}

	var mkdir func(p string) *fntDir
	mkdir = func(p string) *fntDir {
		if d, ok := index[p]; ok {
			return d
		}
		pd := path.Dir(p)
		if pd == "/" {
			pd = ""
		}
		parent := mkdir(pd)
		d := &fntDir{name: path.Base(p)}
		parent.dirs = append(parent.dirs, d)
		index[p] = d
		return d
	}

	sorted := slices.Clone(paths)
	slices.Sort(sorted)
	for _, p := range sorted {
		clean := path.Clean("/" + p)
		dir, name := path.Split(clean)
		if name == "" || len(name) > maxNameLen {
			return nil, nil, errors.InvalidInput(errors.PhaseSave, fmt.Sprintf("file path %q", p))
		}
		d := mkdir(strings.TrimSuffix(dir, "/"))
		if slices.Contains(d.files, name) {
			return nil, nil, errors.InvalidInput(errors.PhaseSave, fmt.Sprintf("duplicate file path %q", p))
		}
		d.files = append(d.files, name)
	}

	// Directory ids in depth-first order, files numbered the same way.
	var dirs []*fntDir
	ids := make(map[string]int, len(paths))
	next := first
	var number func(d *fntDir, prefix string)
	number = func(d *fntDir, prefix string) {
		d.id = len(dirs)
		dirs = append(dirs, d)
		d.first = next
		for _, f := range d.files {
			ids[prefix+"/"+f] = next
			next++
		}
		for _, sub := range d.dirs {
			number(sub, prefix+"/"+sub.name)
		}
	}
	number(root, "")
	if len(dirs) > 0x1000 {
		return nil, nil, errors.InvalidInput(errors.PhaseSave, fmt.Sprintf("%d directories", len(dirs)))
	}

	for _, d := range dirs {
		w := binary.NewWriter()
		for _, f := range d.files {
			w.Byte(byte(len(f)))
			w.WriteString(f)
		}
		for _, sub := range d.dirs {
			if len(sub.name) > maxNameLen {
				return nil, nil, errors.InvalidInput(errors.PhaseSave, fmt.Sprintf("directory name %q", sub.name))
			}
			w.Byte(dirEntry | byte(len(sub.name)))
			w.WriteString(sub.name)
			w.WriteU16(uint16(rootDir | sub.id))
		}
		w.Byte(0)
		d.sub = w.Bytes()
	}

	parents := make(map[*fntDir]int, len(dirs))
	for _, d := range dirs {
		for _, sub := range d.dirs {
			parents[sub] = d.id
		}
	}

	w := binary.NewWriter()
	off := len(dirs) * fntEntry
	for _, d := range dirs {
		w.WriteU32(uint32(off))
		w.WriteU16(uint16(d.first))
		if d == root {
			w.WriteU16(uint16(len(dirs)))
		} else {
			w.WriteU16(uint16(rootDir | parents[d]))
		}
		off += len(d.sub)
	}
	for _, d := range dirs {
		w.WriteBytes(d.sub)
	}
	return w.Bytes(), ids, nil
}
