package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/romkit"
	"github.com/wippyai/romkit/config"
	"github.com/wippyai/romkit/errors"
	"github.com/wippyai/romkit/layout"
	"github.com/wippyai/romkit/session"
)

func main() {
	var (
		romFile     = flag.String("rom", "", "Path to the ROM image")
		layoutFile  = flag.String("layout", "", "Layout catalog (overrides ROMKIT_LAYOUT)")
		outFile     = flag.String("out", "", "Write the edited image here")
		info        = flag.Bool("info", false, "Show build, verification and record counts")
		get         = flag.String("get", "", "Print a record as JSON (kind:index)")
		set         = flag.String("set", "", "Update a record from -json (kind:index)")
		value       = flag.String("json", "", "JSON fields for -set")
		patches     = flag.String("patch", "", "Apply named patches (comma-separated)")
		entry       = flag.String("entry", "", "Read a named entry, or write it with -value")
		entryValue  = flag.String("value", "", "Value for -entry")
		force       = flag.Bool("force", false, "Open an image that fails verification (read-only diagnostics)")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Parse()

	if *romFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: romkit -rom <file.nds> [-layout catalog.json] -info")
		fmt.Fprintln(os.Stderr, "       romkit -rom <file.nds> -get species:25")
		fmt.Fprintln(os.Stderr, "       romkit -rom <file.nds> -set species:25 -json '{\"Speed\":120}' -out edited.nds")
		fmt.Fprintln(os.Stderr, "       romkit -rom <file.nds> -patch fastText,nationalDex -out edited.nds")
		fmt.Fprintln(os.Stderr, "       romkit -rom <file.nds> -i  (interactive mode)")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *layoutFile != "" {
		cfg.Layout = *layoutFile
	}

	if *interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			fmt.Fprintln(os.Stderr, "Error: interactive mode needs a terminal")
			os.Exit(1)
		}
		if err := runInteractive(cfg, *romFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	req := request{
		out:        *outFile,
		info:       *info,
		get:        *get,
		set:        *set,
		value:      *value,
		patches:    *patches,
		entry:      *entry,
		entryValue: *entryValue,
		force:      *force,
	}
	if err := run(cfg, *romFile, req); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type request struct {
	out        string
	get        string
	set        string
	value      string
	patches    string
	entry      string
	entryValue string
	info       bool
	force      bool
}

// open loads the catalog and the ROM and wires the configured logger and
// codec. The returned function releases the codec.
func open(ctx context.Context, cfg *config.Config, romFile string, force bool) (*session.Session, func(), error) {
	logger, err := cfg.Logger()
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	romkit.SetLogger(logger)

	cat, err := cfg.Catalog()
	if err != nil {
		return nil, nil, err
	}
	codec, closeCodec, err := cfg.Codec(ctx)
	if err != nil {
		return nil, nil, err
	}
	done := func() {
		if err := closeCodec(); err != nil {
			logger.Warn("closing text codec", zap.Error(err))
		}
		_ = logger.Sync()
	}

	opts := cfg.SessionOptions(codec)
	var s *session.Session
	if force {
		data, rerr := os.ReadFile(romFile)
		if rerr != nil {
			done()
			return nil, nil, fmt.Errorf("read file: %w", rerr)
		}
		s, err = session.Open(data, cat, opts...)
	} else {
		s, err = romkit.LoadFile(romFile, cat, opts...)
	}
	if err != nil {
		done()
		return nil, nil, err
	}
	return s, done, nil
}

func run(cfg *config.Config, romFile string, req request) error {
	ctx := context.Background()

	s, done, err := open(ctx, cfg, romFile, req.force)
	if err != nil {
		return err
	}
	defer done()

	if req.info || !s.Verified() {
		printInfo(s)
	}
	if !s.Verified() {
		return nil
	}

	if req.get != "" {
		kind, index, err := parseRef(req.get)
		if err != nil {
			return err
		}
		rec, err := s.Record(kind, index)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return fmt.Errorf("encode record: %w", err)
		}
		fmt.Println(string(out))
	}

	dirty := false
	if req.set != "" {
		if err := setRecord(s, req.set, req.value); err != nil {
			return err
		}
		dirty = true
	}

	if req.patches != "" {
		for _, name := range strings.Split(req.patches, ",") {
			name = strings.TrimSpace(name)
			res, err := s.ApplyNamedPatch(name)
			if err != nil {
				var oos *errors.OutOfSpaceError
				if stderrors.As(err, &oos) {
					return fmt.Errorf("patch %s: %w (raise the build's extension limit or free space)", name, err)
				}
				return fmt.Errorf("patch %s: %w", name, err)
			}
			fmt.Printf("%s: %d applied, %d already present, %d relocated\n",
				name, res.Applied, res.Skipped, len(res.Relocations))
		}
		dirty = true
	}

	if req.entry != "" {
		if req.entryValue == "" {
			values, err := s.ReadEntry(req.entry)
			if err != nil {
				return err
			}
			fmt.Printf("%s: %v\n", req.entry, values)
		} else {
			v, err := strconv.ParseInt(req.entryValue, 0, 64)
			if err != nil {
				return fmt.Errorf("entry value: %w", err)
			}
			warnings, err := s.WriteEntry(req.entry, int(v))
			if err != nil {
				return err
			}
			for _, w := range warnings {
				fmt.Printf("warning: %s\n", w)
			}
			dirty = true
		}
	}

	if dirty && req.out == "" {
		return fmt.Errorf("changes made but no -out given")
	}
	if req.out != "" {
		if err := romkit.SaveFile(s, req.out); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", req.out)
	}
	return nil
}

func setRecord(s *session.Session, ref, value string) error {
	if value == "" {
		return fmt.Errorf("-set needs -json")
	}
	kind, index, err := parseRef(ref)
	if err != nil {
		return err
	}
	rec, err := s.Record(kind, index)
	if err != nil {
		return err
	}
	// fields missing from value keep their current contents
	if err := json.Unmarshal([]byte(value), rec); err != nil {
		return fmt.Errorf("decode -json: %w", err)
	}
	warnings, err := s.SetRecord(kind, index, rec)
	if err != nil {
		return err
	}
	for _, w := range warnings {
		fmt.Printf("warning: %s\n", w)
	}
	return nil
}

func printInfo(s *session.Session) {
	b := s.Build()
	fmt.Printf("Build: %s (%s v%d, %s)\n", b.Name, b.GameCode, b.Version, b.Family)
	if !s.Verified() {
		fmt.Println("Verification: FAILED")
		for _, m := range s.Mismatches() {
			fmt.Printf("  %v\n", m)
		}
		return
	}
	fmt.Println("Verification: ok")

	fmt.Printf("\nRecords:\n")
	for _, kind := range session.Kinds {
		n, err := s.Count(kind)
		if err != nil {
			continue
		}
		fmt.Printf("  %-12s %d\n", kind, n)
	}

	exe, err := s.Executable()
	if err == nil {
		fmt.Printf("\nExecutable: %d bytes, %d free\n", exe.Len(), exe.Arena.FreeBytes())
	}

	fmt.Printf("\nPatches:\n")
	for _, name := range s.Patches() {
		p, err := b.Patch(name)
		if err != nil {
			continue
		}
		fmt.Printf("  %-16s %s\n", name, describePatch(p))
	}
}

func describePatch(p layout.Patch) string {
	if p.IPS != "" {
		return p.Target + " ips " + p.IPS
	}
	return fmt.Sprintf("%s %d edits", p.Target, len(p.Edits))
}

// parseRef parses kind:index.
func parseRef(ref string) (session.Kind, int, error) {
	k, idx, ok := strings.Cut(ref, ":")
	if !ok {
		return "", 0, fmt.Errorf("record reference %q is not kind:index", ref)
	}
	index, err := strconv.Atoi(idx)
	if err != nil {
		return "", 0, fmt.Errorf("record index %q: %w", idx, err)
	}
	return session.Kind(k), index, nil
}
