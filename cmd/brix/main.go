// Brix CLI - assembles, stores and runs automation programs
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/guidorota/brix-sub000/manifest"
	"github.com/guidorota/brix-sub000/pkg/image"
	"github.com/guidorota/brix-sub000/pkg/pcode"
)

func main() {
	dir := flag.String("C", ".", "Directory to search for brix.toml")
	verbosity := flag.Int("v", -1, "Log verbosity (overrides [log] verbosity)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: brix [options] <command> [args]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  asm [-o out] [-save] [-name n] [-field name:type] file.pasm\n")
		fmt.Fprintf(os.Stderr, "                          Assemble a program into an image\n")
		fmt.Fprintf(os.Stderr, "  disasm [-stored] <image|name>\n")
		fmt.Fprintf(os.Stderr, "                          Print the instructions of an image\n")
		fmt.Fprintf(os.Stderr, "  list                    List programs in the store\n")
		fmt.Fprintf(os.Stderr, "  delete <name>           Delete a program from the store\n")
		fmt.Fprintf(os.Stderr, "  run [-for duration]     Load the manifest's programs and run them\n")
		fmt.Fprintf(os.Stderr, "  stats                   Load the manifest's programs and report usage\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	m, err := loadManifest(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading manifest: %v\n", err)
		os.Exit(1)
	}
	if *verbosity >= 0 {
		m.Log.Verbosity = *verbosity
	}
	commonlog.Configure(m.Log.Verbosity, m.LogPath())

	args := flag.Args()
	switch args[0] {
	case "asm":
		err = handleAsmCommand(args[1:], m)
	case "disasm":
		err = handleDisasmCommand(args[1:], m)
	case "list":
		err = handleListCommand(m)
	case "delete":
		err = handleDeleteCommand(args[1:], m)
	case "run":
		err = handleRunCommand(args[1:], m)
	case "stats":
		err = handleStatsCommand(m)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadManifest finds brix.toml from dir upward, falling back to defaults
// rooted at dir.
func loadManifest(dir string) (*manifest.Manifest, error) {
	m, err := manifest.FindAndLoad(dir)
	if err != nil {
		return nil, err
	}
	if m != nil {
		return m, nil
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	return manifest.Default(abs), nil
}

// fieldList collects repeated -field name:type flags.
type fieldList []image.Field

func (l *fieldList) String() string {
	parts := make([]string, len(*l))
	for i, f := range *l {
		parts[i] = f.Name + ":" + f.Type
	}
	return strings.Join(parts, ",")
}

func (l *fieldList) Set(v string) error {
	name, typ, ok := strings.Cut(v, ":")
	if !ok || name == "" {
		return fmt.Errorf("want name:type, got %q", v)
	}
	*l = append(*l, image.Field{Name: name, Type: typ})
	return nil
}

// handleAsmCommand processes the `brix asm` subcommand.
func handleAsmCommand(args []string, m *manifest.Manifest) error {
	fs := flag.NewFlagSet("asm", flag.ExitOnError)
	output := fs.String("o", "", "Output image path (default: source name with .brx)")
	save := fs.Bool("save", false, "Save the image to the program store instead of a file")
	name := fs.String("name", "", "Program name (default: source file name)")
	version := fs.Uint("version", 1, "Program version")
	interval := fs.Duration("interval", 0, "Run interval; zero runs once")
	var decls fieldList
	fs.Var(&decls, "field", "Field the program uses, as name:type (repeatable)")
	fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("usage: brix asm [flags] file.pasm")
	}
	img, err := assembleFile(fs.Arg(0), *name, uint32(*version), *interval, decls)
	if err != nil {
		return err
	}

	if *save {
		h, err := newHost(m)
		if err != nil {
			return err
		}
		defer h.close()
		s, err := h.openStore()
		if err != nil {
			return err
		}
		if err := s.Save(img); err != nil {
			return err
		}
		fmt.Printf("Saved %s v%d (%s) to %s\n", img.Name, img.Version, humanize.Bytes(uint64(len(img.Code))), s.Path())
		return nil
	}

	data, err := image.Marshal(img)
	if err != nil {
		return err
	}
	out := *output
	if out == "" {
		out = strings.TrimSuffix(fs.Arg(0), filepath.Ext(fs.Arg(0))) + ".brx"
	}
	if err := os.WriteFile(out, data, 0644); err != nil {
		return err
	}
	fmt.Printf("Wrote %s (%s code, %s image)\n", out,
		humanize.Bytes(uint64(len(img.Code))), humanize.Bytes(uint64(len(data))))
	return nil
}

func assembleFile(path, name string, version uint32, interval time.Duration, decls []image.Field) (*image.Program, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	buf, err := pcode.Assemble(string(src))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	img := &image.Program{
		Name:     name,
		Version:  version,
		Code:     buf.Bytes(),
		Fields:   decls,
		Interval: uint32(interval / time.Millisecond),
	}
	img.Seal()
	if err := img.Validate(); err != nil {
		return nil, err
	}
	return img, nil
}

// handleDisasmCommand processes the `brix disasm` subcommand.
func handleDisasmCommand(args []string, m *manifest.Manifest) error {
	fs := flag.NewFlagSet("disasm", flag.ExitOnError)
	stored := fs.Bool("stored", false, "Read the named program from the store")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: brix disasm [-stored] <image|name>")
	}

	var img *image.Program
	if *stored {
		h, err := newHost(m)
		if err != nil {
			return err
		}
		defer h.close()
		s, err := h.openStore()
		if err != nil {
			return err
		}
		if img, err = s.Load(fs.Arg(0)); err != nil {
			return err
		}
	} else {
		data, err := os.ReadFile(fs.Arg(0))
		if err != nil {
			return err
		}
		if img, err = image.Unmarshal(data); err != nil {
			return err
		}
	}

	fmt.Printf("; version %d, hash %x\n", img.Version, img.Hash[:8])
	for _, f := range img.Fields {
		fmt.Printf("; field %s %s\n", f.Name, f.Type)
	}
	if img.Interval > 0 {
		fmt.Printf("; every %s\n", time.Duration(img.Interval)*time.Millisecond)
	}
	fmt.Print(pcode.DisassembleWithName(img.Code, img.Name))
	return nil
}

// handleListCommand processes the `brix list` subcommand.
func handleListCommand(m *manifest.Manifest) error {
	h, err := newHost(m)
	if err != nil {
		return err
	}
	defer h.close()
	s, err := h.openStore()
	if err != nil {
		return err
	}
	programs, err := s.List()
	if err != nil {
		return err
	}
	if len(programs) == 0 {
		fmt.Println("No stored programs")
		return nil
	}
	for _, p := range programs {
		fmt.Printf("%-20s v%-4d %8s  %x\n", p.Name, p.Version, humanize.Bytes(uint64(p.Size)), p.Hash[:8])
	}
	return nil
}

// handleDeleteCommand processes the `brix delete` subcommand.
func handleDeleteCommand(args []string, m *manifest.Manifest) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: brix delete <name>")
	}
	h, err := newHost(m)
	if err != nil {
		return err
	}
	defer h.close()
	s, err := h.openStore()
	if err != nil {
		return err
	}
	return s.Delete(args[0])
}

// handleRunCommand processes the `brix run` subcommand.
func handleRunCommand(args []string, m *manifest.Manifest) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	limit := fs.Duration("for", 0, "Stop after this long (default: until interrupted)")
	fs.Parse(args)

	h, err := newHost(m)
	if err != nil {
		return err
	}
	defer h.close()
	if err := h.load(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if *limit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *limit)
		defer cancel()
	}

	start := time.Now()
	if err := h.run(ctx); err != nil {
		return err
	}
	printStats(h, time.Since(start))
	return nil
}

// handleStatsCommand processes the `brix stats` subcommand.
func handleStatsCommand(m *manifest.Manifest) error {
	h, err := newHost(m)
	if err != nil {
		return err
	}
	defer h.close()
	if err := h.load(); err != nil {
		return err
	}
	printStats(h, 0)
	return nil
}

func printStats(h *host, elapsed time.Duration) {
	st := h.sched.Stats()
	ticks, expired := h.timers.Ticks()

	fmt.Printf("Repository: %s used of %s, %d programs\n",
		humanize.Bytes(uint64(h.repo.Used())), humanize.Bytes(uint64(h.repo.Size())), h.repo.Len())
	fmt.Printf("Tasks:      %d of %d slots, %d scheduled, %d stopped\n",
		st.Capacity-st.Free, st.Capacity, st.Scheduled, st.Stopped)
	fmt.Printf("Runs:       %s (%s failed)\n", humanize.Comma(int64(st.Runs)), humanize.Comma(int64(h.failed.Load())))
	fmt.Printf("Timers:     %d armed, %s ticks, %s expirations\n",
		h.timers.Len(), humanize.Comma(int64(ticks)), humanize.Comma(int64(expired)))
	if elapsed > 0 {
		fmt.Printf("Elapsed:    %s\n", elapsed.Round(time.Millisecond))
	}
	for _, f := range h.fields.Fields() {
		w, _ := h.fields.Word(f.Name.String())
		fmt.Printf("  %-16s %-5s %s\n", f.Name, f.Type, formatWord(f.Type, w))
	}
}

func formatWord(t pcode.DataType, w uint32) string {
	switch t {
	case pcode.TypeFloat:
		return fmt.Sprint(math.Float32frombits(w))
	case pcode.TypeBool:
		return fmt.Sprint(w != 0)
	}
	return fmt.Sprint(int32(w))
}
