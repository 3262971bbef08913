package main

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/danmuck/simcircuit/internal/protocol/codec"
	"github.com/danmuck/simcircuit/internal/protocol/frame"
	"github.com/danmuck/simcircuit/internal/protocol/template"
)

type options struct {
	templates string
	mode      string
	pkg       string
	output    string
	datagram  string
}

func main() {
	var opts options
	flag.StringVar(&opts.templates, "templates", "", "message template file (defaults to the built-in set)")
	flag.StringVar(&opts.mode, "mode", "list", "mode: list|gen|decode")
	flag.StringVar(&opts.pkg, "package", "msgids", "package name for -mode gen")
	flag.StringVar(&opts.output, "output", "", "output path for -mode gen (defaults to stdout)")
	flag.StringVar(&opts.datagram, "hex", "", "hex encoded datagram for -mode decode")
	flag.Parse()

	if err := run(opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "msgtool: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options, stdout io.Writer) error {
	reg, err := loadRegistry(opts.templates)
	if err != nil {
		return err
	}
	switch opts.mode {
	case "list":
		return listMessages(stdout, reg)
	case "gen":
		out := stdout
		if opts.output != "" {
			f, err := os.Create(opts.output)
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}
		return writeGoIDs(out, reg, opts.pkg)
	case "decode":
		return decodeDatagram(stdout, reg, opts.datagram)
	default:
		return fmt.Errorf("unknown mode: %s", opts.mode)
	}
}

func loadRegistry(path string) (*template.Registry, error) {
	if path == "" {
		return template.Builtin()
	}
	return template.Load(path)
}

func listMessages(w io.Writer, reg *template.Registry) error {
	for _, m := range reg.Messages() {
		var attrs []string
		if m.Trust == template.Trusted {
			attrs = append(attrs, "trusted")
		}
		if m.Encoding == template.Zerocoded {
			attrs = append(attrs, "zerocoded")
		}
		if m.Deprecated {
			attrs = append(attrs, "deprecated")
		}
		if _, err := fmt.Fprintf(w, "0x%08X %-6s %-28s blocks=%d %s\n", m.ID, m.Frequency, m.Name, len(m.Blocks), strings.Join(attrs, ",")); err != nil {
			return err
		}
	}
	return nil
}

// writeGoIDs emits one constant per message holding its full wire id.
func writeGoIDs(w io.Writer, reg *template.Registry, pkg string) error {
	if pkg == "" {
		return errors.New("package name required")
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "// Code generated by msgtool. DO NOT EDIT.\n\npackage %s\n\nconst (\n", pkg)
	for _, m := range reg.Messages() {
		fmt.Fprintf(&sb, "\t%s uint32 = 0x%08X\n", goIdent(m.Name), m.ID)
	}
	sb.WriteString(")\n")
	_, err := io.WriteString(w, sb.String())
	return err
}

// goIdent prefixes names that do not start with a letter.
func goIdent(name string) string {
	if name == "" {
		return "Msg"
	}
	c := name[0]
	if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') {
		return "Msg" + strings.ToUpper(name[:1]) + name[1:]
	}
	return "Msg_" + name
}

func decodeDatagram(w io.Writer, reg *template.Registry, raw string) error {
	raw = strings.Join(strings.Fields(raw), "")
	if raw == "" {
		return errors.New("-hex required for decode")
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return fmt.Errorf("parse hex: %w", err)
	}
	pkt, err := frame.Decode(b, frame.DefaultLimits())
	if err != nil {
		return err
	}
	if len(pkt.Acks) > 0 {
		fmt.Fprintf(w, "acks=%v\n", pkt.Acks)
	}
	msg, err := codec.FromPacket(reg, pkt)
	if err != nil {
		return err
	}
	dump, err := codec.Dump(msg)
	if _, werr := io.WriteString(w, dump.String()); werr != nil {
		return werr
	}
	return err
}
