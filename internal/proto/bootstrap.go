package proto

import (
	"fmt"
	"math"

	"github.com/orchid-lang/corex/internal/codec"
)

// Exact intro bytes, normative per §6.
const (
	HostIntro = "Orchid host, binary API v0\n"
	ExtIntro  = "Orchid extension, binary API v0\n"
)

// LogStrategyTag selects where an extension should send its log output.
type LogStrategyTag uint8

const (
	LogStdErr LogStrategyTag = iota
	LogFile
)

// LogStrategy is `{0: StdErr, 1: File(string)}`.
type LogStrategy struct {
	Tag  LogStrategyTag
	Path string // meaningful iff Tag == LogFile
}

func WriteLogStrategy(w *codec.Writer, s LogStrategy) error {
	if err := w.WriteTag(uint8(s.Tag)); err != nil {
		return err
	}
	switch s.Tag {
	case LogStdErr:
		return nil
	case LogFile:
		return w.WriteString(s.Path)
	default:
		return &codec.ErrUnknownTag{Type: "LogStrategy", Tag: uint8(s.Tag)}
	}
}

func ReadLogStrategy(r *codec.Reader) (LogStrategy, error) {
	tag, err := r.ReadTag()
	if err != nil {
		return LogStrategy{}, err
	}
	switch LogStrategyTag(tag) {
	case LogStdErr:
		return LogStrategy{Tag: LogStdErr}, nil
	case LogFile:
		p, err := r.ReadString(1 << 16)
		if err != nil {
			return LogStrategy{}, err
		}
		return LogStrategy{Tag: LogFile, Path: p}, nil
	default:
		return LogStrategy{}, &codec.ErrUnknownTag{Type: "LogStrategy", Tag: tag}
	}
}

// SystemDecl is `{id, name, priority, depends}` as declared by an
// extension in its header. priority must not be NaN.
type SystemDecl struct {
	ID       SysDeclId
	Name     string
	Priority float64
	Depends  []string
}

func (d SystemDecl) Validate() error {
	if math.IsNaN(d.Priority) {
		return fmt.Errorf("proto: SystemDecl %q has NaN priority", d.Name)
	}
	return nil
}

func WriteSystemDecl(w *codec.Writer, d SystemDecl) error {
	if err := WriteSysDeclId(w, d.ID); err != nil {
		return err
	}
	if err := w.WriteString(d.Name); err != nil {
		return err
	}
	if err := w.WriteF64(d.Priority); err != nil {
		return err
	}
	return codec.WriteSeq(w, d.Depends, (*codec.Writer).WriteString)
}

func ReadSystemDecl(r *codec.Reader) (SystemDecl, error) {
	id, err := ReadSysDeclId(r)
	if err != nil {
		return SystemDecl{}, err
	}
	name, err := r.ReadString(1 << 12)
	if err != nil {
		return SystemDecl{}, err
	}
	prio, err := r.ReadF64()
	if err != nil {
		return SystemDecl{}, err
	}
	deps, err := codec.ReadSeq(r, 1<<12, func(r *codec.Reader) (string, error) { return r.ReadString(1 << 12) })
	if err != nil {
		return SystemDecl{}, err
	}
	d := SystemDecl{ID: id, Name: name, Priority: prio, Depends: deps}
	if err := d.Validate(); err != nil {
		return SystemDecl{}, err
	}
	return d, nil
}

// ExtensionHeader is what an extension writes after the intro string:
// its name and the systems it declares.
type ExtensionHeader struct {
	Name    string
	Systems []SystemDecl
}

func WriteExtensionHeader(w *codec.Writer, h ExtensionHeader) error {
	if err := w.WriteString(h.Name); err != nil {
		return err
	}
	return codec.WriteSeq(w, h.Systems, WriteSystemDecl)
}

func ReadExtensionHeader(r *codec.Reader) (ExtensionHeader, error) {
	name, err := r.ReadString(1 << 12)
	if err != nil {
		return ExtensionHeader{}, err
	}
	systems, err := codec.ReadSeq(r, 1<<16, ReadSystemDecl)
	if err != nil {
		return ExtensionHeader{}, err
	}
	return ExtensionHeader{Name: name, Systems: systems}, nil
}

// HostHeader is what the host writes after the intro string.
type HostHeader struct {
	Log LogStrategy
}

func WriteHostHeader(w *codec.Writer, h HostHeader) error {
	return WriteLogStrategy(w, h.Log)
}

func ReadHostHeader(r *codec.Reader) (HostHeader, error) {
	log, err := ReadLogStrategy(r)
	if err != nil {
		return HostHeader{}, err
	}
	return HostHeader{Log: log}, nil
}
