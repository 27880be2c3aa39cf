package proto

import "github.com/orchid-lang/corex/internal/codec"

const maxAtomData = 16 << 20 // 16MiB guard against a corrupt length prefix

// Atom is the wire form of an opaque extension-provided value once the
// host has attached ownership. drop == nil means "trivial": freely
// duplicable, never notified on release. drop != nil means "tracked":
// the extension is notified exactly once when the last reference drops.
type Atom struct {
	Owner SysId
	Drop  *AtomId
	Data  []byte
}

// LocalAtom is the extension-local form of an atom before the host
// attaches an owner — what NewAtom handlers return across the wire.
type LocalAtom struct {
	Drop *AtomId
	Data []byte
}

func (a Atom) Tracked() bool { return a.Drop != nil }

func WriteAtom(w *codec.Writer, a Atom) error {
	if err := WriteSysId(w, a.Owner); err != nil {
		return err
	}
	if err := codec.WriteOption(w, a.Drop, WriteAtomId); err != nil {
		return err
	}
	return w.WriteBytes(a.Data)
}

func ReadAtom(r *codec.Reader) (Atom, error) {
	owner, err := ReadSysId(r)
	if err != nil {
		return Atom{}, err
	}
	drop, err := codec.ReadOption(r, ReadAtomId)
	if err != nil {
		return Atom{}, err
	}
	data, err := r.ReadBytes(maxAtomData)
	if err != nil {
		return Atom{}, err
	}
	return Atom{Owner: owner, Drop: drop, Data: data}, nil
}

func WriteLocalAtom(w *codec.Writer, a LocalAtom) error {
	if err := codec.WriteOption(w, a.Drop, WriteAtomId); err != nil {
		return err
	}
	return w.WriteBytes(a.Data)
}

func ReadLocalAtom(r *codec.Reader) (LocalAtom, error) {
	drop, err := codec.ReadOption(r, ReadAtomId)
	if err != nil {
		return LocalAtom{}, err
	}
	data, err := r.ReadBytes(maxAtomData)
	if err != nil {
		return LocalAtom{}, err
	}
	return LocalAtom{Drop: drop, Data: data}, nil
}

// Attach turns a LocalAtom into an Atom once the host knows which system
// owns it.
func (a LocalAtom) Attach(owner SysId) Atom {
	return Atom{Owner: owner, Drop: a.Drop, Data: a.Data}
}

// AtomWireKind is the u64 atom-kind index (system-local) prefixing an
// atom's kind-specific bytes on the wire, per §4.6.
type AtomWireKind uint64

func WriteAtomWireKind(w *codec.Writer, k AtomWireKind) error { return w.WriteU64(uint64(k)) }
func ReadAtomWireKind(r *codec.Reader) (AtomWireKind, error) {
	v, err := r.ReadU64()
	return AtomWireKind(v), err
}
