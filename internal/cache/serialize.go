// Package cache implements the §6 prototype disk cache: compiled
// Prototypes are serialized to a flat binary format and stored keyed by a
// content hash of their source text, so a second run of the same program
// skips lexing, parsing, compiling, and optimizing entirely.
//
// Grounded on the teacher's internal/buildutil.BytecodeFile: a magic
// number + version header followed by a flat encoding of the code array,
// widened here to round-trip every pool a Prototype carries (float/string
// constants, class templates, upvalue descriptors, nested prototypes)
// rather than just Code+Constants+Lines.
package cache

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pro-grammer-SD/axiom-sub000/internal/bytecode"
	"github.com/pro-grammer-SD/axiom-sub000/internal/value"
)

// magic identifies an axiom prototype blob, the same role the teacher's
// "SENT" MagicNumber plays for its own bytecode files.
const magic uint32 = 0x41584F4D // "AXOM"

// FormatVersion is compared against the running compiler's own version by
// golang.org/x/mod/semver before a cached blob is trusted (see cache.go);
// bumped whenever the wire layout below changes incompatibly.
const FormatVersion = "v1.0.0"

// Encode serializes p and everything it transitively owns (Nested
// prototypes, ClassTemplates) into a flat binary blob.
func Encode(p *bytecode.Prototype) ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, magic); err != nil {
		return nil, err
	}
	if err := writeString(&buf, FormatVersion); err != nil {
		return nil, err
	}
	if err := writeProto(&buf, p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses a blob written by Encode. The caller is responsible for
// checking the embedded format version against the running build before
// calling Decode (see cache.Get); Decode itself only checks the magic
// number.
func Decode(data []byte) (*bytecode.Prototype, error) {
	r := bytes.NewReader(data)
	var m uint32
	if err := binary.Read(r, binary.LittleEndian, &m); err != nil {
		return nil, err
	}
	if m != magic {
		return nil, fmt.Errorf("cache: bad magic number %x", m)
	}
	if _, err := readString(r); err != nil {
		return nil, fmt.Errorf("cache: reading format version: %w", err)
	}
	return readProto(r)
}

// PeekVersion reads only the embedded format version from data, without
// decoding the rest of the blob, so the caller can reject an incompatible
// cache entry before paying for a full decode.
func PeekVersion(data []byte) (string, error) {
	r := bytes.NewReader(data)
	var m uint32
	if err := binary.Read(r, binary.LittleEndian, &m); err != nil {
		return "", err
	}
	if m != magic {
		return "", fmt.Errorf("cache: bad magic number %x", m)
	}
	return readString(r)
}

func writeProto(w io.Writer, p *bytecode.Prototype) error {
	if err := writeString(w, p.Name); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(len(p.Code))); err != nil {
		return err
	}
	for _, instr := range p.Code {
		if err := binary.Write(w, binary.LittleEndian, uint32(instr)); err != nil {
			return err
		}
	}
	if err := writeInt32Slice(w, p.Lines); err != nil {
		return err
	}
	if err := writeFloat64Slice(w, p.FloatConstants); err != nil {
		return err
	}
	if err := writeStringSlice(w, p.StringConstants); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(len(p.Constants))); err != nil {
		return err
	}
	for _, c := range p.Constants {
		if err := binary.Write(w, binary.LittleEndian, uint64(c)); err != nil {
			return err
		}
	}
	if err := writeInt32(w, int32(p.NumRegisters)); err != nil {
		return err
	}
	if err := writeInt32(w, int32(p.NumParams)); err != nil {
		return err
	}
	if err := writeBool(w, p.IsVariadic); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(len(p.Upvalues))); err != nil {
		return err
	}
	for _, uv := range p.Upvalues {
		if err := writeString(w, uv.Name); err != nil {
			return err
		}
		if err := writeBool(w, uv.InStack); err != nil {
			return err
		}
		if err := writeByte(w, uv.Index); err != nil {
			return err
		}
	}
	if err := writeStringSlice(w, p.Loads); err != nil {
		return err
	}
	if err := writeStringSlice(w, p.Libs); err != nil {
		return err
	}
	if err := writeStringSlice(w, p.GlobalNames); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(len(p.ClassTemplates))); err != nil {
		return err
	}
	for _, ct := range p.ClassTemplates {
		if err := writeClassTemplate(w, ct); err != nil {
			return err
		}
	}
	if err := writeUint32(w, uint32(len(p.Nested))); err != nil {
		return err
	}
	for _, nested := range p.Nested {
		if err := writeProto(w, nested); err != nil {
			return err
		}
	}
	return nil
}

func readProto(r io.Reader) (*bytecode.Prototype, error) {
	p := &bytecode.Prototype{}
	var err error
	if p.Name, err = readString(r); err != nil {
		return nil, err
	}
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	p.Code = make([]bytecode.Instruction, n)
	for i := range p.Code {
		var w uint32
		if err := binary.Read(r, binary.LittleEndian, &w); err != nil {
			return nil, err
		}
		p.Code[i] = bytecode.Instruction(w)
	}
	if p.Lines, err = readInt32Slice(r); err != nil {
		return nil, err
	}
	if p.FloatConstants, err = readFloat64Slice(r); err != nil {
		return nil, err
	}
	if p.StringConstants, err = readStringSlice(r); err != nil {
		return nil, err
	}
	cn, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	p.Constants = make([]value.Value, cn)
	for i := range p.Constants {
		var bits uint64
		if err := binary.Read(r, binary.LittleEndian, &bits); err != nil {
			return nil, err
		}
		p.Constants[i] = value.Value(bits)
	}
	nr, err := readInt32(r)
	if err != nil {
		return nil, err
	}
	p.NumRegisters = int(nr)
	np, err := readInt32(r)
	if err != nil {
		return nil, err
	}
	p.NumParams = int(np)
	if p.IsVariadic, err = readBool(r); err != nil {
		return nil, err
	}
	uvn, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	p.Upvalues = make([]bytecode.UpvalueDesc, uvn)
	for i := range p.Upvalues {
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		inStack, err := readBool(r)
		if err != nil {
			return nil, err
		}
		idx, err := readByte(r)
		if err != nil {
			return nil, err
		}
		p.Upvalues[i] = bytecode.UpvalueDesc{Name: name, InStack: inStack, Index: idx}
	}
	if p.Loads, err = readStringSlice(r); err != nil {
		return nil, err
	}
	if p.Libs, err = readStringSlice(r); err != nil {
		return nil, err
	}
	if p.GlobalNames, err = readStringSlice(r); err != nil {
		return nil, err
	}
	ctn, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	p.ClassTemplates = make([]*bytecode.ClassTemplate, ctn)
	for i := range p.ClassTemplates {
		ct, err := readClassTemplate(r)
		if err != nil {
			return nil, err
		}
		p.ClassTemplates[i] = ct
	}
	nn, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	p.Nested = make([]*bytecode.Prototype, nn)
	for i := range p.Nested {
		nested, err := readProto(r)
		if err != nil {
			return nil, err
		}
		p.Nested[i] = nested
	}
	return p, nil
}

func writeClassTemplate(w io.Writer, ct *bytecode.ClassTemplate) error {
	if err := writeString(w, ct.Name); err != nil {
		return err
	}
	if err := writeString(w, ct.ParentName); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(len(ct.Fields))); err != nil {
		return err
	}
	for _, f := range ct.Fields {
		if err := writeString(w, f.Name); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint64(f.Default)); err != nil {
			return err
		}
	}
	if err := writeUint32(w, uint32(len(ct.MethodNested))); err != nil {
		return err
	}
	for name, idx := range ct.MethodNested {
		if err := writeString(w, name); err != nil {
			return err
		}
		if err := writeInt32(w, int32(idx)); err != nil {
			return err
		}
	}
	return writeInt32(w, int32(ct.ConstructorIdx))
}

func readClassTemplate(r io.Reader) (*bytecode.ClassTemplate, error) {
	ct := &bytecode.ClassTemplate{MethodNested: map[string]int{}}
	var err error
	if ct.Name, err = readString(r); err != nil {
		return nil, err
	}
	if ct.ParentName, err = readString(r); err != nil {
		return nil, err
	}
	fn, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	ct.Fields = make([]bytecode.FieldTemplate, fn)
	for i := range ct.Fields {
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		var bits uint64
		if err := binary.Read(r, binary.LittleEndian, &bits); err != nil {
			return nil, err
		}
		ct.Fields[i] = bytecode.FieldTemplate{Name: name, Default: value.Value(bits)}
	}
	mn, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < mn; i++ {
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		idx, err := readInt32(r)
		if err != nil {
			return nil, err
		}
		ct.MethodNested[name] = int(idx)
	}
	ci, err := readInt32(r)
	if err != nil {
		return nil, err
	}
	ct.ConstructorIdx = int(ci)
	return ct, nil
}

// --- primitive helpers ---

func writeUint32(w io.Writer, n uint32) error { return binary.Write(w, binary.LittleEndian, n) }
func writeInt32(w io.Writer, n int32) error   { return binary.Write(w, binary.LittleEndian, n) }
func writeBool(w io.Writer, b bool) error     { return binary.Write(w, binary.LittleEndian, b) }
func writeByte(w io.Writer, b byte) error     { _, err := w.Write([]byte{b}); return err }

func writeString(w io.Writer, s string) error {
	if err := writeUint32(w, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func writeStringSlice(w io.Writer, ss []string) error {
	if err := writeUint32(w, uint32(len(ss))); err != nil {
		return err
	}
	for _, s := range ss {
		if err := writeString(w, s); err != nil {
			return err
		}
	}
	return nil
}

func writeInt32Slice(w io.Writer, ns []int32) error {
	if err := writeUint32(w, uint32(len(ns))); err != nil {
		return err
	}
	for _, n := range ns {
		if err := writeInt32(w, n); err != nil {
			return err
		}
	}
	return nil
}

func writeFloat64Slice(w io.Writer, fs []float64) error {
	if err := writeUint32(w, uint32(len(fs))); err != nil {
		return err
	}
	for _, f := range fs {
		if err := binary.Write(w, binary.LittleEndian, f); err != nil {
			return err
		}
	}
	return nil
}

func readUint32(r io.Reader) (uint32, error) {
	var n uint32
	err := binary.Read(r, binary.LittleEndian, &n)
	return n, err
}

func readInt32(r io.Reader) (int32, error) {
	var n int32
	err := binary.Read(r, binary.LittleEndian, &n)
	return n, err
}

func readBool(r io.Reader) (bool, error) {
	var b bool
	err := binary.Read(r, binary.LittleEndian, &b)
	return b, err
}

func readByte(r io.Reader) (byte, error) {
	var b [1]byte
	_, err := io.ReadFull(r, b[:])
	return b[0], err
}

func readString(r io.Reader) (string, error) {
	n, err := readUint32(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func readStringSlice(r io.Reader) ([]string, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	out := make([]string, n)
	for i := range out {
		if out[i], err = readString(r); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func readInt32Slice(r io.Reader) ([]int32, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	out := make([]int32, n)
	for i := range out {
		if out[i], err = readInt32(r); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func readFloat64Slice(r io.Reader) ([]float64, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	out := make([]float64, n)
	for i := range out {
		if err := binary.Read(r, binary.LittleEndian, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}
