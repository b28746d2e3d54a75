package hprof

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/killswitch/internal/core"
)

// reader decodes big-endian HPROF primitives. The first error sticks and
// turns every later read into a no-op.
type reader struct {
	r      *bufio.Reader
	idSize int
	off    int64
	err    error
	buf    [8]byte
}

func (r *reader) read(n int) []byte {
	if r.err != nil {
		return r.buf[:n]
	}
	if _, err := io.ReadFull(r.r, r.buf[:n]); err != nil {
		r.fail(err)
		return r.buf[:n]
	}
	r.off += int64(n)
	return r.buf[:n]
}

func (r *reader) fail(err error) {
	if r.err != nil {
		return
	}
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	r.err = err
}

func (r *reader) u1() uint8  { return r.read(1)[0] }
func (r *reader) u2() uint16 { return binary.BigEndian.Uint16(r.read(2)) }
func (r *reader) u4() uint32 { return binary.BigEndian.Uint32(r.read(4)) }
func (r *reader) u8() uint64 { return binary.BigEndian.Uint64(r.read(8)) }
func (r *reader) ids(n uint32) []uint64 {
	out := make([]uint64, 0, n)
	for i := uint32(0); i < n && r.err == nil; i++ {
		out = append(out, r.id())
	}
	return out
}

func (r *reader) id() uint64 {
	if r.idSize == 4 {
		return uint64(r.u4())
	}
	return r.u8()
}

func (r *reader) bytes(n int64) []byte {
	if r.err != nil || n <= 0 {
		return nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r.r, b); err != nil {
		r.fail(err)
		return nil
	}
	r.off += n
	return b
}

func (r *reader) skip(n int64) {
	if r.err != nil || n <= 0 {
		return
	}
	skipped, err := r.r.Discard(int(n))
	r.off += int64(skipped)
	if err != nil {
		r.fail(err)
	}
}

// Open reads the HPROF file at path.
func Open(path string) (*Dump, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, core.ErrIO("opening heap dump", err)
	}
	defer f.Close()

	d, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

type loadedClass struct {
	id     uint64
	nameID uint64
}

type parser struct {
	r       *reader
	names   map[uint64]string
	loads   []loadedClass
	dumps   map[uint64]*classDump
	objects map[uint64]*node
	pending []pendingInstance
	prims   map[basicType][]*node
	roots   []uint64
}

type classDump struct {
	super     uint64
	outgoing  []uint64 // super, loader, signers, domain, object statics
	fields    []basicType
	staticLen int64
}

// pendingInstance holds instance data until every class dump is known.
type pendingInstance struct {
	node  *node
	class uint64
	data  []byte
}

// Read parses an HPROF stream. Only class metadata, roots and the object
// graph are kept; stack traces, threads and primitive values are skipped.
func Read(src io.Reader) (*Dump, error) {
	r := &reader{r: bufio.NewReaderSize(src, 1<<20)}

	magic, err := r.r.ReadString(0)
	if err != nil {
		return nil, core.ErrParse(core.CodeInvalidDump, "missing HPROF header").WithCause(err)
	}
	r.off = int64(len(magic))
	magic = strings.TrimSuffix(magic, "\x00")
	if magic != magic102 && magic != magic101 {
		return nil, core.ErrParse(core.CodeInvalidDump, fmt.Sprintf("unsupported heap dump format %q", magic))
	}

	r.idSize = int(r.u4())
	millis := r.u8()
	if r.err != nil {
		return nil, core.ErrParse(core.CodeInvalidDump, "truncated HPROF header").WithCause(r.err)
	}
	if r.idSize != 4 && r.idSize != 8 {
		return nil, core.ErrParse(core.CodeInvalidDump, fmt.Sprintf("unsupported identifier size %d", r.idSize))
	}

	p := &parser{
		r:       r,
		names:   make(map[uint64]string),
		dumps:   make(map[uint64]*classDump),
		objects: make(map[uint64]*node),
		prims:   make(map[basicType][]*node),
	}
	if err := p.records(); err != nil {
		return nil, err
	}

	d, err := p.finish()
	if err != nil {
		return nil, err
	}
	d.idSize = r.idSize
	d.timestamp = time.UnixMilli(int64(millis))
	return d, nil
}

func (p *parser) records() error {
	r := p.r
	for {
		tag, err := r.r.ReadByte()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return core.ErrIO("reading heap dump", err)
		}
		start := r.off
		r.off++

		r.u4() // microseconds since header timestamp
		length := int64(r.u4())

		switch tag {
		case tagUTF8:
			id := r.id()
			p.names[id] = string(r.bytes(length - int64(r.idSize)))
		case tagLoadClass:
			r.u4() // class serial
			id := r.id()
			r.u4() // stack trace serial
			p.loads = append(p.loads, loadedClass{id: id, nameID: r.id()})
		case tagHeapDump, tagHeapDumpSegment:
			p.heap(r.off + length)
		default:
			r.skip(length)
		}

		if r.err != nil {
			return core.ErrParse(core.CodeInvalidDump,
				fmt.Sprintf("record 0x%02x at offset %d", tag, start)).WithCause(r.err)
		}
	}
}

func (p *parser) heap(end int64) {
	r := p.r
	for r.off < end && r.err == nil {
		sub := r.u1()
		switch sub {
		case subRootUnknown, subRootStickyClass, subRootMonitorUsed:
			p.roots = append(p.roots, r.id())
		case subRootJNIGlobal:
			p.roots = append(p.roots, r.id())
			r.id() // global ref id
		case subRootJNILocal, subRootJavaFrame, subRootThreadObject:
			p.roots = append(p.roots, r.id())
			r.skip(8) // thread serial, frame/stack serial
		case subRootNativeStack, subRootThreadBlock:
			p.roots = append(p.roots, r.id())
			r.skip(4) // thread serial
		case subClassDump:
			p.classDump()
		case subInstanceDump:
			id := r.id()
			r.u4() // stack trace serial
			class := r.id()
			n := int64(r.u4())
			data := r.bytes(n)
			obj := &node{size: int64(2*r.idSize) + n}
			p.objects[id] = obj
			p.pending = append(p.pending, pendingInstance{node: obj, class: class, data: data})
		case subObjArrayDump:
			id := r.id()
			r.u4() // stack trace serial
			n := r.u4()
			class := r.id()
			refs := r.ids(n)
			p.objects[id] = &node{
				classID: class,
				size:    int64(2*r.idSize) + int64(n)*int64(r.idSize),
				refs:    nonZero(append(refs, class)),
			}
		case subPrimArrayDump:
			id := r.id()
			r.u4() // stack trace serial
			n := int64(r.u4())
			t := basicType(r.u1())
			size, err := t.size(r.idSize)
			if err != nil {
				r.fail(err)
				return
			}
			r.skip(n * int64(size))
			obj := &node{size: int64(2*r.idSize) + n*int64(size)}
			p.objects[id] = obj
			p.prims[t] = append(p.prims[t], obj)
		default:
			r.fail(fmt.Errorf("unknown heap dump sub-record 0x%02x", sub))
		}
	}
}

func (p *parser) classDump() {
	r := p.r
	id := r.id()
	r.u4() // stack trace serial
	cd := &classDump{super: r.id()}
	loader, signers, domain := r.id(), r.id(), r.id()
	r.id() // reserved
	r.id() // reserved
	r.u4() // instance size
	cd.outgoing = []uint64{cd.super, loader, signers, domain}

	for i, n := 0, int(r.u2()); i < n && r.err == nil; i++ {
		r.u2() // constant pool index
		p.skipValue(basicType(r.u1()))
	}

	for i, n := 0, int(r.u2()); i < n && r.err == nil; i++ {
		r.id() // name
		t := basicType(r.u1())
		if t == typeObject {
			cd.outgoing = append(cd.outgoing, r.id())
			cd.staticLen += int64(r.idSize)
			continue
		}
		size, err := t.size(r.idSize)
		if err != nil {
			r.fail(err)
			return
		}
		r.skip(int64(size))
		cd.staticLen += int64(size)
	}

	for i, n := 0, int(r.u2()); i < n && r.err == nil; i++ {
		r.id() // name
		cd.fields = append(cd.fields, basicType(r.u1()))
	}

	p.dumps[id] = cd
	cd.outgoing = nonZero(cd.outgoing)
}

func (p *parser) skipValue(t basicType) {
	size, err := t.size(p.r.idSize)
	if err != nil {
		p.r.fail(err)
		return
	}
	p.r.skip(int64(size))
}

// finish resolves class names, decodes instance references and wires every
// node to its class.
func (p *parser) finish() (*Dump, error) {
	d := &Dump{objects: p.objects, roots: p.roots}

	byID := make(map[uint64]*class, len(p.loads))
	for _, lc := range p.loads {
		name, ok := p.names[lc.nameID]
		if !ok {
			return nil, core.ErrParse(core.CodeInvalidDump,
				fmt.Sprintf("class %#x refers to missing name %#x", lc.id, lc.nameID))
		}
		c := &class{id: lc.id, signature: jniSignature(name)}
		d.classes = append(d.classes, c)
		byID[lc.id] = c
	}

	// Primitive array classes are not always listed as loaded.
	bySig := make(map[string]*class, len(d.classes))
	for _, c := range d.classes {
		bySig[c.signature] = c
	}
	for _, t := range []basicType{typeBoolean, typeChar, typeFloat, typeDouble, typeByte, typeShort, typeInt, typeLong} {
		nodes := p.prims[t]
		if len(nodes) == 0 {
			continue
		}
		c, ok := bySig[primArrayNames[t]]
		if !ok {
			c = &class{signature: primArrayNames[t]}
			d.classes = append(d.classes, c)
		}
		for _, n := range nodes {
			n.class = c
		}
	}

	if err := p.checkHierarchy(); err != nil {
		return nil, err
	}
	for _, pi := range p.pending {
		pi.node.class = byID[pi.class]
		pi.node.refs = append(p.instanceRefs(pi.class, pi.data), pi.class)
	}

	for _, n := range p.objects {
		if n.class == nil && n.classID != 0 {
			n.class = byID[n.classID]
		}
	}

	// Class objects are instances of java.lang.Class.
	classClass := bySig["Ljava/lang/Class;"]
	for id, cd := range p.dumps {
		d.objects[id] = &node{
			class: classClass,
			size:  int64(2*p.r.idSize) + cd.staticLen,
			refs:  cd.outgoing,
		}
	}
	return d, nil
}

// checkHierarchy rejects class dumps whose superclass chain loops.
func (p *parser) checkHierarchy() error {
	done := make(map[uint64]bool, len(p.dumps))
	for start := range p.dumps {
		seen := make(map[uint64]bool)
		for id := start; id != 0 && !done[id]; {
			if seen[id] {
				return core.ErrParse(core.CodeInvalidDump,
					fmt.Sprintf("class %#x has a cyclic superclass chain", start))
			}
			seen[id] = true
			cd, ok := p.dumps[id]
			if !ok {
				break
			}
			id = cd.super
		}
		for id := range seen {
			done[id] = true
		}
	}
	return nil
}

// instanceRefs decodes the object fields of an instance. Field values are
// laid out for the class itself, then each superclass in turn.
func (p *parser) instanceRefs(classID uint64, data []byte) []uint64 {
	var refs []uint64
	off := 0
	for id := classID; id != 0; {
		cd, ok := p.dumps[id]
		if !ok {
			break
		}
		for _, t := range cd.fields {
			size, err := t.size(p.r.idSize)
			if err != nil || off+size > len(data) {
				return refs
			}
			if t == typeObject {
				var ref uint64
				if p.r.idSize == 4 {
					ref = uint64(binary.BigEndian.Uint32(data[off:]))
				} else {
					ref = binary.BigEndian.Uint64(data[off:])
				}
				if ref != 0 {
					refs = append(refs, ref)
				}
			}
			off += size
		}
		id = cd.super
	}
	return refs
}

func nonZero(ids []uint64) []uint64 {
	out := ids[:0]
	for _, id := range ids {
		if id != 0 {
			out = append(out, id)
		}
	}
	return out
}
