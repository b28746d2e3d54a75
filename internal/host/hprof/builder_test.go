package hprof

import (
	"bytes"
	"encoding/binary"
)

// enc writes big-endian HPROF primitives.
type enc struct {
	bytes.Buffer
	idSize int
}

func (e *enc) u1(v uint8)  { e.WriteByte(v) }
func (e *enc) u2(v uint16) { _ = binary.Write(e, binary.BigEndian, v) }
func (e *enc) u4(v uint32) { _ = binary.Write(e, binary.BigEndian, v) }
func (e *enc) u8(v uint64) { _ = binary.Write(e, binary.BigEndian, v) }

func (e *enc) id(v uint64) {
	if e.idSize == 4 {
		e.u4(uint32(v))
		return
	}
	e.u8(v)
}

// dumpBuilder assembles a synthetic heap dump. Heap sub-records are
// collected and emitted as one HEAP DUMP SEGMENT by bytes.
type dumpBuilder struct {
	out  enc
	heap enc
}

func newDumpBuilder(idSize int) *dumpBuilder {
	b := &dumpBuilder{out: enc{idSize: idSize}, heap: enc{idSize: idSize}}
	b.out.WriteString(magic102)
	b.out.u1(0)
	b.out.u4(uint32(idSize))
	b.out.u8(1700000000000)
	return b
}

func (b *dumpBuilder) record(tag uint8, body []byte) {
	b.out.u1(tag)
	b.out.u4(0)
	b.out.u4(uint32(len(body)))
	b.out.Write(body)
}

func (b *dumpBuilder) body() *enc {
	return &enc{idSize: b.out.idSize}
}

func (b *dumpBuilder) utf8(id uint64, s string) *dumpBuilder {
	e := b.body()
	e.id(id)
	e.WriteString(s)
	b.record(tagUTF8, e.Bytes())
	return b
}

func (b *dumpBuilder) loadClass(id, nameID uint64) *dumpBuilder {
	e := b.body()
	e.u4(1)
	e.id(id)
	e.u4(0)
	e.id(nameID)
	b.record(tagLoadClass, e.Bytes())
	return b
}

// class is shorthand for a UTF8 name record followed by LOAD CLASS.
func (b *dumpBuilder) class(id uint64, name string) *dumpBuilder {
	return b.utf8(id+0x10000, name).loadClass(id, id+0x10000)
}

// stackTrace adds a record the reader skips.
func (b *dumpBuilder) stackTrace() *dumpBuilder {
	e := b.body()
	e.u4(1)
	e.u4(1)
	e.u4(0)
	b.record(0x05, e.Bytes())
	return b
}

// classDump writes a CLASS DUMP with one constant pool entry, one int
// static, the given object statics and instance fields.
func (b *dumpBuilder) classDump(id, super uint64, statics []uint64, fields ...basicType) *dumpBuilder {
	h := &b.heap
	h.u1(subClassDump)
	h.id(id)
	h.u4(0)
	h.id(super)
	for i := 0; i < 5; i++ {
		h.id(0) // loader, signers, domain, reserved, reserved
	}
	h.u4(0)

	h.u2(1)
	h.u2(1)
	h.u1(uint8(typeInt))
	h.u4(42)

	h.u2(uint16(1 + len(statics)))
	h.id(0)
	h.u1(uint8(typeInt))
	h.u4(7)
	for _, s := range statics {
		h.id(0)
		h.u1(uint8(typeObject))
		h.id(s)
	}

	h.u2(uint16(len(fields)))
	for _, f := range fields {
		h.id(0)
		h.u1(uint8(f))
	}
	return b
}

func (b *dumpBuilder) instance(id, class uint64, fill func(e *enc)) *dumpBuilder {
	data := b.body()
	if fill != nil {
		fill(data)
	}
	h := &b.heap
	h.u1(subInstanceDump)
	h.id(id)
	h.u4(0)
	h.id(class)
	h.u4(uint32(data.Len()))
	h.Write(data.Bytes())
	return b
}

func (b *dumpBuilder) objArray(id, class uint64, elems ...uint64) *dumpBuilder {
	h := &b.heap
	h.u1(subObjArrayDump)
	h.id(id)
	h.u4(0)
	h.u4(uint32(len(elems)))
	h.id(class)
	for _, el := range elems {
		h.id(el)
	}
	return b
}

func (b *dumpBuilder) primArray(id uint64, t basicType, n int) *dumpBuilder {
	size, _ := t.size(b.heap.idSize)
	h := &b.heap
	h.u1(subPrimArrayDump)
	h.id(id)
	h.u4(0)
	h.u4(uint32(n))
	h.u1(uint8(t))
	h.Write(make([]byte, n*size))
	return b
}

func (b *dumpBuilder) root(sub uint8, id uint64) *dumpBuilder {
	h := &b.heap
	h.u1(sub)
	h.id(id)
	switch sub {
	case subRootJNIGlobal:
		h.id(0)
	case subRootJNILocal, subRootJavaFrame, subRootThreadObject:
		h.u4(0)
		h.u4(0)
	case subRootNativeStack, subRootThreadBlock:
		h.u4(0)
	}
	return b
}

func (b *dumpBuilder) bytes() []byte {
	if b.heap.Len() > 0 {
		b.record(tagHeapDumpSegment, b.heap.Bytes())
		b.heap.Reset()
		b.record(tagHeapDumpEnd, nil)
	}
	return b.out.Bytes()
}
