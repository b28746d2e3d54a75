// Package hprof reads HPROF heap snapshots, as written by jcmd GC.heap_dump
// or -XX:+HeapDumpOnOutOfMemoryError, and exposes them as a core.Runtime.
package hprof

import "fmt"

const (
	magic102 = "JAVA PROFILE 1.0.2"
	magic101 = "JAVA PROFILE 1.0.1"
)

// Top-level record tags.
const (
	tagUTF8            = 0x01
	tagLoadClass       = 0x02
	tagHeapDump        = 0x0C
	tagHeapDumpSegment = 0x1C
	tagHeapDumpEnd     = 0x2C
)

// Heap dump sub-record tags.
const (
	subRootUnknown      = 0xFF
	subRootJNIGlobal    = 0x01
	subRootJNILocal     = 0x02
	subRootJavaFrame    = 0x03
	subRootNativeStack  = 0x04
	subRootStickyClass  = 0x05
	subRootThreadBlock  = 0x06
	subRootMonitorUsed  = 0x07
	subRootThreadObject = 0x08
	subClassDump        = 0x20
	subInstanceDump     = 0x21
	subObjArrayDump     = 0x22
	subPrimArrayDump    = 0x23
)

type basicType uint8

const (
	typeObject  basicType = 2
	typeBoolean basicType = 4
	typeChar    basicType = 5
	typeFloat   basicType = 6
	typeDouble  basicType = 7
	typeByte    basicType = 8
	typeShort   basicType = 9
	typeInt     basicType = 10
	typeLong    basicType = 11
)

var primArrayNames = map[basicType]string{
	typeBoolean: "[Z",
	typeChar:    "[C",
	typeFloat:   "[F",
	typeDouble:  "[D",
	typeByte:    "[B",
	typeShort:   "[S",
	typeInt:     "[I",
	typeLong:    "[J",
}

func (t basicType) size(idSize int) (int, error) {
	switch t {
	case typeObject:
		return idSize, nil
	case typeBoolean, typeByte:
		return 1, nil
	case typeChar, typeShort:
		return 2, nil
	case typeFloat, typeInt:
		return 4, nil
	case typeDouble, typeLong:
		return 8, nil
	}
	return 0, fmt.Errorf("unknown basic type %d", t)
}

// jniSignature turns a LOAD CLASS name into a JNI signature. Array names
// already are signatures.
func jniSignature(name string) string {
	if len(name) > 0 && name[0] == '[' {
		return name
	}
	return "L" + name + ";"
}
