package census

import (
	"fmt"
	"strings"

	"github.com/hugo-lorenzo-mato/killswitch/internal/core"
)

var primitives = map[byte]string{
	'Z': "boolean",
	'B': "byte",
	'C': "char",
	'D': "double",
	'F': "float",
	'I': "int",
	'J': "long",
	'S': "short",
}

// FormatSignature turns a JNI type signature into its source form:
// "[[Z" is "boolean[][]" and "Lorg/x/Y;" is "org.x.Y". The signature must
// describe exactly one type.
func FormatSignature(sig string) (string, error) {
	dims := 0
	for dims < len(sig) && sig[dims] == '[' {
		dims++
	}
	if dims == len(sig) {
		return "", invalidSignature(sig)
	}

	var base string
	switch c := sig[dims]; c {
	case 'L':
		end := strings.IndexByte(sig[dims:], ';')
		if end < 2 || dims+end != len(sig)-1 {
			return "", invalidSignature(sig)
		}
		base = strings.ReplaceAll(sig[dims+1:dims+end], "/", ".")
	default:
		name, ok := primitives[c]
		if !ok || dims+1 != len(sig) {
			return "", invalidSignature(sig)
		}
		base = name
	}
	return base + strings.Repeat("[]", dims), nil
}

func invalidSignature(sig string) error {
	return core.ErrParse(core.CodeInvalidSignature, fmt.Sprintf("invalid class name: %q", sig))
}
