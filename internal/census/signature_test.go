package census

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/killswitch/internal/core"
)

func TestFormatSignature(t *testing.T) {
	tests := []struct {
		sig  string
		want string
	}{
		{"Z", "boolean"},
		{"B", "byte"},
		{"C", "char"},
		{"D", "double"},
		{"F", "float"},
		{"I", "int"},
		{"J", "long"},
		{"S", "short"},
		{"[[Z", "boolean[][]"},
		{"Lorg/x/Y;", "org.x.Y"},
		{"Lorg/cloudfoundry/MyClass;", "org.cloudfoundry.MyClass"},
		{"[Ljava/lang/String;", "java.lang.String[]"},
		{"Lcom/acme/Outer$Inner_1;", "com.acme.Outer$Inner_1"},
	}

	for _, tt := range tests {
		t.Run(tt.sig, func(t *testing.T) {
			got, err := FormatSignature(tt.sig)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatSignature_Invalid(t *testing.T) {
	for _, sig := range []string{"Q", "", "[[", "Ljava/lang/String", "L;", "V", "ZZ", "Lfoo;bar", "[I;", "Lfoo;;"} {
		t.Run(sig, func(t *testing.T) {
			_, err := FormatSignature(sig)
			require.Error(t, err)
			assert.True(t, core.IsCategory(err, core.ErrCatParse))
			assert.Contains(t, err.Error(), "invalid class name")
		})
	}
}
