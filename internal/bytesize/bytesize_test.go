package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want ByteSize
	}{
		{"0", 0},
		{"1024", 1024},
		{"64K", 64000},
		{"64KB", 64000},
		{"64Ki", 64 * KiB},
		{"1MiB", MiB},
		{"1mib", MiB},
		{" 2 GiB ", 2 * GiB},
		{"3M", 3 * MB},
		{"10b", 10},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseInvalid(t *testing.T) {
	for _, in := range []string{"", "abc", "1.5MiB", "-1", "12XB"} {
		t.Run(in, func(t *testing.T) {
			_, err := Parse(in)
			assert.Error(t, err)
		})
	}
}

func TestString(t *testing.T) {
	assert.Equal(t, "0", ByteSize(0).String())
	assert.Equal(t, "1MiB", MiB.String())
	assert.Equal(t, "64KiB", (64 * KiB).String())
	assert.Equal(t, "2GiB", (2 * GiB).String())
	assert.Equal(t, "1000", KB.String())
}

func TestYAMLRoundTrip(t *testing.T) {
	type doc struct {
		Size ByteSize `yaml:"size"`
	}

	out, err := yaml.Marshal(doc{Size: 4 * MiB})
	require.NoError(t, err)
	assert.Equal(t, "size: 4MiB\n", string(out))

	var size ByteSize
	require.NoError(t, size.UnmarshalText([]byte("4MiB")))
	assert.Equal(t, 4*MiB, size)
}
