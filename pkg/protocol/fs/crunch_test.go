package fs

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// ============================================================================
// Crunch Tests
// ============================================================================

func TestCrunch(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"autorun.sys", "AUTORUN.SYS"},
		{"AUTORUN.SYS", "AUTORUN.SYS"},
		{"my file.doc", "MYFILE.DOC"},
		{"readme", "README"},
		{"picture.jpeg", "PICTURE.JPE"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Crunch(tt.in))
		})
	}

	t.Run("LongBaseGetsChecksum", func(t *testing.T) {
		got := Crunch("autorun_long_name.sys")
		base, ext, _ := strings.Cut(got, ".")
		assert.Len(t, base, 8)
		assert.True(t, strings.HasPrefix(base, "AUTORU"))
		assert.Equal(t, "SYS", ext)
	})

	t.Run("DistinctLongNamesUsuallyDiffer", func(t *testing.T) {
		assert.NotEqual(t, Crunch("documentation.txt"), Crunch("documentarian.txt"))
	})

	t.Run("Deterministic", func(t *testing.T) {
		assert.Equal(t, Crunch("Some Long Name.basic"), Crunch("somelongname.BASIC"))
	})
}

func TestTildeAlias(t *testing.T) {
	stem, n, ext, ok := tildeAlias("autoru~1.sys")
	assert.True(t, ok)
	assert.Equal(t, "AUTORU", stem)
	assert.Equal(t, 1, n)
	assert.Equal(t, "SYS", ext)

	for _, bad := range []string{"AUTORUN.SYS", "~1.SYS", "FOO~.SYS", "FOO~X.SYS", "FOO~0"} {
		_, _, _, ok := tildeAlias(bad)
		assert.False(t, ok, bad)
	}
}

func TestCrunchMatcher(t *testing.T) {
	t.Run("CaseInsensitiveEquality", func(t *testing.T) {
		assert.True(t, newCrunchMatcher("AUTORUN.SYS").match("Autorun.sys"))
	})

	t.Run("CrunchedForm", func(t *testing.T) {
		short := Crunch("autorun_long_name.sys")
		assert.True(t, newCrunchMatcher(short).match("autorun_long_name.sys"))
	})

	t.Run("TildeOrdinal", func(t *testing.T) {
		m := newCrunchMatcher("PROGRA~2.EXE")
		assert.False(t, m.match("Program One.exe"))
		assert.True(t, m.match("Program Two.exe"))
	})

	t.Run("TildeExtensionMustMatch", func(t *testing.T) {
		m := newCrunchMatcher("PROGRA~1.EXE")
		assert.False(t, m.match("Program One.txt"))
		assert.True(t, m.match("Programs.exe"))
	})

	t.Run("NoMatch", func(t *testing.T) {
		assert.False(t, newCrunchMatcher("MISSING.DAT").match("present.dat"))
	})
}

// ============================================================================
// Pattern Tests
// ============================================================================

func TestMatchPattern(t *testing.T) {
	for _, p := range []string{"", "*", "*.*", "-", "**"} {
		assert.Equal(t, "*", normalizePattern(p), p)
	}

	assert.True(t, matchPattern("*.SYS", "autorun.sys"))
	assert.True(t, matchPattern("auto*", "AUTORUN.SYS"))
	assert.False(t, matchPattern("*.BAS", "autorun.sys"))
	assert.True(t, matchPattern("AUTORU??.SYS", "autorun_long_name.sys"))
	assert.False(t, matchPattern("[", "anything"))
}

func TestSplitPath(t *testing.T) {
	dir, file := splitPath("/games/autorun.sys")
	assert.Equal(t, "/games/", dir)
	assert.Equal(t, "autorun.sys", file)

	dir, file = splitPath("/games/")
	assert.Equal(t, "/games/", dir)
	assert.Empty(t, file)

	dir, file = splitPath("file")
	assert.Equal(t, "/", dir)
	assert.Equal(t, "file", file)
}

// ============================================================================
// Listing Format Tests
// ============================================================================

func TestFormatShort(t *testing.T) {
	t.Run("File", func(t *testing.T) {
		got := FormatShort(Entry{Name: "autorun.sys", Size: 300})
		assert.Equal(t, "  AUTORUN SYS 002", got)
		assert.Len(t, got, 17)
	})

	t.Run("Locked", func(t *testing.T) {
		assert.Equal(t, "* DOS     SYS 001", FormatShort(Entry{Name: "dos.sys", Size: 1, Locked: true}))
	})

	t.Run("Directory", func(t *testing.T) {
		assert.Equal(t, "  DEMOS       DIR", FormatShort(Entry{Name: "demos", IsDir: true}))
	})

	t.Run("SectorsCapAt999", func(t *testing.T) {
		got := FormatShort(Entry{Name: "huge.bin", Size: 10 << 20})
		assert.True(t, strings.HasSuffix(got, "999"))
	})

	t.Run("EmptyFileHasZeroSectors", func(t *testing.T) {
		assert.True(t, strings.HasSuffix(FormatShort(Entry{Name: "empty"}), "000"))
	})
}

func TestFormatLong(t *testing.T) {
	got := FormatLong(Entry{Name: "Autorun.sys", Size: 11, ModTime: time.Now()})
	assert.Equal(t, "Autorun.sys"+strings.Repeat(" ", 24)+"11", got)

	got = FormatLong(Entry{Name: "Demos", IsDir: true})
	assert.True(t, strings.HasSuffix(got, "<DIR>"))

	long := strings.Repeat("x", 40)
	got = FormatLong(Entry{Name: long, Size: 20000})
	assert.True(t, strings.HasPrefix(got, strings.Repeat("x", 27)+"..."))
	assert.True(t, strings.HasSuffix(got, "19K"))

	assert.True(t, strings.HasSuffix(FormatLong(Entry{Name: "big", Size: 50 << 20}), "50M"))
}
