package attrpath

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		raw  string
		want Path
	}{
		{"Usage", Path{Name: "Usage"}},
		{"Usage.used", Path{Name: "Usage", Segments: []string{"used"}}},
		{"a.b.c.d", Path{Name: "a", Segments: []string{"b", "c", "d"}}},
		{`Foo\.Bar.Baz`, Path{Name: "Foo.Bar", Segments: []string{"Baz"}}},
		{`Foo.Bar\.Baz`, Path{Name: "Foo", Segments: []string{"Bar.Baz"}}},
		{`a\\b.c`, Path{Name: `a\b`, Segments: []string{"c"}}},
		{`\.\.`, Path{Name: ".."}},
		{"heap.allocs:bytes", Path{Name: "heap", Segments: []string{"allocs:bytes"}}},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := Parse(tt.raw)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("Parse(%q) mismatch (-want +got):\n%s", tt.raw, diff)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, raw := range []string{
		"",
		".",
		"a..b",
		".a",
		"a.",
		`a\b`,
		`a\`,
		`a.\x`,
		`\`,
	} {
		t.Run(raw, func(t *testing.T) {
			_, err := Parse(raw)
			require.ErrorIs(t, err, ErrSyntax)
		})
	}
}

func TestParseSplitsOnDots(t *testing.T) {
	segments := []string{"alpha", "beta", "gamma", "delta"}
	for n := 1; n <= len(segments); n++ {
		raw := strings.Join(segments[:n], ".")
		p, err := Parse(raw)
		require.NoError(t, err)
		require.Equal(t, segments[0], p.Name)
		require.Len(t, p.Segments, n-1)
		require.Equal(t, n > 1, p.IsNested())
	}
}

func TestStringRoundTrip(t *testing.T) {
	p := Path{Name: "a.b", Segments: []string{`c\d`, "e"}}
	require.Equal(t, `a\.b.c\\d.e`, p.String())

	back, err := Parse(p.String())
	require.NoError(t, err)
	require.Equal(t, p, back)
}

func TestMustParsePanics(t *testing.T) {
	require.Panics(t, func() { MustParse("a..b") })
	require.Equal(t, "x", MustParse("x").Name)
}

func FuzzParse(f *testing.F) {
	for _, seed := range []string{"a", "a.b", `a\.b`, `a\\.b`, "a..b", `\x`} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, raw string) {
		p, err := Parse(raw)
		if err != nil {
			return
		}
		if p.Name == "" {
			t.Fatalf("empty name for %q", raw)
		}
		for _, s := range p.Segments {
			if s == "" {
				t.Fatalf("empty segment for %q", raw)
			}
		}
		back, err := Parse(p.String())
		if err != nil {
			t.Fatalf("re-parse of %q failed: %v", p.String(), err)
		}
		if diff := cmp.Diff(p, back, cmpopts.EquateEmpty()); diff != "" {
			t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
		}
	})
}
