package index

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/xrefsearch/internal/index/indextest"
)

var identifierFixture = [][2]string{
	{"Foo", "_ZN3FooE"},
	{"Foo::Bar", "_ZN3Foo3BarE"},
	{"Foo::Baz", "_ZN3Foo3BazE"},
	{"FooBar", "_ZN6FooBarE"},
	{"foobar", "_Z6foobarv"},
	{"FooBar.prototype", "#FooBar.prototype"},
	{"Fool", "_Z4Foolv"},
	{"Fop", "_Z3Fopv"},
	{"Fo", "_Z2Fov"},
	{"nsFoo", "_Z5nsFoov"},
	{"mozilla::dom::FooBar", "_ZN7mozilla3dom6FooBarE"},
}

func openIdentifiers(t *testing.T, pairs [][2]string) *Identifiers {
	t.Helper()
	dir := t.TempDir()
	indextest.WriteIdentifiers(t, dir, pairs)
	ix, err := OpenIdentifiers(filepath.Join(dir, IdentifiersFile))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ix.Close() })
	return ix
}

func qualifiedNames(matches []IdentifierMatch) []string {
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.Qualified)
	}
	return out
}

func TestIdentifiersLookup_Prefix(t *testing.T) {
	ix := openIdentifiers(t, identifierFixture)

	got, err := ix.Lookup(context.Background(), "Foo", false, true, 0)
	require.NoError(t, err)

	// Foo::Bar and FooBar.prototype are nested; Fop and Fo do not share the prefix
	assert.ElementsMatch(t, []string{"Foo", "FooBar", "foobar", "Fool"}, qualifiedNames(got))
}

func TestIdentifiersLookup_CaseSensitive(t *testing.T) {
	ix := openIdentifiers(t, identifierFixture)

	got, err := ix.Lookup(context.Background(), "Foo", false, false, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Foo", "FooBar", "Fool"}, qualifiedNames(got))
}

func TestIdentifiersLookup_Complete(t *testing.T) {
	ix := openIdentifiers(t, identifierFixture)

	got, err := ix.Lookup(context.Background(), "FooBar", true, true, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"FooBar", "foobar"}, qualifiedNames(got))

	got, err = ix.Lookup(context.Background(), "Foo::Bar", true, true, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "_ZN3Foo3BarE", got[0].Symbol)
}

func TestIdentifiersLookup_QualifiedPrefix(t *testing.T) {
	ix := openIdentifiers(t, identifierFixture)

	got, err := ix.Lookup(context.Background(), "Foo::Ba", false, true, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Foo::Bar", "Foo::Baz"}, qualifiedNames(got))
}

func TestIdentifiersLookup_NoMatch(t *testing.T) {
	ix := openIdentifiers(t, identifierFixture)

	for _, needle := range []string{"Zzz", "A", "Foob~", "nsFooX"} {
		got, err := ix.Lookup(context.Background(), needle, false, true, 0)
		require.NoError(t, err)
		assert.Empty(t, got, needle)
	}
}

func TestIdentifiersLookup_Limit(t *testing.T) {
	var pairs [][2]string
	for i := 0; i < 800; i++ {
		pairs = append(pairs, [2]string{fmt.Sprintf("Widget%04d", i), fmt.Sprintf("sym%d", i)})
	}
	ix := openIdentifiers(t, pairs)

	got, err := ix.Lookup(context.Background(), "Widget", false, true, 0)
	require.NoError(t, err)
	assert.Len(t, got, DefaultIdentifierLimit)
	assert.Equal(t, "Widget0000", got[0].Qualified)

	got, err = ix.Lookup(context.Background(), "Widget", false, true, 10)
	require.NoError(t, err)
	assert.Len(t, got, 10)
}

// For every prefix of every inserted name, the lookup returns exactly the
// names that start with it (case-insensitively) and have no nested suffix.
func TestIdentifiersLookup_RangeProperty(t *testing.T) {
	ix := openIdentifiers(t, identifierFixture)

	prefixes := map[string]bool{}
	for _, p := range identifierFixture {
		for i := 1; i <= len(p[0]); i++ {
			prefixes[p[0][:i]] = true
		}
	}

	for prefix := range prefixes {
		var want []string
		for _, p := range identifierFixture {
			name := p[0]
			if len(name) < len(prefix) || !strings.EqualFold(name[:len(prefix)], prefix) {
				continue
			}
			if strings.ContainsAny(name[len(prefix):], ".:") {
				continue
			}
			want = append(want, name)
		}
		sort.Strings(want)

		got, err := ix.Lookup(context.Background(), prefix, false, true, 0)
		require.NoError(t, err)
		names := qualifiedNames(got)
		sort.Strings(names)
		if len(want) == 0 {
			assert.Empty(t, names, prefix)
		} else {
			assert.Equal(t, want, names, "prefix %q", prefix)
		}
	}
}

func TestIdentifiersLookup_EmptyFile(t *testing.T) {
	ix := openIdentifiers(t, nil)
	got, err := ix.Lookup(context.Background(), "Foo", false, true, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestIdentifiersLookup_NonASCII(t *testing.T) {
	ix := openIdentifiers(t, [][2]string{
		{"Apfel", "_Z5Apfelv"},
		{"Ärger", "_Z6Ärgerv"},
		{"Éclair", "_Z7Éclairv"},
		{"école", "_Z6écolev"},
		{"Ecole", "_Z5Ecolev"},
		{"zèbre", "_Z6zèbrev"},
		{"Zebra", "_Z5Zebrav"},
	})
	ctx := context.Background()

	tests := []struct {
		needle   string
		foldCase bool
		want     []string
	}{
		{"École", true, []string{"école"}},
		{"ÉCOLE", true, []string{"école"}},
		{"ärger", true, []string{"Ärger"}},
		{"ZÈ", true, []string{"zèbre"}},
		{"É", true, []string{"Éclair", "école"}},
		{"Ecole", true, []string{"Ecole"}},
		{"école", false, []string{"école"}},
		{"École", false, nil},
	}
	for _, tt := range tests {
		got, err := ix.Lookup(ctx, tt.needle, false, tt.foldCase, 0)
		require.NoError(t, err)
		if tt.want == nil {
			assert.Empty(t, got, tt.needle)
			continue
		}
		assert.ElementsMatch(t, tt.want, qualifiedNames(got), "needle %q", tt.needle)
	}
}
