package pageid

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalizeIdempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"24de54b2d72f808fb2cfe6f47cf1876a",
		"24DE54B2D72F808FB2CFE6F47CF1876A",
		"24de54b2-d72f-808f-b2cf-e6f47cf1876a",
		"ffffffffffffffffffffffffffffffff",
		"00000000000000000000000000000000",
	}
	for _, in := range inputs {
		first, ok := Canonicalize(in)
		require.True(t, ok, "canonicalize %q", in)
		second, ok := Canonicalize(first)
		require.True(t, ok)
		require.Equal(t, first, second)
	}
}

func TestCanonicalizeShape(t *testing.T) {
	t.Parallel()

	got, ok := Canonicalize("24de54b2d72f808fb2cfe6f47cf1876a")
	require.True(t, ok)
	require.Equal(t, "24de54b2-d72f-808f-b2cf-e6f47cf1876a", got)

	_, ok = Canonicalize("not-a-uuid")
	require.False(t, ok)
	_, ok = Canonicalize("")
	require.False(t, ok)
}

func TestFromURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		url  string
		want string
		ok   bool
	}{
		{
			name: "title suffix id",
			url:  "https://notion.so/Some-Title-24de54b2d72f808fb2cfe6f47cf1876a",
			want: "24de54b2-d72f-808f-b2cf-e6f47cf1876a",
			ok:   true,
		},
		{
			name: "p parameter",
			url:  "https://notion.so/page?p=24de54b2d72f808fb2cfe6f47cf1876a",
			want: "24de54b2-d72f-808f-b2cf-e6f47cf1876a",
			ok:   true,
		},
		{
			name: "p parameter beats path id",
			url:  "https://www.notion.so/Other-ffffffffffffffffffffffffffffffff?p=24de54b2d72f808fb2cfe6f47cf1876a",
			want: "24de54b2-d72f-808f-b2cf-e6f47cf1876a",
			ok:   true,
		},
		{
			name: "already hyphenated",
			url:  "https://www.notion.so/24de54b2-d72f-808f-b2cf-e6f47cf1876a",
			want: "24de54b2-d72f-808f-b2cf-e6f47cf1876a",
			ok:   true,
		},
		{
			name: "uppercase",
			url:  "https://notion.so/Some-Title-24DE54B2D72F808FB2CFE6F47CF1876A",
			want: "24de54b2-d72f-808f-b2cf-e6f47cf1876a",
			ok:   true,
		},
		{
			name: "no id",
			url:  "https://notion.so/product",
			ok:   false,
		},
		{
			name: "malformed url degrades to scan",
			url:  "::::24de54b2d72f808fb2cfe6f47cf1876a",
			want: "24de54b2-d72f-808f-b2cf-e6f47cf1876a",
			ok:   true,
		},
		{
			name: "short hex run ignored",
			url:  "https://notion.so/Some-Title-24de54b2",
			ok:   false,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := FromURL(tt.url)
			require.Equal(t, tt.ok, ok)
			if tt.ok {
				require.Equal(t, tt.want, got)
			}
		})
	}
}

func TestFromDatabaseLink(t *testing.T) {
	t.Parallel()

	got, ok := FromDatabaseLink("https://www.notion.so/myteam/24de54b2d72f808fb2cfe6f47cf1876a?v=abc")
	require.True(t, ok)
	require.Equal(t, "24de54b2-d72f-808f-b2cf-e6f47cf1876a", got)

	got, ok = FromDatabaseLink("  24de54b2-d72f-808f-b2cf-e6f47cf1876a  ")
	require.True(t, ok)
	require.Equal(t, "24de54b2-d72f-808f-b2cf-e6f47cf1876a", got)

	_, ok = FromDatabaseLink("https://www.notion.so/myteam/just-a-page")
	require.False(t, ok)
	_, ok = FromDatabaseLink("")
	require.False(t, ok)
}
