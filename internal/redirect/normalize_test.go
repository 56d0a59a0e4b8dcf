package redirect

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestNormalizePaths(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{name: "empty", raw: "", want: nil},
		{name: "whitespace only", raw: " \n\t  ", want: nil},
		{name: "slashes and newlines", raw: "  /a/b/  \n /c/d ", want: []string{"a/b", "c/d"}},
		{name: "absolute urls", raw: "https://www.example.com/old/page?x=1#top http://example.org/other/", want: []string{"old/page", "other"}},
		{name: "scheme relative", raw: "//cdn.example.com/asset", want: []string{"asset"}},
		{name: "host only is dropped", raw: "https://example.com https://example.com/", want: nil},
		{name: "duplicates keep first order", raw: "b a /b/ a", want: []string{"b", "a"}},
		{name: "percent encoding kept", raw: "/alt%20seite", want: []string{"alt%20seite"}},
		{name: "bare slash dropped", raw: "/ // a", want: []string{"a"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizePaths(tc.raw))
		})
	}
}

func TestNormalizeTargetPath(t *testing.T) {
	assert.Equal(t, "en/about.html", NormalizeTargetPath("./en/about.html"))
	assert.Equal(t, "/en/about.html", NormalizeTargetPath("/en/about.html"))
}

func TestNormalizePathsIdempotent(t *testing.T) {
	token := rapid.OneOf(
		rapid.StringMatching(`(https?://[a-z.]{1,12})?(/[a-z0-9%.:-]{0,6}){0,4}/?(\?[a-z=&]{0,5})?(#[a-z]{0,4})?`),
		rapid.StringMatching(`[ -~]{0,16}`),
		rapid.String(),
	)
	rapid.Check(t, func(rt *rapid.T) {
		tokens := rapid.SliceOfN(token, 0, 6).Draw(rt, "tokens")
		sep := rapid.SampledFrom([]string{" ", "\n", "\t", "  \r\n "}).Draw(rt, "sep")
		raw := strings.Join(tokens, sep)

		once := NormalizePaths(raw)
		twice := NormalizePaths(strings.Join(once, " "))
		if !assert.ObjectsAreEqual(once, twice) {
			rt.Fatalf("not idempotent for %q: %q then %q", raw, once, twice)
		}
		for _, path := range once {
			if path == "" || strings.HasPrefix(path, "/") || strings.HasSuffix(path, "/") {
				rt.Fatalf("unexpected normalized path %q from %q", path, raw)
			}
		}
	})
}
