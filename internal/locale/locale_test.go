package locale

import (
	"strings"
	"testing"
	"testing/fstest"
)

func mustBundle(t *testing.T) *Bundle {
	t.Helper()
	b, err := LoadEmbedded()
	if err != nil {
		t.Fatalf("LoadEmbedded() error = %v", err)
	}
	return b
}

func TestLoadEmbedded(t *testing.T) {
	b := mustBundle(t)
	got := strings.Join(b.Locales(), ",")
	if got != "en,fa" {
		t.Errorf("Locales() = %s, want en,fa", got)
	}
}

// Every key of the base catalog exists in every other catalog.
func TestCatalogsComplete(t *testing.T) {
	b := mustBundle(t)
	for _, loc := range b.Locales() {
		for key := range b.catalogs[BaseLocale] {
			if _, ok := b.catalogs[loc][key]; !ok {
				t.Errorf("locale %s missing key %q", loc, key)
			}
		}
	}
}

func TestMatch(t *testing.T) {
	b := mustBundle(t)
	tests := []struct {
		in   string
		want string
	}{
		{"fa", "fa"},
		{"fa-IR", "fa"},
		{"en", "en"},
		{"en-GB", "en"},
		{"de", BaseLocale},
		{"", BaseLocale},
		{"not a tag!", BaseLocale},
	}
	for _, tt := range tests {
		if got := b.Match(tt.in); got != tt.want {
			t.Errorf("Match(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestT_RendersMarkdownToHTML(t *testing.T) {
	r := mustBundle(t).Resolver("en")

	got := r.T("ask_for_subject", nil)
	if got != "Please send the <strong>subject</strong> of your post." {
		t.Errorf("T() = %q", got)
	}
	if strings.Contains(got, "<p>") {
		t.Error("paragraph tags must be stripped")
	}
}

func TestT_EscapesParams(t *testing.T) {
	r := mustBundle(t).Resolver("en")

	got := r.T("admin_added", Params{"alias": "<b>x</b> & *y*", "user_id": 5})
	if !strings.Contains(got, "&lt;b&gt;x&lt;/b&gt; &amp; *y*") {
		t.Errorf("params must be escaped verbatim: %q", got)
	}
	if !strings.Contains(got, "<code>5</code>") {
		t.Errorf("code span lost: %q", got)
	}
}

func TestT_MultilineKeepsNewlines(t *testing.T) {
	r := mustBundle(t).Resolver("en")
	got := r.T("output_channel_footer", Params{"subject": "S", "channel": "@out"})
	if got != "📌 S\n@out" {
		t.Errorf("footer = %q", got)
	}
}

func TestT_FallbackAndMissing(t *testing.T) {
	fsys := fstest.MapFS{
		"locales/fa.yaml": {Data: []byte("locale: fa\nmessages:\n  hello: \"salam {name}\"\n  only_base: base\n")},
		"locales/en.yaml": {Data: []byte("locale: en\nmessages:\n  hello: \"hello {name}\"\n")},
	}
	b, err := LoadFromFS(fsys)
	if err != nil {
		t.Fatal(err)
	}
	r := b.Resolver("en")
	if got := r.T("hello", Params{"name": "Sara"}); got != "hello Sara" {
		t.Errorf("T(hello) = %q", got)
	}
	if got := r.T("only_base", nil); got != "base" {
		t.Errorf("fallback = %q, want base", got)
	}
	if got := r.T("nope", nil); got != "nope" {
		t.Errorf("missing key = %q", got)
	}
	if got := r.T("hello", nil); got != "hello {name}" {
		t.Errorf("unfilled placeholder = %q", got)
	}
}

func TestPlain(t *testing.T) {
	r := mustBundle(t).Resolver("en")
	got := r.Plain("admin_added", Params{"alias": "<x>", "user_id": 1})
	if !strings.Contains(got, "<x>") {
		t.Errorf("Plain must not escape: %q", got)
	}
}

func TestLoadFromFS_RequiresBase(t *testing.T) {
	fsys := fstest.MapFS{
		"locales/en.yaml": {Data: []byte("locale: en\nmessages:\n  a: b\n")},
	}
	if _, err := LoadFromFS(fsys); err == nil {
		t.Error("expected error without base locale")
	}
}
