// Package locale resolves user-facing strings from embedded YAML catalogs.
//
// Catalog values are written in Markdown and rendered once to the HTML subset
// the transport accepts. Parameters are substituted after rendering and are
// always HTML-escaped, so user text can never inject markup.
package locale

import (
	"bytes"
	"embed"
	"fmt"
	"html"
	"io/fs"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// BaseLocale is the locale every catalog falls back to.
const BaseLocale = "fa"

//go:embed locales/*.yaml
var embeddedFS embed.FS

// Params are named template parameters, referenced as {name}.
type Params map[string]any

type catalogFile struct {
	Locale   string            `yaml:"locale"`
	Messages map[string]string `yaml:"messages"`
}

// Bundle holds every loaded catalog.
type Bundle struct {
	catalogs map[string]map[string]string
	tags     []language.Tag
	matcher  language.Matcher
}

// LoadEmbedded loads the catalogs compiled into the binary.
func LoadEmbedded() (*Bundle, error) {
	return LoadFromFS(embeddedFS)
}

// LoadFromFS loads locales/*.yaml from fsys.
func LoadFromFS(fsys fs.FS) (*Bundle, error) {
	paths, err := fs.Glob(fsys, "locales/*.yaml")
	if err != nil {
		return nil, fmt.Errorf("glob locale catalogs: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no catalog files found")
	}
	sort.Strings(paths)

	b := &Bundle{catalogs: map[string]map[string]string{}}
	for _, path := range paths {
		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			return nil, fmt.Errorf("read catalog %s: %w", path, err)
		}
		var file catalogFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse catalog %s: %w", path, err)
		}
		loc := strings.TrimSpace(file.Locale)
		if loc == "" {
			return nil, fmt.Errorf("catalog %s: locale is required", path)
		}
		if _, dup := b.catalogs[loc]; dup {
			return nil, fmt.Errorf("catalog %s: locale %q already defined", path, loc)
		}
		tag, err := language.Parse(loc)
		if err != nil {
			return nil, fmt.Errorf("catalog %s: parse locale tag %q: %w", path, loc, err)
		}
		b.catalogs[loc] = file.Messages
		b.tags = append(b.tags, tag)
	}
	if _, ok := b.catalogs[BaseLocale]; !ok {
		return nil, fmt.Errorf("base locale %s is not defined in catalogs", BaseLocale)
	}

	// the base locale goes first so it wins when nothing matches
	sort.SliceStable(b.tags, func(i, j int) bool {
		return b.tags[i].String() == BaseLocale && b.tags[j].String() != BaseLocale
	})
	b.matcher = language.NewMatcher(b.tags)
	return b, nil
}

// Locales returns the available locale identifiers.
func (b *Bundle) Locales() []string {
	out := make([]string, 0, len(b.catalogs))
	for loc := range b.catalogs {
		out = append(out, loc)
	}
	sort.Strings(out)
	return out
}

// Match returns the best available locale for the requested tag.
func (b *Bundle) Match(requested string) string {
	tag, err := language.Parse(strings.TrimSpace(requested))
	if err != nil {
		return BaseLocale
	}
	_, idx, conf := b.matcher.Match(tag)
	if conf == language.No {
		return BaseLocale
	}
	return b.tags[idx].String()
}

// Resolver renders messages for one locale with base-locale fallback.
type Resolver struct {
	locale   string
	messages map[string]string
	base     map[string]string

	mu       sync.Mutex
	rendered map[string]string
}

// Resolver returns a resolver for the locale best matching requested.
func (b *Bundle) Resolver(requested string) *Resolver {
	loc := b.Match(requested)
	return &Resolver{
		locale:   loc,
		messages: b.catalogs[loc],
		base:     b.catalogs[BaseLocale],
		rendered: map[string]string{},
	}
}

// Locale returns the resolved locale identifier.
func (r *Resolver) Locale() string {
	return r.locale
}

// Has reports whether key exists in the locale or its fallback.
func (r *Resolver) Has(key string) bool {
	_, ok := r.raw(key)
	return ok
}

func (r *Resolver) raw(key string) (string, bool) {
	if v, ok := r.messages[key]; ok {
		return v, true
	}
	v, ok := r.base[key]
	return v, ok
}

// T returns the HTML rendering of key with params substituted. A missing key
// renders as the key itself.
func (r *Resolver) T(key string, params Params) string {
	r.mu.Lock()
	tmpl, ok := r.rendered[key]
	if !ok {
		src, found := r.raw(key)
		if !found {
			r.mu.Unlock()
			return html.EscapeString(key)
		}
		tmpl = renderHTML(src)
		r.rendered[key] = tmpl
	}
	r.mu.Unlock()
	return substitute(tmpl, params, html.EscapeString)
}

// Plain returns key with params substituted and no markup, for surfaces that
// do not parse HTML (control answers, alerts).
func (r *Resolver) Plain(key string, params Params) string {
	src, ok := r.raw(key)
	if !ok {
		return key
	}
	return substitute(src, params, func(s string) string { return s })
}

var placeholder = regexp.MustCompile(`\{([a-z][a-z0-9_]*)\}`)

func substitute(tmpl string, params Params, escape func(string) string) string {
	if len(params) == 0 {
		return tmpl
	}
	return placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := m[1 : len(m)-1]
		v, ok := params[name]
		if !ok {
			return m
		}
		return escape(fmt.Sprint(v))
	})
}

// renderHTML converts Markdown to the transport's HTML subset: paragraphs
// become blank-line separated text and line breaks become newlines.
func renderHTML(md string) string {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return html.EscapeString(md)
	}
	out := strings.TrimSpace(buf.String())
	out = strings.ReplaceAll(out, "</p>\n<p>", "\n\n")
	out = strings.TrimPrefix(out, "<p>")
	out = strings.TrimSuffix(out, "</p>")
	out = strings.ReplaceAll(out, "<br />\n", "\n")
	out = strings.ReplaceAll(out, "<br />", "\n")
	return out
}
