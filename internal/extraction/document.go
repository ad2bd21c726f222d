package extraction

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"

	"github.com/jonesrussell/north-cloud/listings/internal/platform"
)

// page is a parsed listing page with its inline scripts and JSON-LD blocks split out.
type page struct {
	rawURL  string
	url     *url.URL
	body    []byte
	doc     *goquery.Document
	scripts string
	jsonLD  []gjson.Result
}

func parsePage(rawURL string, body []byte) (*page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse listing page: %w", err)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse listing url: %w", err)
	}

	p := &page{rawURL: rawURL, url: u, body: body, doc: doc}
	var scripts strings.Builder
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		text := s.Text()
		if typ, _ := s.Attr("type"); strings.EqualFold(strings.TrimSpace(typ), "application/ld+json") {
			p.jsonLD = append(p.jsonLD, jsonLDObjects(text)...)
			return
		}
		scripts.WriteString(text)
		scripts.WriteByte('\n')
	})
	p.scripts = scripts.String()
	return p, nil
}

// jsonLDObjects flattens a JSON-LD block (object, array or @graph) into typed objects.
func jsonLDObjects(raw string) []gjson.Result {
	raw = strings.TrimSpace(raw)
	if raw == "" || !gjson.Valid(raw) {
		return nil
	}
	var out []gjson.Result
	var walk func(r gjson.Result)
	walk = func(r gjson.Result) {
		switch {
		case r.IsArray():
			for _, item := range r.Array() {
				walk(item)
			}
		case r.IsObject():
			if graph := r.Get(`@graph`); graph.Exists() {
				walk(graph)
			}
			if r.Get(`@type`).Exists() {
				out = append(out, r)
			}
		}
	}
	walk(gjson.Parse(raw))
	return out
}

// meta returns the content of a meta tag by property or name.
func (p *page) meta(key string) string {
	sel := p.doc.Find(fmt.Sprintf(`meta[property=%q], meta[name=%q]`, key, key)).First()
	content, _ := sel.Attr("content")
	return strings.TrimSpace(content)
}

// title returns the document <title>.
func (p *page) title() string {
	return collapse(p.doc.Find("title").First().Text())
}

// loadedSignal returns the first signal proving that listing content rendered, or "" when
// the page carries none: a platform marker, a platform script pattern, a JSON-LD block,
// an og:title or a non-empty <title>.
func (p *page) loadedSignal(def *platform.Definition) string {
	for _, marker := range def.Listing.LoadedMarkers {
		if p.doc.Find(marker).Length() > 0 {
			return "marker:" + marker
		}
	}
	for _, fp := range def.ScriptPatterns() {
		if fp.Pattern.MatchString(p.scripts) {
			return "script:" + fp.Field
		}
	}
	if len(p.jsonLD) > 0 {
		return "json_ld"
	}
	if p.meta("og:title") != "" {
		return "og:title"
	}
	if p.title() != "" {
		return "title"
	}
	return ""
}

// resolve makes href absolute against the page URL.
func (p *page) resolve(href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "data:") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return p.url.ResolveReference(ref).String()
}
