package source

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	infralogger "github.com/jonesrussell/north-cloud/listings/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/listings/internal/failure"
	"github.com/jonesrussell/north-cloud/listings/internal/platform"
)

// Candidate is a listing URL found on a results page.
type Candidate struct {
	URL        string `json:"url"`
	ExternalID string `json:"external_id,omitempty"`
}

// DiscoveredPage is the outcome of reading one results page.
type DiscoveredPage struct {
	Page         int         `json:"page"`
	URL          string      `json:"url"`
	TotalResults int         `json:"total_results"`
	TotalPages   int         `json:"total_pages"`
	Listings     []Candidate `json:"listings"`
}

// DiscoverPage fetches page number page of a search and extracts candidate listings and
// pagination metadata.
func (c *Client) DiscoverPage(ctx context.Context, platformName, searchURL string, page int) (*DiscoveredPage, error) {
	def, err := c.platforms.Get(platformName)
	if err != nil {
		return nil, failure.Wrap(failure.KindInternal, err)
	}
	if page < 1 {
		page = 1
	}

	pageURL, err := def.PageURL(searchURL, page)
	if err != nil {
		return nil, failure.Wrap(failure.KindInvalidData, err)
	}

	fetched, err := c.fetch(ctx, def, "discover_page", pageURL)
	if err != nil {
		return nil, err
	}

	result, err := ParseSearchPage(def, fetched.FinalURL, fetched.Body)
	if err != nil {
		return nil, err
	}
	result.Page = page
	result.URL = pageURL

	c.log.Debug("Discovered search page",
		infralogger.Platform(def.Name),
		infralogger.Int("page", page),
		infralogger.Int("listings", len(result.Listings)),
		infralogger.Int("total_results", result.TotalResults),
		infralogger.Int("total_pages", result.TotalPages),
	)
	return result, nil
}

// ParseSearchPage extracts candidates and pagination from a results page body.
func ParseSearchPage(def *platform.Definition, pageURL string, body []byte) (*DiscoveredPage, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, failure.Wrap(failure.KindInvalidData, fmt.Errorf("parse search page: %w", err))
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, failure.Wrap(failure.KindInvalidData, fmt.Errorf("parse page url: %w", err))
	}

	result := &DiscoveredPage{}
	seen := make(map[string]struct{})
	add := func(href, externalID string) {
		abs := resolve(base, href)
		if abs == "" || !def.IsListingLink(abs) {
			return
		}
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		if externalID == "" {
			externalID = def.ExternalIDFromURL(abs)
		}
		result.Listings = append(result.Listings, Candidate{URL: abs, ExternalID: externalID})
	}

	rules := def.Search
	if rules.CardSelector != "" {
		doc.Find(rules.CardSelector).Each(func(_ int, card *goquery.Selection) {
			link := card
			if rules.LinkSelector != "" {
				link = card.Find(rules.LinkSelector).First()
			}
			href, ok := link.Attr(rules.LinkAttr)
			if !ok {
				// Some cards carry the target on the card element itself.
				href, _ = card.Attr("data-to-posting")
			}
			var externalID string
			if rules.IDAttr != "" {
				externalID, _ = card.Attr(rules.IDAttr)
			}
			add(href, strings.TrimSpace(externalID))
		})
	}

	// Markup changed or no card selector: fall back to every anchor matching the link pattern.
	if len(result.Listings) == 0 && rules.LinkPattern != "" {
		doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
			href, _ := a.Attr("href")
			add(href, "")
		})
	}

	text := string(body)
	if rules.TotalSelector != "" {
		if n, ok := platform.ParseCount(doc.Find(rules.TotalSelector).First().Text()); ok {
			result.TotalResults = n
		}
	}
	if result.TotalResults == 0 {
		if n, ok := def.TotalResults(text); ok {
			result.TotalResults = n
		}
	}

	if n, ok := def.TotalPages(text); ok {
		result.TotalPages = n
	} else if rules.PageSize > 0 && result.TotalResults > 0 {
		result.TotalPages = (result.TotalResults + rules.PageSize - 1) / rules.PageSize
	}
	if result.TotalPages == 0 && len(result.Listings) > 0 {
		result.TotalPages = 1
	}
	if rules.MaxPages > 0 && result.TotalPages > rules.MaxPages {
		result.TotalPages = rules.MaxPages
	}
	if result.TotalResults == 0 {
		result.TotalResults = len(result.Listings)
	}

	return result, nil
}

func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	abs := base.ResolveReference(ref)
	abs.Fragment = ""
	return abs.String()
}
