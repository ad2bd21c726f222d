// Package platform holds the per-platform rules the source client and the extraction engine
// use to read search pages and listing pages.
package platform

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"
)

var (
	// ErrUnknownPlatform is returned when no definition exists for a platform name.
	ErrUnknownPlatform = errors.New("unknown platform")
	// ErrMissingRequiredField indicates a definition without a required field.
	ErrMissingRequiredField = errors.New("missing required field")
)

// pagePlaceholder is replaced with the page number in SearchRules.PagePattern.
const pagePlaceholder = "{page}"

// Definition describes how to read one source platform.
type Definition struct {
	Name              string            `mapstructure:"name"`
	BaseURL           string            `mapstructure:"base_url"`
	UserAgent         string            `mapstructure:"user_agent"`
	Headers           map[string]string `mapstructure:"headers"`
	RequestsPerSecond float64           `mapstructure:"requests_per_second"`
	Burst             int               `mapstructure:"burst"`
	Timeout           time.Duration     `mapstructure:"timeout"`
	Search            SearchRules       `mapstructure:"search"`
	Listing           ListingRules      `mapstructure:"listing"`

	linkPattern       *regexp.Regexp
	totalPattern      *regexp.Regexp
	totalPagesPattern *regexp.Regexp
	externalIDPattern *regexp.Regexp
	stateBlobPattern  *regexp.Regexp
	imageIDPattern    *regexp.Regexp
	scriptPatterns    []FieldPattern
	imageUpgrades     []compiledUpgrade
}

// SearchRules locate candidate listings and pagination metadata on a search results page.
type SearchRules struct {
	// PageParam is the query parameter carrying the page number, for example "page".
	PageParam string `mapstructure:"page_param"`
	// PagePattern is a path suffix inserted before ".html", for example "-pagina-{page}".
	PagePattern       string `mapstructure:"page_pattern"`
	PageSize          int    `mapstructure:"page_size"`
	MaxPages          int    `mapstructure:"max_pages"`
	CardSelector      string `mapstructure:"card_selector"`
	LinkSelector      string `mapstructure:"link_selector"`
	LinkAttr          string `mapstructure:"link_attr"`
	IDAttr            string `mapstructure:"id_attr"`
	LinkPattern       string `mapstructure:"link_pattern"`
	TotalSelector     string `mapstructure:"total_selector"`
	TotalPattern      string `mapstructure:"total_pattern"`
	TotalPagesPattern string `mapstructure:"total_pages_pattern"`
}

// ListingRules drive the extraction layers for a listing page.
type ListingRules struct {
	ExternalIDPattern string `mapstructure:"external_id_pattern"`
	// LoadedMarkers are selectors whose presence proves the listing content rendered.
	LoadedMarkers []string `mapstructure:"loaded_markers"`
	// Scripts maps a field to a regular expression over inline script text. The first
	// capture group is the value.
	Scripts map[string]string `mapstructure:"scripts"`
	// StateBlob captures an embedded JSON state object; StatePaths are gjson paths into it.
	StateBlob  string            `mapstructure:"state_blob"`
	StatePaths map[string]string `mapstructure:"state_paths"`
	// Selectors maps a field to an ordered selector list. The first non-empty match wins.
	Selectors      map[string][]string `mapstructure:"selectors"`
	ImageUpgrades  []ImageUpgrade      `mapstructure:"image_upgrades"`
	ImageIDPattern string              `mapstructure:"image_id_pattern"`
	// PropertyTypes maps platform type ids or labels to canonical property types.
	PropertyTypes map[string]string `mapstructure:"property_types"`
	// OperationTypes maps platform operation ids or labels to sale, rent or temporary_rent.
	OperationTypes map[string]string `mapstructure:"operation_types"`
}

// ImageUpgrade rewrites a low-resolution image URL into a larger variant.
type ImageUpgrade struct {
	Pattern string `mapstructure:"pattern"`
	Replace string `mapstructure:"replace"`
}

type compiledUpgrade struct {
	re      *regexp.Regexp
	replace string
}

// FieldPattern is a compiled script pattern for one field.
type FieldPattern struct {
	Field   string
	Pattern *regexp.Regexp
}

// compile validates the definition and prepares its regular expressions.
func (d *Definition) compile() error {
	if d.Name == "" {
		return fmt.Errorf("%w: name", ErrMissingRequiredField)
	}
	if d.BaseURL != "" {
		u, err := url.Parse(d.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("platform %s: base_url must be a valid HTTP(S) URL", d.Name)
		}
	}
	if d.Search.LinkAttr == "" {
		d.Search.LinkAttr = "href"
	}

	var err error
	compileOpt := func(field, expr string) *regexp.Regexp {
		if expr == "" || err != nil {
			return nil
		}
		re, compileErr := regexp.Compile(expr)
		if compileErr != nil {
			err = fmt.Errorf("platform %s: invalid %s: %w", d.Name, field, compileErr)
			return nil
		}
		return re
	}

	d.linkPattern = compileOpt("search.link_pattern", d.Search.LinkPattern)
	d.totalPattern = compileOpt("search.total_pattern", d.Search.TotalPattern)
	d.totalPagesPattern = compileOpt("search.total_pages_pattern", d.Search.TotalPagesPattern)
	d.externalIDPattern = compileOpt("listing.external_id_pattern", d.Listing.ExternalIDPattern)
	d.stateBlobPattern = compileOpt("listing.state_blob", d.Listing.StateBlob)
	d.imageIDPattern = compileOpt("listing.image_id_pattern", d.Listing.ImageIDPattern)

	fields := make([]string, 0, len(d.Listing.Scripts))
	for field := range d.Listing.Scripts {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	d.scriptPatterns = make([]FieldPattern, 0, len(fields))
	for _, field := range fields {
		re := compileOpt("listing.scripts."+field, d.Listing.Scripts[field])
		if re != nil {
			d.scriptPatterns = append(d.scriptPatterns, FieldPattern{Field: field, Pattern: re})
		}
	}

	d.imageUpgrades = make([]compiledUpgrade, 0, len(d.Listing.ImageUpgrades))
	for i, up := range d.Listing.ImageUpgrades {
		re := compileOpt(fmt.Sprintf("listing.image_upgrades[%d]", i), up.Pattern)
		if re != nil {
			d.imageUpgrades = append(d.imageUpgrades, compiledUpgrade{re: re, replace: up.Replace})
		}
	}

	return err
}

// PageURL returns the URL of the given results page. Page 1 is the search URL itself.
func (d *Definition) PageURL(searchURL string, page int) (string, error) {
	if page <= 1 {
		return searchURL, nil
	}
	u, err := url.Parse(searchURL)
	if err != nil {
		return "", fmt.Errorf("parse search url: %w", err)
	}

	switch {
	case d.Search.PagePattern != "":
		suffix := strings.ReplaceAll(d.Search.PagePattern, pagePlaceholder, strconv.Itoa(page))
		if base, ok := strings.CutSuffix(u.Path, ".html"); ok {
			u.Path = base + suffix + ".html"
		} else {
			u.Path = strings.TrimSuffix(u.Path, "/") + suffix
		}
	default:
		param := d.Search.PageParam
		if param == "" {
			param = "page"
		}
		q := u.Query()
		q.Set(param, strconv.Itoa(page))
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// IsListingLink reports whether href looks like a listing URL for this platform.
func (d *Definition) IsListingLink(href string) bool {
	if d.linkPattern == nil {
		return href != ""
	}
	return d.linkPattern.MatchString(href)
}

// ExternalIDFromURL extracts the platform's listing id from a listing URL.
func (d *Definition) ExternalIDFromURL(rawURL string) string {
	if d.externalIDPattern == nil {
		return ""
	}
	return firstGroup(d.externalIDPattern, rawURL)
}

// TotalResults reads the result count from page text using the total pattern.
func (d *Definition) TotalResults(text string) (int, bool) {
	if d.totalPattern == nil {
		return 0, false
	}
	return ParseCount(firstGroup(d.totalPattern, text))
}

// TotalPages reads the page count from page text using the total pages pattern.
func (d *Definition) TotalPages(text string) (int, bool) {
	if d.totalPagesPattern == nil {
		return 0, false
	}
	return ParseCount(firstGroup(d.totalPagesPattern, text))
}

// ScriptPatterns returns the compiled script patterns sorted by field.
func (d *Definition) ScriptPatterns() []FieldPattern {
	return d.scriptPatterns
}

// StateBlob returns the embedded JSON state captured from script text, if any.
func (d *Definition) StateBlob(text string) string {
	if d.stateBlobPattern == nil {
		return ""
	}
	return firstGroup(d.stateBlobPattern, text)
}

// UpgradeImage applies the first matching upgrade rule to an image URL.
func (d *Definition) UpgradeImage(imageURL string) string {
	for _, up := range d.imageUpgrades {
		if up.re.MatchString(imageURL) {
			return up.re.ReplaceAllString(imageURL, up.replace)
		}
	}
	return imageURL
}

// ImageKey returns a stable identifier for an image: the id embedded in the URL when the
// platform defines one, else the URL itself.
func (d *Definition) ImageKey(imageURL string) string {
	if d.imageIDPattern != nil {
		if id := firstGroup(d.imageIDPattern, imageURL); id != "" {
			return id
		}
	}
	return imageURL
}

// PropertyType maps a platform type id or label onto a canonical type.
func (d *Definition) PropertyType(raw string) string {
	return lookup(d.Listing.PropertyTypes, raw)
}

// OperationType maps a platform operation id or label onto a canonical operation type.
func (d *Definition) OperationType(raw string) string {
	return lookup(d.Listing.OperationTypes, raw)
}

func lookup(table map[string]string, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if v, ok := table[raw]; ok {
		return v
	}
	return table[strings.ToLower(raw)]
}

// Selectors returns the ordered selector list for a field.
func (d *Definition) Selectors(field string) []string {
	return d.Listing.Selectors[field]
}

// ParseCount reads an integer from text such as "954 propiedades" or "1,234".
func ParseCount(text string) (int, bool) {
	var b strings.Builder
	for _, r := range text {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
			continue
		}
		if r == ',' || r == '.' || unicode.IsSpace(r) {
			continue
		}
		if b.Len() > 0 {
			break
		}
	}
	if b.Len() == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(b.String())
	if err != nil {
		return 0, false
	}
	return n, true
}

func firstGroup(re *regexp.Regexp, text string) string {
	m := re.FindStringSubmatch(text)
	switch {
	case m == nil:
		return ""
	case len(m) > 1:
		return strings.TrimSpace(m[1])
	default:
		return strings.TrimSpace(m[0])
	}
}
