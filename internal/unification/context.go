package unification

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jonesrussell/north-cloud/listings/internal/domain"
	"github.com/jonesrussell/north-cloud/listings/internal/reasoning"
)

const maxDescriptionChars = 4000

const enrichmentSystem = `You are a real-estate data analyst. You receive one property listing scraped from a
Mexican real-estate portal. Produce the canonical record for the property it describes: clean the title, write a
neutral description in Spanish from the listing text, keep every numeric attribute the listing states, and derive a
single-line geocoding address when the listing gives enough location detail. Never invent values that the listing
does not support; leave a field null instead. Report extraction conflicts you could not settle as discrepancies.
Rate overall data quality from 0 to 100. Answer only by calling the ` + reasoning.ToolName + ` tool.`

const mergeSystem = `You are a real-estate data analyst. You receive several listings, possibly from different
portals, that a matching step believes describe the same physical property. Produce one canonical record: for each
field choose the best supported value, preferring values confirmed by more listings, then structured data over
free text, then the most recently scraped listing. For every field you fill, name the listing id it came from in
field_sources. Every field on which listings disagree must appear in discrepancies with all observed values, the
value you chose and how you resolved it; leave chosen_value empty if you could not decide. Write a neutral
description in Spanish that combines the listings, and derive a single-line geocoding address when possible.
Never invent values; leave a field null instead. Rate overall data quality from 0 to 100. Answer only by calling
the ` + reasoning.ToolName + ` tool.`

// BuildRequest renders the group's listings into a reasoning request framed for the group size.
func BuildRequest(group *domain.ListingGroup, members []*domain.Listing, mode domain.UnificationMode) reasoning.Request {
	system := enrichmentSystem
	if mode == domain.UnificationModeMerge {
		system = mergeSystem
	}

	var b strings.Builder
	if mode == domain.UnificationModeMerge {
		fmt.Fprintf(&b, "Listing group %s: %d listings, match score %.0f.\n\n", group.ID, len(members), group.MatchScore)
	}
	for i, l := range members {
		fmt.Fprintf(&b, "## Listing %d (id: %s)\n", i+1, l.ID)
		writeListing(&b, l)
		b.WriteString("\n")
	}

	return reasoning.Request{
		GroupID: group.ID,
		Mode:    mode,
		System:  system,
		Prompt:  b.String(),
	}
}

func writeListing(b *strings.Builder, l *domain.Listing) {
	line := func(label, value string) {
		if value != "" {
			fmt.Fprintf(b, "- %s: %s\n", label, value)
		}
	}

	line("Platform", l.Platform)
	line("External id", l.ExternalID)
	line("URL", l.OriginalURL)
	line("Scraped", l.ScrapedAt.UTC().Format("2006-01-02"))
	line("Title", l.Title)
	line("Property type", l.PropertyType)
	for _, op := range l.Operations {
		line("Operation", fmt.Sprintf("%s %s %s", op.Type, strconv.FormatFloat(op.Price, 'f', -1, 64), op.Currency))
	}
	line("Bedrooms", intValue(l.Bedrooms))
	line("Bathrooms", intValue(l.Bathrooms))
	line("Half bathrooms", intValue(l.HalfBathrooms))
	line("Parking", intValue(l.Parking))
	line("Built size m2", floatValue(l.BuiltSizeM2))
	line("Lot size m2", floatValue(l.LotSizeM2))
	line("Location", locationText(l.Location))
	if l.Location.HasCoordinates() {
		line("Coordinates", fmt.Sprintf("%.6f, %.6f", *l.Location.Latitude, *l.Location.Longitude))
	}
	if len(l.Amenities) > 0 {
		line("Amenities", strings.Join(l.Amenities, ", "))
	}
	line("Publisher", l.Publisher.Name)

	q := l.DataQuality
	line("Completeness", fmt.Sprintf("%.0f%%", q.Completeness*100))
	if len(q.Confirmed) > 0 {
		line("Confirmed by text", strings.Join(q.Confirmed, ", "))
	}
	for _, c := range q.Conflicts {
		line("Extraction conflict", fmt.Sprintf("%s structured=%s text=%s",
			c.Field,
			strconv.FormatFloat(c.StructuredValue, 'f', -1, 64),
			strconv.FormatFloat(c.DescriptionValue, 'f', -1, 64),
		))
	}

	if desc := truncate(strings.TrimSpace(l.Description), maxDescriptionChars); desc != "" {
		fmt.Fprintf(b, "\nDescription:\n%s\n", desc)
	}
}

func locationText(loc domain.Location) string {
	parts := make([]string, 0, 5)
	for _, p := range []string{loc.Address, loc.Neighborhood, loc.City, loc.State, loc.PostalCode} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

func intValue(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func floatValue(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "…"
}
