// Package extraction turns a fetched listing page into a normalized listing record and a
// quality report.
//
// Three layers are read in precedence order: embedded structured data, platform selectors
// over the markup and free-text mining of the title and description. A field resolved by
// an earlier layer is never overwritten by a later one. Numbers mined from free text are
// only compared against the chosen values.
package extraction

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	infralogger "github.com/jonesrussell/north-cloud/listings/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/listings/internal/domain"
	"github.com/jonesrussell/north-cloud/listings/internal/failure"
	"github.com/jonesrussell/north-cloud/listings/internal/platform"
)

const tracerName = "github.com/jonesrussell/north-cloud/listings/extraction"

// ErrPageNotLoaded is returned when a page carries no signal that listing content rendered.
var ErrPageNotLoaded = errors.New("listing page not loaded")

// Platforms resolves platform definitions by name.
type Platforms interface {
	Get(name string) (*platform.Definition, error)
}

// Result is the outcome of extracting one listing page.
type Result struct {
	Record  domain.ListingRecord
	Quality domain.QualityReport
	// LoadedSignal names what proved the page rendered, for example "json_ld".
	LoadedSignal string
}

// Engine extracts listing records. It is safe for concurrent use.
type Engine struct {
	platforms Platforms
	log       infralogger.Logger
	amenities *amenityMatcher
	tracer    trace.Tracer
}

// NewEngine creates an extraction engine.
func NewEngine(platforms Platforms, log infralogger.Logger) *Engine {
	return &Engine{
		platforms: platforms,
		log:       log,
		amenities: newAmenityMatcher(amenityKeywords),
		tracer:    otel.Tracer(tracerName),
	}
}

// Extract reads a fetched listing page. Missing optional fields never fail extraction;
// they are recorded in the quality report. A page with no loaded signal fails with
// ErrPageNotLoaded, classified as failure.KindNotLoaded.
func (e *Engine) Extract(ctx context.Context, platformName, pageURL string, body []byte) (*Result, error) {
	_, span := e.tracer.Start(ctx, "extraction.extract",
		trace.WithAttributes(
			attribute.String("platform", platformName),
			attribute.String("url", pageURL),
		),
	)
	defer span.End()

	res, err := e.extract(platformName, pageURL, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Float64("completeness", res.Quality.Completeness),
		attribute.Int("conflicts", len(res.Quality.Conflicts)),
	)
	return res, nil
}

func (e *Engine) extract(platformName, pageURL string, body []byte) (*Result, error) {
	def, err := e.platforms.Get(platformName)
	if err != nil {
		return nil, failure.Wrap(failure.KindInternal, err)
	}
	p, err := parsePage(pageURL, body)
	if err != nil {
		return nil, failure.Wrap(failure.KindInvalidData, err)
	}
	signal := p.loadedSignal(def)
	if signal == "" {
		return nil, failure.Wrap(failure.KindNotLoaded, fmt.Errorf("%w: %s", ErrPageNotLoaded, pageURL))
	}

	var warnings []string
	warn := func(format string, args ...any) {
		warnings = append(warnings, fmt.Sprintf(format, args...))
	}

	structured := e.structuredLayer(def, p, warn)
	markup := e.markupLayer(def, p, warn)

	m := newMerge(def, p)
	m.add(structured)
	m.add(markup)
	if _, ok := m.text[FieldDescription]; !ok {
		m.add(readabilityLayer(p, warn))
	}

	text, textAmenities := e.textLayer(m.text[FieldTitle], m.text[FieldDescription])
	record := m.record(e.amenities, textAmenities)

	quality := domain.QualityReport{Sources: m.sources}
	quality.Confirmed, quality.Conflicts = crossValidate(m.num, text.num)
	quality.FieldsFound, quality.FieldsMissing, quality.Completeness = completeness(&record)
	quality.Warnings = append(m.warnings, warnings...)
	if quality.Confirmed == nil {
		quality.Confirmed = []string{}
	}
	if quality.Conflicts == nil {
		quality.Conflicts = []domain.FieldConflict{}
	}
	if quality.Warnings == nil {
		quality.Warnings = []string{}
	}

	if len(quality.Warnings) > 0 {
		e.log.Debug("Extraction warnings",
			infralogger.Platform(platformName),
			infralogger.String("url", pageURL),
			infralogger.Strings("warnings", quality.Warnings),
		)
	}

	return &Result{Record: record, Quality: quality, LoadedSignal: signal}, nil
}
