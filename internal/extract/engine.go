// Package extract applies declarative templates to fetched documents and
// produces records with per-field confidence scores.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/sparkling-owl/spin/internal/engine"
)

// Per-field confidence levels. Matched and clean is 1.0, matched with a
// transform warning is 0.5, unmatched or failed is 0.
const (
	confidenceClean   = 1.0
	confidenceWarning = 0.5
	confidenceFailed  = 0.0
)

// Weight of optional fields in the record-level quality mean.
const optionalFieldWeight = 0.3

// Extraction is the outcome of applying a template to one document.
type Extraction struct {
	Fields          map[string]string
	Confidences     map[string]float64
	Quality         float64
	MissingRequired []string
	Warnings        []string
}

// Engine extracts structured records from HTML documents.
type Engine struct {
	logger *zap.Logger
}

// NewEngine constructs an Engine.
func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger}
}

// Extract applies every field spec to the document. Partial extraction is
// the default policy: per-field failures degrade confidence, they never
// abort the record.
func (e *Engine) Extract(body []byte, tmpl engine.Template) (Extraction, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Extraction{}, fmt.Errorf("parse document: %w", err)
	}

	out := Extraction{
		Fields:      make(map[string]string, len(tmpl.Fields)),
		Confidences: make(map[string]float64, len(tmpl.Fields)),
	}

	var weightSum, qualitySum float64
	for _, field := range tmpl.Fields {
		value, confidence, warning := e.extractField(doc, field)
		out.Confidences[field.Name] = confidence
		if confidence > confidenceFailed {
			out.Fields[field.Name] = value
		} else if field.Required {
			out.MissingRequired = append(out.MissingRequired, field.Name)
		}
		if warning != "" {
			out.Warnings = append(out.Warnings, fmt.Sprintf("%s: %s", field.Name, warning))
		}

		weight := optionalFieldWeight
		if field.Required {
			weight = 1.0
		}
		weightSum += weight
		qualitySum += weight * confidence
	}

	if weightSum > 0 {
		out.Quality = clamp01(qualitySum / weightSum)
	}
	return out, nil
}

func (e *Engine) extractField(doc *goquery.Document, field engine.FieldSpec) (string, float64, string) {
	sel := doc.Find(field.Selector).First()
	if sel.Length() == 0 {
		return "", confidenceFailed, ""
	}

	var raw string
	if field.Attr != "" {
		var ok bool
		raw, ok = sel.Attr(field.Attr)
		if !ok {
			return "", confidenceFailed, ""
		}
	} else {
		raw = strings.TrimSpace(sel.Text())
	}

	result, err := applyTransforms(raw, field.Transforms)
	if err != nil {
		e.logger.Debug("field transform failed",
			zap.String("field", field.Name),
			zap.Error(err),
		)
		return "", confidenceFailed, err.Error()
	}
	if result.warning != "" {
		return result.value, confidenceWarning, result.warning
	}
	return result.value, confidenceClean, ""
}

// DiscoverLinks collects absolute HTTP(S) links matched by the selector,
// resolved against the document's base URL.
func (e *Engine) DiscoverLinks(body []byte, baseURL, selector string) ([]string, error) {
	if selector == "" {
		selector = "a[href]"
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	var links []string
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		resolved := base.ResolveReference(ref)
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}
		links = append(links, resolved.String())
	})
	return links, nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
