package extract

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sparkling-owl/spin/internal/engine"
)

// transformResult carries one pipeline step's output. A warning degrades the
// field's confidence to 0.5; an error degrades it to 0 without aborting the
// rest of the record.
type transformResult struct {
	value   string
	warning string
}

// applyTransforms runs the pipeline in order. Transforms are pure: each step
// sees only the previous step's output.
func applyTransforms(value string, transforms []engine.Transform) (transformResult, error) {
	result := transformResult{value: value}
	for _, tr := range transforms {
		step, err := applyTransform(result.value, tr)
		if err != nil {
			return transformResult{}, fmt.Errorf("transform %s: %w", tr.Op, err)
		}
		result.value = step.value
		if step.warning != "" {
			result.warning = step.warning
		}
	}
	return result, nil
}

func applyTransform(value string, tr engine.Transform) (transformResult, error) {
	switch tr.Op {
	case engine.TransformTrim:
		return transformResult{value: strings.TrimSpace(value)}, nil
	case engine.TransformLower:
		return transformResult{value: strings.ToLower(value)}, nil
	case engine.TransformUpper:
		return transformResult{value: strings.ToUpper(value)}, nil
	case engine.TransformRegexReplace:
		return regexReplace(value, tr.Pattern, tr.Replace)
	case engine.TransformCast:
		return castValue(value, tr.Cast)
	case engine.TransformNormalizeUnit:
		return normalizeUnit(value, tr.Unit)
	default:
		return transformResult{}, fmt.Errorf("unknown op %q", tr.Op)
	}
}

func regexReplace(value, pattern, replace string) (transformResult, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return transformResult{}, fmt.Errorf("compile pattern: %w", err)
	}
	return transformResult{value: re.ReplaceAllString(value, replace)}, nil
}

func castValue(value string, target engine.FieldType) (transformResult, error) {
	switch target {
	case engine.FieldTypeString, "":
		return transformResult{value: value}, nil
	case engine.FieldTypeNumber:
		return castNumber(value)
	case engine.FieldTypeDate:
		return castDate(value)
	case engine.FieldTypeURL:
		return castURL(value)
	default:
		return transformResult{}, fmt.Errorf("unknown cast target %q", target)
	}
}

var numberCleaner = regexp.MustCompile(`[^\d.,\-+]`)

func castNumber(value string) (transformResult, error) {
	cleaned := numberCleaner.ReplaceAllString(value, "")
	warning := ""
	if cleaned != strings.TrimSpace(value) {
		warning = "number contained non-numeric characters"
	}
	if cleaned == "" {
		return transformResult{}, fmt.Errorf("no digits in %q", value)
	}

	// Decide whether comma is a decimal mark or a thousands separator.
	if strings.Count(cleaned, ",") == 1 && strings.Count(cleaned, ".") == 0 {
		cleaned = strings.Replace(cleaned, ",", ".", 1)
	} else {
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	}

	n, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return transformResult{}, fmt.Errorf("parse number %q: %w", value, err)
	}
	return transformResult{
		value:   strconv.FormatFloat(n, 'f', -1, 64),
		warning: warning,
	}, nil
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"2006-01-02 15:04:05",
	"02.01.2006",
	"Jan 2, 2006",
	"2 January 2006",
}

// ambiguousDateLayout matches slash dates where day and month cannot be told
// apart; these parse with a warning.
var ambiguousDateLayout = regexp.MustCompile(`^\d{1,2}/\d{1,2}/\d{4}$`)

func castDate(value string) (transformResult, error) {
	trimmed := strings.TrimSpace(value)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return transformResult{value: t.Format("2006-01-02")}, nil
		}
	}
	if ambiguousDateLayout.MatchString(trimmed) {
		if t, err := time.Parse("01/02/2006", trimmed); err == nil {
			return transformResult{
				value:   t.Format("2006-01-02"),
				warning: "ambiguous day/month order",
			}, nil
		}
	}
	return transformResult{}, fmt.Errorf("unparsable date %q", value)
}

func castURL(value string) (transformResult, error) {
	u, err := url.Parse(strings.TrimSpace(value))
	if err != nil {
		return transformResult{}, fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return transformResult{}, fmt.Errorf("url %q is not absolute", value)
	}
	return transformResult{value: u.String()}, nil
}

// unitFactors maps unit suffixes to a factor relative to the unit's base
// (grams for mass, meters for length).
var unitFactors = map[string]float64{
	"mg": 0.001, "g": 1, "kg": 1000, "t": 1e6,
	"mm": 0.001, "cm": 0.01, "m": 1, "km": 1000,
}

var unitValue = regexp.MustCompile(`^([\d.,\s]+)\s*([a-zA-Z]+)$`)

func normalizeUnit(value, target string) (transformResult, error) {
	targetFactor, ok := unitFactors[target]
	if !ok {
		return transformResult{}, fmt.Errorf("unknown target unit %q", target)
	}
	m := unitValue.FindStringSubmatch(strings.TrimSpace(value))
	if m == nil {
		return transformResult{}, fmt.Errorf("no unit suffix in %q", value)
	}
	sourceFactor, ok := unitFactors[strings.ToLower(m[2])]
	if !ok {
		return transformResult{}, fmt.Errorf("unknown source unit %q", m[2])
	}

	numRes, err := castNumber(m[1])
	if err != nil {
		return transformResult{}, err
	}
	n, err := strconv.ParseFloat(numRes.value, 64)
	if err != nil {
		return transformResult{}, fmt.Errorf("parse amount %q: %w", m[1], err)
	}

	converted := n * sourceFactor / targetFactor
	return transformResult{
		value:   strconv.FormatFloat(converted, 'f', -1, 64),
		warning: numRes.warning,
	}, nil
}
