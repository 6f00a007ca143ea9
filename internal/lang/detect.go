// Package lang detects the dominant natural language of short texts.
package lang

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/pemistahl/lingua-go"
)

const (
	// MinLength is the shortest normalized text, in characters, worth detecting.
	MinLength = 64
	// MaxLength caps the text handed to the backend.
	MaxLength = 4096
	// English is the code of the only language accepted in the curated index.
	English = "en"
)

var (
	htmlTagRegex    = regexp.MustCompile(`<[^<]+?>`)
	htmlEntityRegex = regexp.MustCompile(`&[^;]+;`)
)

// Backend is the subset of lingua.LanguageDetector used here.
type Backend interface {
	DetectLanguageOf(text string) (lingua.Language, bool)
}

// Detector returns lower-case ISO 639-1 codes, or "" when the language
// cannot be determined.
type Detector struct {
	backend Backend
}

// NewDetector wraps an existing backend.
func NewDetector(b Backend) *Detector {
	return &Detector{backend: b}
}

// NewLinguaDetector builds a detector over every language lingua knows.
// Low accuracy mode trades precision on very short texts for memory and speed.
func NewLinguaDetector(lowAccuracy bool) *Detector {
	b := lingua.NewLanguageDetectorBuilder().FromAllLanguages()
	if lowAccuracy {
		b = b.WithLowAccuracyMode()
	}
	return NewDetector(b.Build())
}

// Normalize strips HTML tags and entities and collapses whitespace.
func Normalize(text string) string {
	text = htmlTagRegex.ReplaceAllString(text, "")
	text = htmlEntityRegex.ReplaceAllString(text, "")
	return strings.Join(strings.Fields(text), " ")
}

// Detect classifies text. Texts shorter than MinLength after normalization
// are not sent to the backend.
func (d *Detector) Detect(text string) (code string) {
	text = Normalize(text)
	runes := []rune(text)
	if len(runes) < MinLength {
		return ""
	}
	if len(runes) > MaxLength {
		text = string(runes[:MaxLength])
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Debug("[lang]: detector failed", "panic", r)
			code = ""
		}
	}()

	language, ok := d.backend.DetectLanguageOf(text)
	if !ok || language == lingua.Unknown {
		return ""
	}
	return strings.ToLower(language.IsoCode639_1().String())
}
