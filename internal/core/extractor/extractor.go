// Package extractor finds credential-shaped strings in arbitrary text.
package extractor

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"

	"keyprobe/internal/shared/logger"
)

const (
	KeyPrefix  = "sk-"
	KeyBodyLen = 48
)

var keyPattern = regexp.MustCompile(`sk-[a-zA-Z0-9]{48}`)

// Source is one text buffer to scan, typically the raw contents of a file.
type Source struct {
	Name string
	Data []byte
}

// SourceError reports a source that could not be decoded. It never aborts
// extraction of the remaining sources.
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// Result is the complete outcome of one Extract call.
type Result struct {
	Keys   []string // deduplicated, degenerate keys removed, sorted
	Errors []*SourceError
}

// DetectFunc returns the charset name of raw bytes.
type DetectFunc func(data []byte) (string, error)

// Extractor scans sources for keys of the form "sk-" + 48 alphanumerics.
type Extractor struct {
	detect DetectFunc
}

// New returns an Extractor using chardet for encoding detection.
func New() *Extractor {
	return &Extractor{detect: DetectCharset}
}

// NewWithDetector returns an Extractor with a custom charset detector.
func NewWithDetector(detect DetectFunc) *Extractor {
	return &Extractor{detect: detect}
}

// DetectCharset guesses the charset of data. Valid UTF-8 is taken as is,
// everything else goes through chardet.
func DetectCharset(data []byte) (string, error) {
	if utf8.Valid(data) {
		return "UTF-8", nil
	}
	res, err := chardet.NewTextDetector().DetectBest(data)
	if err != nil {
		return "", err
	}
	return res.Charset, nil
}

// Extract scans every source and returns one complete, deduplicated key set.
func (e *Extractor) Extract(sources []Source) *Result {
	l := logger.WithComponent("Extractor")
	found := make(map[string]struct{})
	result := &Result{Keys: []string{}}

	for _, src := range sources {
		text, err := e.decode(src.Data)
		if err != nil {
			l.Warn().Err(err).Str("source", src.Name).Msg("Failed to decode source, skipping.")
			result.Errors = append(result.Errors, &SourceError{Source: src.Name, Err: err})
			continue
		}
		matches := keyPattern.FindAllString(text, -1)
		l.Debug().Str("source", src.Name).Int("matches", len(matches)).Msg("Source scanned.")
		for _, m := range matches {
			found[m] = struct{}{}
		}
	}

	var degenerate int
	for key := range found {
		if IsDegenerate(key) {
			degenerate++
			continue
		}
		result.Keys = append(result.Keys, key)
	}
	sort.Strings(result.Keys)

	l.Info().
		Int("sources", len(sources)).
		Int("keys", len(result.Keys)).
		Int("degenerate", degenerate).
		Int("failed_sources", len(result.Errors)).
		Msg("Extraction finished.")
	return result
}

func (e *Extractor) decode(data []byte) (string, error) {
	if len(data) == 0 {
		return "", nil
	}
	name, err := e.detect(data)
	if err != nil {
		return "", fmt.Errorf("encoding detection failed: %w", err)
	}
	enc, err := lookupEncoding(name)
	if err != nil {
		return "", err
	}
	decoded, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("decode as %s: %w", name, err)
	}
	return string(decoded), nil
}

func lookupEncoding(name string) (encoding.Encoding, error) {
	if strings.EqualFold(name, "UTF-8") {
		return encoding.Nop, nil
	}
	if enc, err := htmlindex.Get(name); err == nil {
		return enc, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil, fmt.Errorf("unsupported encoding %q: %w", name, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("unsupported encoding %q", name)
	}
	return enc, nil
}

// IsDegenerate reports whether the key body is a single character repeated,
// ignoring case. Such keys are placeholders.
func IsDegenerate(key string) bool {
	body := strings.ToLower(strings.TrimPrefix(key, KeyPrefix))
	if body == "" {
		return true
	}
	for i := 1; i < len(body); i++ {
		if body[i] != body[0] {
			return false
		}
	}
	return true
}

// ReadFiles loads files into sources. Unreadable files are reported the same
// way as undecodable ones.
func ReadFiles(paths []string) ([]Source, []*SourceError) {
	sources := make([]Source, 0, len(paths))
	var errs []*SourceError
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			errs = append(errs, &SourceError{Source: p, Err: err})
			continue
		}
		sources = append(sources, Source{Name: p, Data: data})
	}
	return sources, errs
}

// ErrNoSources is returned by callers that refuse an empty import.
var ErrNoSources = errors.New("no sources to extract from")
