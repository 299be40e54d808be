// Package detector decides when an article page needs a browser render.
package detector

import (
	"bytes"
	"strings"

	"github.com/JakeFAU/topic-digest/internal/digest"
)

const defaultBodyThreshold = 2048

// Heuristic flags pages whose static HTML yielded too little text and looks script-rendered.
type Heuristic struct {
	// BodyLengthThreshold is the body size below which script density is checked.
	BodyLengthThreshold int
	// MinTextChars is the amount of extracted text that makes a render pointless.
	MinTextChars int
}

// NewHeuristic creates a new detector.
func NewHeuristic(threshold, minTextChars int) *Heuristic {
	if threshold <= 0 {
		threshold = defaultBodyThreshold
	}
	return &Heuristic{BodyLengthThreshold: threshold, MinTextChars: minTextChars}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("__nuxt"),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
	[]byte("enable javascript"),
}

// ShouldPromote decides whether a headless fetch is worth trying for the probe.
func (h *Heuristic) ShouldPromote(probe digest.FetchResponse, extractedChars int) bool {
	if probe.StatusCode < 200 || probe.StatusCode > 299 {
		return false
	}
	if h.MinTextChars > 0 && extractedChars >= h.MinTextChars {
		return false
	}
	body := probe.Body
	if len(body) == 0 {
		return true
	}
	if len(body) < h.BodyLengthThreshold && scriptDensityHigh(body) {
		return true
	}
	lower := bytes.ToLower(body)
	for _, marker := range spaMarkers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// scriptDensityHigh reports whether script elements cover at least a quarter of the document.
func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	scriptCoverage := 0
	searchPos := 0

	for {
		relativeStart := strings.Index(lower[searchPos:], openTag)
		if relativeStart == -1 {
			break
		}
		start := searchPos + relativeStart

		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			// Unterminated tag: the remainder counts as script.
			scriptCoverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		relativeEnd := strings.Index(lower[contentStart:], closeTag)
		nextSearch := total
		if relativeEnd != -1 {
			nextSearch = contentStart + relativeEnd + len(closeTag)
		}

		scriptCoverage += nextSearch - start
		searchPos = nextSearch
	}

	return scriptCoverage > 0 && scriptCoverage*100/total >= 25
}
