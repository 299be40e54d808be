package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

// Strategy names accepted by NewStrategy.
const (
	StrategyParagraphs  = "paragraphs"
	StrategyReadability = "readability"
)

// Strategy isolates article text from an HTML document.
type Strategy interface {
	Name() string
	Text(body []byte, pageURL *url.URL) (string, error)
}

// NewStrategy returns the named strategy.
func NewStrategy(name string) (Strategy, error) {
	switch name {
	case StrategyParagraphs:
		return Paragraphs{}, nil
	case StrategyReadability, "":
		return Readability{}, nil
	default:
		return nil, fmt.Errorf("unknown extraction strategy %q", name)
	}
}

// blockSelector lists the elements whose text stands apart from its neighbours.
const blockSelector = "p, h1, h2, h3, h4, h5, h6, li, blockquote"

// Paragraphs joins the text of every <p> element with single spaces.
type Paragraphs struct{}

// Name implements Strategy.
func (Paragraphs) Name() string { return StrategyParagraphs }

// Text implements Strategy.
func (Paragraphs) Text(body []byte, _ *url.URL) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	return joinBlocks(doc.Selection, "p"), nil
}

// joinBlocks joins the text of each element matching selector with single spaces.
// Elements that contain another match are skipped so nested text is emitted once.
func joinBlocks(root *goquery.Selection, selector string) string {
	var parts []string
	root.Find(selector).Each(func(_ int, s *goquery.Selection) {
		if s.Find(selector).Length() > 0 {
			return
		}
		if text := collapseSpace(s.Text()); text != "" {
			parts = append(parts, text)
		}
	})
	return strings.Join(parts, " ")
}

// Readability scores the DOM for the main content block, falling back to Paragraphs when it finds nothing.
type Readability struct{}

// Name implements Strategy.
func (Readability) Name() string { return StrategyReadability }

// Text implements Strategy.
func (Readability) Text(body []byte, pageURL *url.URL) (string, error) {
	if pageURL == nil {
		pageURL = &url.URL{}
	}
	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err == nil {
		if text := articleText(article); text != "" {
			return text, nil
		}
	}
	text, perr := Paragraphs{}.Text(body, pageURL)
	if perr != nil {
		if err != nil {
			return "", fmt.Errorf("readability: %w", err)
		}
		return "", perr
	}
	return text, nil
}

// articleText reads the block elements of the extracted content so adjacent
// headings and paragraphs stay separated even in minified markup.
func articleText(article readability.Article) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(article.Content))
	if err == nil {
		if text := joinBlocks(doc.Selection, blockSelector); text != "" {
			return text
		}
	}
	return collapseSpace(article.TextContent)
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
