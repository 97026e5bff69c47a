// Package extract pulls the readable body and a lead image out of an article page.
package extract

import (
	"fmt"
	"io"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// minParagraphLen is the rune count a <p> needs to count as body text.
// Shorter paragraphs (bylines, captions, share prompts) end the current block.
const minParagraphLen = 50

// Result is the extracted article content.
type Result struct {
	Text     string
	ImageURL string
}

// Extractor finds the main text block and the illustrative image of a page.
type Extractor struct {
	imageSelectors []string
}

// New creates an Extractor. Without selectors, the lead-figure and og:image
// conventions are tried in that order.
func New(imageSelectors ...string) *Extractor {
	if len(imageSelectors) == 0 {
		imageSelectors = []string{
			"figure.article__lead__image img[src]",
			`meta[property="og:image"]`,
			`meta[name="twitter:image"]`,
		}
	}
	return &Extractor{imageSelectors: imageSelectors}
}

// Extract parses the HTML document in r. pageURL is used to resolve relative
// image references and may be empty.
func (e *Extractor) Extract(r io.Reader, pageURL string) (Result, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return Result{}, fmt.Errorf("parse html: %w", err)
	}

	doc.Find("script, style, noscript").Remove()

	return Result{
		Text:     largestTextBlock(doc),
		ImageURL: e.image(doc, pageURL),
	}, nil
}

// largestTextBlock returns the longest run of consecutive long paragraphs,
// one paragraph per line.
func largestTextBlock(doc *goquery.Document) string {
	var largest, current []string
	var largestLen, currentLen int

	flush := func() {
		if currentLen > largestLen {
			largest, largestLen = current, currentLen
		}
		current, currentLen = nil, 0
	}

	doc.Find("p").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if utf8.RuneCountInString(text) <= minParagraphLen {
			flush()
			return
		}
		current = append(current, text)
		currentLen += len(text) + 1
	})
	flush()

	return strings.Join(largest, "\n")
}

func (e *Extractor) image(doc *goquery.Document, pageURL string) string {
	for _, sel := range e.imageSelectors {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		attr := "src"
		if goquery.NodeName(node) == "meta" {
			attr = "content"
		}
		if v := strings.TrimSpace(node.AttrOr(attr, "")); v != "" {
			return resolve(pageURL, v)
		}
	}
	return ""
}

func resolve(base, ref string) string {
	refURL, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if refURL.IsAbs() {
		return refURL.String()
	}
	baseURL, err := url.Parse(base)
	if err != nil || !baseURL.IsAbs() {
		return ""
	}
	return baseURL.ResolveReference(refURL).String()
}

// StripTags returns the text content of an HTML fragment such as an RSS
// description, with whitespace collapsed.
func StripTags(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return strings.Join(strings.Fields(fragment), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.Join(strings.Fields(fragment), " ")
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
