package fetcher

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"changewatch/internal/domain/entity"
	"changewatch/internal/usecase/fetch"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"github.com/mmcdole/gofeed"
)

// Extractor reduces a response body to the content that gets hashed.
// Errors returned by Extract wrap fetch.ErrParse.
type Extractor interface {
	Extract(body []byte, pageURL *url.URL) (string, error)
}

// boilerplateSelector lists elements whose text never counts as content.
const boilerplateSelector = "script, style, noscript, nav, footer, header, aside, iframe, svg"

// NewExtractor returns the extractor for an entity extractor name.
func NewExtractor(name string) (Extractor, error) {
	kind, arg := entity.ParseExtractor(name)
	switch kind {
	case entity.ExtractorRaw:
		return rawExtractor{}, nil
	case entity.ExtractorText:
		return textExtractor{}, nil
	case entity.ExtractorArticle:
		return articleExtractor{}, nil
	case entity.ExtractorFeed:
		return feedExtractor{}, nil
	case entity.ExtractorSelector:
		if strings.TrimSpace(arg) == "" {
			return nil, fmt.Errorf("%w: empty selector", fetch.ErrParse)
		}
		return selectorExtractor{selector: arg}, nil
	}
	return nil, fmt.Errorf("%w: unknown extractor %q", fetch.ErrParse, name)
}

type rawExtractor struct{}

func (rawExtractor) Extract(body []byte, _ *url.URL) (string, error) {
	return string(body), nil
}

// textExtractor keeps visible text, dropping boilerplate elements, with
// whitespace collapsed so that markup-only edits do not count as changes.
type textExtractor struct{}

func (textExtractor) Extract(body []byte, _ *url.URL) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: parse HTML: %v", fetch.ErrParse, err)
	}
	doc.Find(boilerplateSelector).Remove()

	sel := doc.Find("body")
	if sel.Length() == 0 {
		sel = doc.Selection
	}
	return normalizeWhitespace(sel.Text()), nil
}

type articleExtractor struct{}

func (articleExtractor) Extract(body []byte, pageURL *url.URL) (string, error) {
	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err != nil {
		return "", fmt.Errorf("%w: readability: %v", fetch.ErrParse, err)
	}
	text := normalizeWhitespace(article.TextContent)
	if text == "" {
		return "", fmt.Errorf("%w: no readable content found", fetch.ErrParse)
	}
	if article.Title != "" {
		text = article.Title + "\n" + text
	}
	return text, nil
}

// feedExtractor renders one line per feed item. Feed-level fields such as
// lastBuildDate are ignored so that they alone never register as a change.
type feedExtractor struct{}

func (feedExtractor) Extract(body []byte, _ *url.URL) (string, error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: feed: %v", fetch.ErrParse, err)
	}

	var b strings.Builder
	for _, it := range feed.Items {
		id := it.GUID
		if id == "" {
			id = it.Link
		}
		stamp := it.Updated
		if stamp == "" {
			stamp = it.Published
		}
		content := it.Content
		if content == "" {
			content = it.Description
		}
		fmt.Fprintf(&b, "%s\t%s\t%s\t%s\t%s\n",
			id, normalizeWhitespace(it.Title), it.Link, stamp, normalizeWhitespace(content))
	}
	return b.String(), nil
}

type selectorExtractor struct {
	selector string
}

func (s selectorExtractor) Extract(body []byte, _ *url.URL) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: parse HTML: %v", fetch.ErrParse, err)
	}

	var parts []string
	doc.Find(s.selector).Each(func(_ int, el *goquery.Selection) {
		if t := normalizeWhitespace(el.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	if len(parts) == 0 {
		return "", fmt.Errorf("%w: selector %q matched nothing", fetch.ErrParse, s.selector)
	}
	return strings.Join(parts, "\n"), nil
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
