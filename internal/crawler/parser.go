package crawler

import (
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"github.com/nao1215/tricrawl/internal/config"
	"github.com/nao1215/tricrawl/internal/model"
)

const (
	// unknownAuthor is used when neither the selector nor the site names one.
	unknownAuthor = "Unknown"

	// maxDetailContent bounds the post body taken from a detail page, in
	// runes. Long dumps pasted into a post are not useful for matching.
	maxDetailContent = 5000
)

// timestampLayouts are tried in order on timestamp text. phpBB and XenForo
// boards print the last one.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"Jan 2, 2006",
	"02 Jan 2006",
	"Mon Jan 2, 2006 3:04 pm",
}

// Parser turns a listing page into items using a site's selectors.
type Parser struct {
	site config.SiteConfig
	now  func() time.Time
}

// NewParser creates a parser for site. now supplies the fallback timestamp.
func NewParser(site config.SiteConfig, now func() time.Time) *Parser {
	if now == nil {
		now = time.Now
	}
	return &Parser{site: site, now: now}
}

// Row is one parsed listing row.
type Row struct {
	Item *model.Item

	// Sticky is set for pinned rows.
	Sticky bool

	// Dated is set when the timestamp was read from the page rather than
	// taken from the clock.
	Dated bool
}

// Parse extracts the items of one listing page and the absolute URL of the
// next page, or "" when there is none. Rows without a title are skipped.
func (p *Parser) Parse(doc *goquery.Document, pageURL *url.URL) ([]*model.Item, string) {
	rows, next := p.ParseRows(doc, pageURL)
	items := make([]*model.Item, 0, len(rows))
	for _, r := range rows {
		items = append(items, r.Item)
	}
	return items, next
}

// ParseRows is Parse with the row flags the spider needs for the age limit.
func (p *Parser) ParseRows(doc *goquery.Document, pageURL *url.URL) ([]Row, string) {
	sel := p.site.Selectors
	rows := make([]Row, 0)

	doc.Find(sel.Item).Each(func(_ int, row *goquery.Selection) {
		if r, ok := p.parseRow(row, pageURL); ok {
			rows = append(rows, r)
		}
	})

	next := ""
	if sel.NextPage != "" {
		if href, ok := doc.Find(sel.NextPage).First().Attr("href"); ok {
			next = resolve(pageURL, href)
		}
	}
	return rows, next
}

func (p *Parser) parseRow(row *goquery.Selection, pageURL *url.URL) (Row, bool) {
	sel := p.site.Selectors

	titleSel := row.Find(sel.Title).First()
	title := collapse(titleSel.Text())
	if title == "" {
		return Row{}, false
	}

	ts, dated := p.timestamp(row)
	item := &model.Item{
		Source:    p.site.Name,
		URL:       p.link(row, titleSel, pageURL),
		Title:     title,
		Author:    firstNonEmpty(text(row, sel.Author), p.site.Author, unknownAuthor),
		Timestamp: ts,
		Content:   text(row, sel.Content),
		Category:  firstNonEmpty(text(row, sel.Category), p.site.Category),
		SiteType:  p.site.SiteType,
	}
	if views, ok := parseViews(text(row, sel.Views)); ok {
		item.Views = &views
	}

	sticky := sel.Sticky != "" && (row.Is(sel.Sticky) || row.Find(sel.Sticky).Length() > 0)
	return Row{Item: item, Sticky: sticky, Dated: dated}, true
}

// ParseDetail fills item from its post page. The post body replaces the
// listing excerpt. The author is only taken when the listing had none,
// and the title only when the listing shortened it.
func (p *Parser) ParseDetail(doc *goquery.Document, item *model.Item) {
	sel := p.site.Detail

	body := doc.Find(sel.Content).First()
	if content := postText(body); content != "" {
		item.Content = content
	}
	if title := docText(doc, sel.Title); title != "" && truncatedTitle(item.Title) {
		item.Title = title
	}
	if author := docText(doc, sel.Author); author != "" && item.Author == unknownAuthor {
		item.Author = author
	}
	if category := docText(doc, sel.Category); category != "" {
		item.Category = category
	}
}

// postText returns the text of a post body, one line per block, followed by
// the Telegram links it contains. Hidden-content forums often show only the
// links to non-members.
func postText(body *goquery.Selection) string {
	if body.Length() == 0 {
		return ""
	}

	var lines []string
	for _, line := range strings.Split(body.Text(), "\n") {
		if line = collapse(line); line != "" {
			lines = append(lines, line)
		}
	}
	body.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href := a.AttrOr("href", "")
		if strings.Contains(href, "t.me/") || strings.Contains(href, "telegram") {
			lines = append(lines, href)
		}
	})

	content := strings.Join(lines, "\n")
	if r := []rune(content); len(r) > maxDetailContent {
		content = string(r[:maxDetailContent])
	}
	return content
}

// truncatedTitle reports whether a listing shortened the title.
func truncatedTitle(title string) bool {
	return strings.HasSuffix(title, "...") || strings.HasSuffix(title, "…")
}

func docText(doc *goquery.Document, selector string) string {
	if selector == "" {
		return ""
	}
	return collapse(doc.Find(selector).First().Text())
}

// link resolves the item URL from the link selector, then the title
// element or its enclosing anchor, then the listing page itself.
func (p *Parser) link(row, title *goquery.Selection, pageURL *url.URL) string {
	candidates := []*goquery.Selection{title, title.Closest("a"), title.Find("a").First()}
	if p.site.Selectors.Link != "" {
		candidates = append([]*goquery.Selection{row.Find(p.site.Selectors.Link).First()}, candidates...)
	}
	for _, c := range candidates {
		if href, ok := c.Attr("href"); ok && strings.TrimSpace(href) != "" {
			if abs := resolve(pageURL, href); abs != "" {
				return abs
			}
		}
	}
	return pageURL.String()
}

// timestamp reads the datetime attribute, then the title attribute, then
// the element text. Anything unparsable falls back to the current time and
// reports false.
func (p *Parser) timestamp(row *goquery.Selection) (string, bool) {
	if sel := p.site.Selectors.Timestamp; sel != "" {
		el := row.Find(sel).First()
		candidates := []string{el.AttrOr("datetime", ""), el.AttrOr("title", ""), collapse(el.Text())}
		for _, c := range candidates {
			if t, ok := parseTimestamp(c); ok {
				return t.UTC().Format(time.RFC3339), true
			}
		}
	}
	return p.now().UTC().Format(time.RFC3339), false
}

func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// parseViews reads counters such as "1,234", "987 Views" or "2.5K".
func parseViews(s string) (int, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, false
	}

	end := strings.IndexFunc(s, func(r rune) bool {
		return !unicode.IsDigit(r) && r != ',' && r != '.'
	})
	num, suffix := s, ""
	if end >= 0 {
		num, suffix = s[:end], strings.TrimSpace(s[end:])
	}
	num = strings.ReplaceAll(num, ",", "")
	if num == "" {
		return 0, false
	}

	f, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, false
	}
	switch {
	case strings.HasPrefix(suffix, "K"):
		f *= 1_000
	case strings.HasPrefix(suffix, "M"):
		f *= 1_000_000
	}
	return int(f), true
}

func text(row *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return collapse(row.Find(selector).First().Text())
}

// collapse trims s and folds internal whitespace runs into one space.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// resolve returns href as an absolute http(s) URL relative to base, or ""
// for javascript:, mailto: and malformed links.
func resolve(base *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	abs.Fragment = ""
	return abs.String()
}
