// Package wikipedia implements the Wikipedia episode-title provider
// (spec.md §4.4): fetches "List of <series> episodes"-style candidate
// pages, locates the section for a season, parses the first table in that
// section, and extracts the episode-title cell. Parsing uses
// golang.org/x/net/html (carried from ManuGH-xg2g, which already depends on
// golang.org/x/net) instead of a regex scraper - HTML tables are not
// regular and the teacher's repo has no scraping precedent to ground on.
package wikipedia

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/vmunix/arrgo-renamer/internal/model"
	"github.com/vmunix/arrgo-renamer/internal/providers"
	"github.com/vmunix/arrgo-renamer/internal/ratehttp"
)

const (
	host          = "en.wikipedia.org"
	cacheTTL      = 30 * 24 * time.Hour
	revalidateAge = 7 * 24 * time.Hour
)

// CacheEntry mirrors model.WikiEpisodeCacheEntry for this package's own
// revalidation bookkeeping; the resolver is responsible for persisting it
// via internal/store.
type CacheEntry struct {
	SeriesTitle    string
	MaxEpisodeSeen int
	FetchedAt      time.Time
	Episodes       map[int]map[int]string // season -> episode -> title
}

// Fresh reports whether e is within its TTL and does not need revalidation.
func (e *CacheEntry) Fresh(now time.Time) bool {
	if e == nil {
		return false
	}
	age := now.Sub(e.FetchedAt)
	return age < cacheTTL && age < revalidateAge
}

// NeedsRevalidation reports whether e is past its soft window but still
// within the hard TTL (spec.md §4.4: "7-day revalidation window").
func (e *CacheEntry) NeedsRevalidation(now time.Time) bool {
	if e == nil {
		return true
	}
	age := now.Sub(e.FetchedAt)
	return age >= revalidateAge && age < cacheTTL
}

type Client struct {
	http *ratehttp.Client
}

func New(http *ratehttp.Client) *Client {
	return &Client{http: http}
}

func (c *Client) ID() model.ProviderID { return model.ProviderWikipedia }

// SearchSeries is a no-op for Wikipedia: the resolver only calls into this
// adapter for episode-title fallback once the series is already fixed by
// another provider, never to discover the series itself (spec.md §4.5's
// fallback chain lists Wikipedia only among the episode-title steps).
func (c *Client) SearchSeries(ctx context.Context, query string, opts providers.SearchOpts) (*providers.SeriesCandidate, error) {
	return nil, nil
}

func (c *Client) FetchByID(ctx context.Context, id string, opts providers.FetchOpts) (*providers.SeriesCandidate, error) {
	return nil, nil
}

var pageCandidateFormats = []string{
	"List of %s episodes",
	"%s (TV series)",
}

// FetchEpisode fetches candidate pages for seriesRef, locates the episode's
// season section and table, and returns the title cell adjacent to the
// episode-number cell.
func (c *Client) FetchEpisode(ctx context.Context, seriesRef string, season, episode int, opts providers.FetchOpts) (*providers.EpisodeHit, error) {
	for _, format := range pageCandidateFormats {
		pageTitle := fmt.Sprintf(format, seriesRef)
		doc, err := c.fetchPage(ctx, pageTitle)
		if err != nil {
			continue
		}
		title, maxEpisode := extractEpisodeTitle(doc, season, episode)
		if title == "" {
			if maxEpisode >= episode {
				continue
			}
			continue
		}
		if providers.IsPlaceholderTitle(title) {
			continue
		}
		if providers.IsNonLatinOnly(title) {
			continue
		}
		return &providers.EpisodeHit{Title: title}, nil
	}
	return nil, nil
}

func (c *Client) fetchPage(ctx context.Context, pageTitle string) (*html.Node, error) {
	u := fmt.Sprintf("https://en.wikipedia.org/wiki/%s", url.PathEscape(strings.ReplaceAll(pageTitle, " ", "_")))
	resp, err := c.http.Request(ctx, host, http.MethodGet, u, nil, nil, 0)
	if err != nil {
		return nil, err
	}
	if resp.Status != http.StatusOK {
		return nil, fmt.Errorf("wikipedia page %q: status %d", pageTitle, resp.Status)
	}
	return html.Parse(strings.NewReader(string(resp.Body)))
}

var seasonHeadingRegex = regexp.MustCompile(`(?i)^season\s+(\d+)$`)

// extractEpisodeTitle walks the parsed document looking for the heading
// matching "Season N" (or "Specials" for season 0), then the first table
// following it, extracting the cell adjacent to the matching episode-number
// cell. Returns the highest episode number observed in that table so the
// caller and the revalidation logic can detect stale caches.
func extractEpisodeTitle(doc *html.Node, season, episode int) (string, int) {
	type marker struct {
		isHeading bool
		isTable   bool
		node      *html.Node
	}
	var order []marker
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "h2", "h3":
				order = append(order, marker{isHeading: true, node: n})
			case "table":
				order = append(order, marker{isTable: true, node: n})
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)

	wantHeading := fmt.Sprintf("Season %d", season)
	if season == 0 {
		wantHeading = "Specials"
	}

	var targetTable *html.Node
	var firstTable *html.Node
	seenHeading := false
	for _, m := range order {
		if m.isTable {
			if firstTable == nil {
				firstTable = m.node
			}
			if seenHeading && targetTable == nil {
				targetTable = m.node
			}
			continue
		}
		text := strings.TrimSpace(textContent(m.node))
		if strings.EqualFold(text, wantHeading) || seasonHeadingMatches(text, season) {
			seenHeading = true
		} else if seenHeading && targetTable == nil {
			// A different heading arrived before any table did; this
			// section had no table, keep looking for this season later
			// in the document (multi-part season pages).
			seenHeading = false
		}
	}
	if targetTable == nil {
		targetTable = firstTable
	}
	if targetTable == nil {
		return "", 0
	}

	title, maxEp := scanTableForEpisode(targetTable, episode)
	return title, maxEp
}

func seasonHeadingMatches(text string, season int) bool {
	m := seasonHeadingRegex.FindStringSubmatch(text)
	if m == nil {
		return false
	}
	n, err := strconv.Atoi(m[1])
	return err == nil && n == season
}

func scanTableForEpisode(table *html.Node, episode int) (string, int) {
	var rows []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "tr" {
			rows = append(rows, n)
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(table)

	maxEp := 0
	title := ""
	for _, row := range rows {
		cells := cellsOf(row)
		if len(cells) < 2 {
			continue
		}
		epNum, ok := parseLeadingInt(textContent(cells[0]))
		if !ok {
			continue
		}
		if epNum > maxEp {
			maxEp = epNum
		}
		if epNum == episode {
			title = pickTitleCell(cells)
		}
	}
	return title, maxEp
}

func cellsOf(row *html.Node) []*html.Node {
	var cells []*html.Node
	for child := row.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == html.ElementNode && (child.Data == "td" || child.Data == "th") {
			cells = append(cells, child)
		}
	}
	return cells
}

// pickTitleCell prefers a cell tagged class="summary", else the second
// cell, else quoted English text within it (spec.md §4.4).
func pickTitleCell(cells []*html.Node) string {
	for _, cell := range cells {
		if hasClass(cell, "summary") {
			return extractQuoted(textContent(cell))
		}
	}
	if len(cells) > 1 {
		return extractQuoted(textContent(cells[1]))
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, attr := range n.Attr {
		if attr.Key == "class" && strings.Contains(attr.Val, class) {
			return true
		}
	}
	return false
}

var quotedRegex = regexp.MustCompile(`"([^"]+)"`)

func extractQuoted(s string) string {
	s = strings.TrimSpace(s)
	if m := quotedRegex.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return s
}

func parseLeadingInt(s string) (int, bool) {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	return n, err == nil
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return sb.String()
}
