// Package anilist implements the AniList provider adapter (spec.md §4.4,
// §4.5's "hardest bit"). AniList has no GraphQL client anywhere in the
// retrieval pack, so this is a small hand-rolled POST-with-JSON-body client
// (grounded on the teacher's pkg/tvdb JWT client's request/response shape,
// generalized from REST to a single GraphQL endpoint), paced through
// internal/ratehttp and scored with github.com/hbollon/go-edlib - a
// dependency the teacher declares in go.mod but never imports.
package anilist

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/hbollon/go-edlib"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/vmunix/arrgo-renamer/internal/model"
	"github.com/vmunix/arrgo-renamer/internal/providers"
	"github.com/vmunix/arrgo-renamer/internal/ratehttp"
)

var titleCaser = cases.Title(language.English)

const endpoint = "https://graphql.anilist.co"

const searchQuery = `
query ($search: String, $isAdult: Boolean) {
  Page(page: 1, perPage: 10) {
    media(search: $search, type: ANIME, isAdult: $isAdult) {
      id
      format
      startDate { year }
      seasonYear
      nextAiringEpisode { episode }
      title { english romaji native }
      relations {
        edges {
          relationType
          node { id title { english romaji } format }
        }
      }
    }
  }
}`

type Client struct {
	http *ratehttp.Client
}

func New(http *ratehttp.Client) *Client {
	return &Client{http: http}
}

func (c *Client) ID() model.ProviderID { return model.ProviderAniList }

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type mediaTitle struct {
	English string `json:"english"`
	Romaji  string `json:"romaji"`
	Native  string `json:"native"`
}

type mediaRelationNode struct {
	ID     int        `json:"id"`
	Title  mediaTitle `json:"title"`
	Format string     `json:"format"`
}

type mediaRelationEdge struct {
	RelationType string            `json:"relationType"`
	Node         mediaRelationNode `json:"node"`
}

type media struct {
	ID                int    `json:"id"`
	Format            string `json:"format"`
	StartDate         struct {
		Year int `json:"year"`
	} `json:"startDate"`
	SeasonYear        int        `json:"seasonYear"`
	NextAiringEpisode *struct {
		Episode int `json:"episode"`
	} `json:"nextAiringEpisode"`
	Title     mediaTitle          `json:"title"`
	Relations struct {
		Edges []mediaRelationEdge `json:"edges"`
	} `json:"relations"`
}

type searchResponse struct {
	Data struct {
		Page struct {
			Media []media `json:"media"`
		} `json:"Page"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (c *Client) query(ctx context.Context, search string) ([]media, error) {
	body := gqlRequest{
		Query:     searchQuery,
		Variables: map[string]any{"search": search, "isAdult": false},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal anilist query: %w", err)
	}

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	resp, err := c.http.Request(ctx, "graphql.anilist.co", http.MethodPost, endpoint, headers, strings.NewReader(string(payload)), 0)
	if err != nil {
		return nil, err
	}
	if resp.Status != http.StatusOK {
		return nil, fmt.Errorf("anilist query failed: status %d", resp.Status)
	}
	var parsed searchResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, fmt.Errorf("decode anilist response: %w", err)
	}
	if len(parsed.Errors) > 0 {
		return nil, fmt.Errorf("anilist error: %s", parsed.Errors[0].Message)
	}
	return parsed.Data.Page.Media, nil
}

// seasonSuffixRegex matches trailing season-indicating suffixes to strip
// from canonical series names (spec.md §4.5 point 4).
var seasonSuffixRegex = regexp.MustCompile(`(?i)\s*[:\-]?\s*(\(?\s*season\s+\d+\s*\)?|\d+(st|nd|rd|th)\s+season|(second|third|fourth|fifth)\s+season|\bS0*\d{1,2}\b)\s*$`)

// StripSeasonSuffix removes a trailing season-suffix fragment, used by the
// enrichment normalizer (C10) as well as here.
func StripSeasonSuffix(title string) string {
	return strings.TrimSpace(seasonSuffixRegex.ReplaceAllString(title, ""))
}

var seasonNumRegex = regexp.MustCompile(`(?i)season\s+(\d+)|(\d+)(?:st|nd|rd|th)\s+season|\bS0*(\d{1,2})\b`)
var ordinalWords = map[string]int{"second": 2, "third": 3, "fourth": 4, "fifth": 5, "sixth": 6}

// detectSeasonNumber parses ordinal or numeric season tokens out of a title
// (spec.md §4.5: "inferring a season number by parsing ordinal or numeric
// tokens in the child title").
func detectSeasonNumber(title string) *int {
	lower := strings.ToLower(title)
	for word, n := range ordinalWords {
		if strings.Contains(lower, word+" season") {
			v := n
			return &v
		}
	}
	if m := seasonNumRegex.FindStringSubmatch(title); m != nil {
		for _, g := range m[1:] {
			if g != "" {
				if n, err := strconv.Atoi(g); err == nil {
					return &n
				}
			}
		}
	}
	return nil
}

// wordOverlapScore blends three similarities of query and candidate: a word
// score of 0.75*recall + 0.25*precision over case-folded word sets (weight
// 0.7), go-edlib's Jaccard similarity (weight 0.2) and its Jaro-Winkler
// similarity (weight 0.1). The acceptance thresholds in SearchSeries are
// compared against this blended value, not against the bare word score.
func wordOverlapScore(query, candidate string) float64 {
	qWords := wordSet(query)
	cWords := wordSet(candidate)
	if len(qWords) == 0 || len(cWords) == 0 {
		return 0
	}
	overlap := 0
	for w := range qWords {
		if cWords[w] {
			overlap++
		}
	}
	recall := float64(overlap) / float64(len(qWords))
	precision := float64(overlap) / float64(len(cWords))
	wordScore := 0.75*recall + 0.25*precision

	jaccard, err := edlib.StringsSimilarity(strings.ToLower(query), strings.ToLower(candidate), edlib.Jaccard)
	if err != nil {
		jaccard = 0
	}
	jw, err := edlib.StringsSimilarity(strings.ToLower(query), strings.ToLower(candidate), edlib.JaroWinkler)
	if err != nil {
		jw = 0
	}

	return 0.7*wordScore + 0.2*float64(jaccard) + 0.1*float64(jw)
}

func wordSet(s string) map[string]bool {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,:;!?'\"()[]")
		if f != "" {
			set[f] = true
		}
	}
	return set
}

func bestTitle(t mediaTitle) string {
	switch {
	case t.English != "":
		return t.English
	case t.Romaji != "":
		return t.Romaji
	default:
		return t.Native
	}
}

// resolveTitle implements spec.md §4.5 point 4's title-resolution rule.
func resolveTitle(t mediaTitle) string {
	english := t.English
	if english == "" {
		if t.Romaji != "" {
			return t.Romaji
		}
		return t.Native
	}
	if english == strings.ToUpper(english) && english != strings.ToLower(english) {
		if t.Romaji != "" && strings.EqualFold(t.Romaji, english) {
			return t.Romaji
		}
		return titleCaser.String(strings.ToLower(english))
	}
	return english
}

func isSpecialsFormat(format string) bool {
	return strings.EqualFold(format, "SPECIAL") || strings.EqualFold(format, "MUSIC")
}

// SearchSeries implements spec.md §4.5's AniList candidate selection.
func (c *Client) SearchSeries(ctx context.Context, query string, opts providers.SearchOpts) (*providers.SeriesCandidate, error) {
	variants := []string{query}
	if opts.Season != nil {
		variants = append(variants,
			fmt.Sprintf("%s Season %d", query, *opts.Season),
			fmt.Sprintf("%s (Season %d)", query, *opts.Season),
		)
	}

	minScore := 0.2
	if opts.ParentFolder {
		minScore = 0.35
	}

	var best media
	var bestScore float64 = -1
	found := false

	for _, variant := range variants {
		results, err := c.query(ctx, variant)
		if err != nil {
			return nil, err
		}
		if len(results) == 0 {
			continue
		}
		topTitle := bestTitle(results[0].Title)
		if wordOverlapScore(query, topTitle) < 0.6 {
			continue
		}
		for _, m := range results {
			if opts.SkipAnimeOnly {
				continue
			}
			candTitle := bestTitle(m.Title)
			score := wordOverlapScore(query, candTitle)
			if score < minScore {
				continue
			}
			if isSpecialsFormat(m.Format) && !looksLikeSpecialRequest(opts) {
				score -= 0.3
			}
			if opts.Season != nil {
				if n := detectSeasonNumber(candTitle); n != nil && *n == *opts.Season {
					score += 0.2
				}
			} else if detectSeasonNumber(candTitle) == nil {
				score += 0.05
			}
			if score > bestScore {
				bestScore = score
				best = m
				found = true
			}
		}
		if found {
			break
		}
	}

	if !found {
		return nil, nil
	}

	cand := mediaToCandidate(best, bestScore)
	return cand, nil
}

func looksLikeSpecialRequest(opts providers.SearchOpts) bool {
	return opts.Season != nil && *opts.Season == 0
}

func mediaToCandidate(m media, score float64) *providers.SeriesCandidate {
	title := resolveTitle(m.Title)
	canonical := StripSeasonSuffix(title)

	var isMovie *bool
	switch strings.ToUpper(m.Format) {
	case "MOVIE":
		v := true
		isMovie = &v
	case "TV", "TV_SHORT", "OVA", "ONA", "SPECIAL":
		v := false
		isMovie = &v
	}

	var nextEp *int
	if m.NextAiringEpisode != nil {
		v := m.NextAiringEpisode.Episode
		nextEp = &v
	}

	year := ""
	if m.StartDate.Year != 0 {
		year = strconv.Itoa(m.StartDate.Year)
	} else if m.SeasonYear != 0 {
		year = strconv.Itoa(m.SeasonYear)
	}

	var relations []providers.Relation
	for _, e := range m.Relations.Edges {
		relations = append(relations, providers.Relation{
			Kind: mapRelationKind(e.RelationType),
			ID:   strconv.Itoa(e.Node.ID),
		})
	}

	season := detectSeasonNumber(title)

	return &providers.SeriesCandidate{
		ID:                   strconv.Itoa(m.ID),
		TitleEnglish:         m.Title.English,
		TitleRomaji:          m.Title.Romaji,
		TitleExact:           canonical,
		OriginalTitle:        m.Title.Native,
		Year:                 year,
		IsMovie:              isMovie,
		MediaFormat:          m.Format,
		Relations:            relations,
		NextAiringEpisode:    nextEp,
		DetectedSeasonNumber: season,
		Score:                score,
		Raw:                  m,
	}
}

func mapRelationKind(t string) providers.RelationKind {
	switch strings.ToUpper(t) {
	case "PARENT":
		return providers.RelationParent
	case "PREQUEL":
		return providers.RelationPrequel
	case "SEQUEL":
		return providers.RelationSequel
	case "SOURCE":
		return providers.RelationSource
	case "SIDE_STORY":
		return providers.RelationSideStory
	case "ALTERNATIVE":
		return providers.RelationAlternative
	default:
		return providers.RelationOther
	}
}

// FetchByID implements spec.md §4.4's fetchById contract for manual AniList
// ID overrides.
func (c *Client) FetchByID(ctx context.Context, id string, opts providers.FetchOpts) (*providers.SeriesCandidate, error) {
	const byIDQuery = `
query ($id: Int) {
  Media(id: $id, type: ANIME) {
    id
    format
    startDate { year }
    seasonYear
    nextAiringEpisode { episode }
    title { english romaji native }
    relations {
      edges {
        relationType
        node { id title { english romaji } format }
      }
    }
  }
}`
	idNum, err := strconv.Atoi(id)
	if err != nil {
		return nil, fmt.Errorf("anilist id must be numeric: %w", err)
	}
	body := gqlRequest{Query: byIDQuery, Variables: map[string]any{"id": idNum}}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal anilist byId query: %w", err)
	}
	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	resp, err := c.http.Request(ctx, "graphql.anilist.co", http.MethodPost, endpoint, headers, strings.NewReader(string(payload)), 0)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Data struct {
			Media media `json:"Media"`
		} `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, fmt.Errorf("decode anilist byId response: %w", err)
	}
	if len(parsed.Errors) > 0 {
		return nil, fmt.Errorf("anilist error: %s", parsed.Errors[0].Message)
	}
	if parsed.Data.Media.ID == 0 {
		return nil, nil
	}
	return mediaToCandidate(parsed.Data.Media, 1.0), nil
}

// FetchEpisode implements providers.Adapter. AniList does not carry
// per-episode titles; it only drives episode-title fallback via
// nextAiringEpisode comparisons in the resolver, so this always returns nil.
func (c *Client) FetchEpisode(ctx context.Context, seriesRef string, season, episode int, opts providers.FetchOpts) (*providers.EpisodeHit, error) {
	return nil, nil
}
