// Package kitsu implements the Kitsu provider adapter (spec.md §4.4):
// JSON:API search-then-episodes fallback, preferring an English title when
// available. Grounded on the TMDB adapter's REST-plus-query-string shape in
// this module, since Kitsu's JSON:API envelope is the only thing that
// differs from a plain REST client.
package kitsu

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/vmunix/arrgo-renamer/internal/model"
	"github.com/vmunix/arrgo-renamer/internal/providers"
	"github.com/vmunix/arrgo-renamer/internal/ratehttp"
)

const (
	host           = "kitsu.io"
	defaultBaseURL = "https://kitsu.io/api/edge"
)

type Client struct {
	baseURL string
	host    string
	http    *ratehttp.Client
}

func New(http *ratehttp.Client) *Client {
	return &Client{baseURL: defaultBaseURL, host: host, http: http}
}

func (c *Client) ID() model.ProviderID { return model.ProviderKitsu }

type kitsuTitles struct {
	En      string `json:"en"`
	EnJp    string `json:"en_jp"`
	Ja_Jp   string `json:"ja_jp"`
	Canonical string `json:"canonical"`
}

func (t kitsuTitles) best() string {
	switch {
	case t.En != "":
		return t.En
	case t.EnJp != "":
		return t.EnJp
	case t.Canonical != "":
		return t.Canonical
	default:
		return t.Ja_Jp
	}
}

type kitsuResource struct {
	ID         string `json:"id"`
	Attributes struct {
		Titles      kitsuTitles `json:"titles"`
		CanonicalTitle string   `json:"canonicalTitle"`
		StartDate   string      `json:"startDate"`
		SubType     string      `json:"subtype"`
	} `json:"attributes"`
}

type kitsuCollection struct {
	Data []kitsuResource `json:"data"`
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	full := c.baseURL + path
	resp, err := c.http.Request(ctx, c.host, http.MethodGet, full, nil, nil, 0)
	if err != nil {
		return nil, err
	}
	if resp.Status != http.StatusOK {
		return nil, fmt.Errorf("kitsu request failed: status %d", resp.Status)
	}
	return resp.Body, nil
}

// SearchSeries implements spec.md §4.4's Kitsu contract.
func (c *Client) SearchSeries(ctx context.Context, query string, opts providers.SearchOpts) (*providers.SeriesCandidate, error) {
	path := "/anime?filter[text]=" + url.QueryEscape(query) + "&page[limit]=5"
	body, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}
	var collection kitsuCollection
	if err := json.Unmarshal(body, &collection); err != nil {
		return nil, fmt.Errorf("decode kitsu search response: %w", err)
	}
	if len(collection.Data) == 0 {
		return nil, nil
	}
	top := collection.Data[0]
	return resourceToCandidate(top), nil
}

func resourceToCandidate(r kitsuResource) *providers.SeriesCandidate {
	title := r.Attributes.Titles.best()
	if title == "" {
		title = r.Attributes.CanonicalTitle
	}
	year := ""
	if len(r.Attributes.StartDate) >= 4 {
		year = r.Attributes.StartDate[:4]
	}
	var isMovie *bool
	switch r.Attributes.SubType {
	case "movie":
		v := true
		isMovie = &v
	case "TV", "ONA", "OVA", "special":
		v := false
		isMovie = &v
	}
	return &providers.SeriesCandidate{
		ID:           r.ID,
		TitleEnglish: r.Attributes.Titles.En,
		TitleExact:   title,
		OriginalTitle: r.Attributes.Titles.Ja_Jp,
		Year:         year,
		IsMovie:      isMovie,
		MediaFormat:  r.Attributes.SubType,
	}
}

// FetchByID fetches an anime resource directly by Kitsu ID.
func (c *Client) FetchByID(ctx context.Context, id string, opts providers.FetchOpts) (*providers.SeriesCandidate, error) {
	body, err := c.get(ctx, "/anime/"+id)
	if err != nil {
		return nil, err
	}
	var single struct {
		Data kitsuResource `json:"data"`
	}
	if err := json.Unmarshal(body, &single); err != nil {
		return nil, fmt.Errorf("decode kitsu anime response: %w", err)
	}
	if single.Data.ID == "" {
		return nil, nil
	}
	return resourceToCandidate(single.Data), nil
}

type kitsuEpisodeResource struct {
	Attributes struct {
		Titles      kitsuTitles `json:"titles"`
		CanonicalTitle string   `json:"canonicalTitle"`
		Number      int         `json:"number"`
		AirDate     string      `json:"airdate"`
	} `json:"attributes"`
}

// FetchEpisode fetches the episodes collection for seriesRef and filters
// client-side to the requested episode number (Kitsu's episodes endpoint
// has no season concept; it numbers episodes sequentially).
func (c *Client) FetchEpisode(ctx context.Context, seriesRef string, season, episode int, opts providers.FetchOpts) (*providers.EpisodeHit, error) {
	path := fmt.Sprintf("/anime/%s/episodes?page[limit]=20&filter[number]=%d", seriesRef, episode)
	body, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}
	var collection struct {
		Data []kitsuEpisodeResource `json:"data"`
	}
	if err := json.Unmarshal(body, &collection); err != nil {
		return nil, fmt.Errorf("decode kitsu episodes response: %w", err)
	}
	for _, ep := range collection.Data {
		if ep.Attributes.Number != episode {
			continue
		}
		title := ep.Attributes.Titles.best()
		if title == "" {
			title = ep.Attributes.CanonicalTitle
		}
		if title == "" {
			return nil, nil
		}
		return &providers.EpisodeHit{
			Title:       title,
			AirDate:     ep.Attributes.AirDate,
			Year:        yearOf(ep.Attributes.AirDate),
			Placeholder: providers.IsPlaceholderTitle(title),
		}, nil
	}
	return nil, nil
}

func yearOf(date string) string {
	if len(date) >= 4 {
		return date[:4]
	}
	return ""
}
