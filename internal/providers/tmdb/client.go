// Package tmdb implements the TMDB provider adapter (spec.md §4.4): search,
// episode lookup, and a translations fallback for non-Latin or placeholder
// episode titles. Grounded on the teacher's pkg/tvdb client's REST-plus-
// query-string shape, paced through internal/ratehttp instead of a bare
// http.Client.
package tmdb

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/vmunix/arrgo-renamer/internal/model"
	"github.com/vmunix/arrgo-renamer/internal/providers"
	"github.com/vmunix/arrgo-renamer/internal/ratehttp"
)

const defaultHost = "api.themoviedb.org"
const defaultBaseURL = "https://api.themoviedb.org/3"

// titleAliases handles known title-swap cases (spec.md §4.4: "Supports a
// title-swap alias for Philosopher's/Sorcerer's Stone").
var titleAliases = map[string]string{
	"harry potter and the sorcerer's stone":  "Harry Potter and the Philosopher's Stone",
	"harry potter and the philosopher's stone": "Harry Potter and the Philosopher's Stone",
}

type Client struct {
	apiKey  string
	baseURL string
	host    string
	http    *ratehttp.Client
}

func New(apiKey string, http *ratehttp.Client) *Client {
	return &Client{apiKey: apiKey, baseURL: defaultBaseURL, host: defaultHost, http: http}
}

func (c *Client) ID() model.ProviderID { return model.ProviderTMDB }

func (c *Client) get(ctx context.Context, path string, query url.Values) (*ratehttp.Response, error) {
	if query == nil {
		query = url.Values{}
	}
	query.Set("api_key", c.apiKey)
	full := c.baseURL + path + "?" + query.Encode()
	return c.http.Request(ctx, c.host, http.MethodGet, full, nil, nil, 0)
}

type tvSearchResult struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	OriginalName string `json:"original_name"`
	FirstAirDate string `json:"first_air_date"`
}

type movieSearchResult struct {
	ID            int    `json:"id"`
	Title         string `json:"title"`
	OriginalTitle string `json:"original_title"`
	ReleaseDate   string `json:"release_date"`
}

// SearchSeries queries /search/tv first, then /search/movie (spec.md §4.4).
func (c *Client) SearchSeries(ctx context.Context, query string, opts providers.SearchOpts) (*providers.SeriesCandidate, error) {
	if alias, ok := titleAliases[strings.ToLower(query)]; ok {
		query = alias
	}

	tvResp, err := c.get(ctx, "/search/tv", url.Values{"query": {query}})
	if err != nil {
		return nil, err
	}
	var tvSearch struct {
		Results []tvSearchResult `json:"results"`
	}
	if err := json.Unmarshal(tvResp.Body, &tvSearch); err != nil {
		return nil, fmt.Errorf("decode tv search response: %w", err)
	}
	if len(tvSearch.Results) > 0 {
		top := tvSearch.Results[0]
		year := ""
		if len(top.FirstAirDate) >= 4 {
			year = top.FirstAirDate[:4]
		}
		isMovie := false
		return &providers.SeriesCandidate{
			ID:           strconv.Itoa(top.ID),
			TitleEnglish: top.Name,
			TitleExact:   top.Name,
			OriginalTitle: top.OriginalName,
			Year:         year,
			IsMovie:      &isMovie,
			MediaFormat:  "TV",
		}, nil
	}

	movieResp, err := c.get(ctx, "/search/movie", url.Values{"query": {query}})
	if err != nil {
		return nil, err
	}
	var movieSearch struct {
		Results []movieSearchResult `json:"results"`
	}
	if err := json.Unmarshal(movieResp.Body, &movieSearch); err != nil {
		return nil, fmt.Errorf("decode movie search response: %w", err)
	}
	if len(movieSearch.Results) == 0 {
		return nil, nil
	}
	top := movieSearch.Results[0]
	year := ""
	if len(top.ReleaseDate) >= 4 {
		year = top.ReleaseDate[:4]
	}
	isMovie := true
	return &providers.SeriesCandidate{
		ID:            strconv.Itoa(top.ID),
		TitleEnglish:  top.Title,
		TitleExact:    top.Title,
		OriginalTitle: top.OriginalTitle,
		Year:          year,
		IsMovie:       &isMovie,
		MediaFormat:   "MOVIE",
	}, nil
}

const posterBaseURL = "https://image.tmdb.org/t/p/w500"

// Poster is a series' TMDB poster image (spec.md §4.11 TMDB image
// provider).
type Poster struct {
	MediaID  string
	ImageURL string
}

// FetchPoster searches /search/tv for query and composes the poster URL
// for the first hit (spec.md §4.11: "`/search/tv` first hit; compose
// `https://image.tmdb.org/t/p/w500{poster_path}`").
func (c *Client) FetchPoster(ctx context.Context, query string) (*Poster, error) {
	resp, err := c.get(ctx, "/search/tv", url.Values{"query": {query}})
	if err != nil {
		return nil, err
	}
	var search struct {
		Results []struct {
			ID        int    `json:"id"`
			PosterPath string `json:"poster_path"`
		} `json:"results"`
	}
	if err := json.Unmarshal(resp.Body, &search); err != nil {
		return nil, fmt.Errorf("decode tv search response: %w", err)
	}
	if len(search.Results) == 0 || search.Results[0].PosterPath == "" {
		return nil, nil
	}
	top := search.Results[0]
	return &Poster{MediaID: strconv.Itoa(top.ID), ImageURL: posterBaseURL + top.PosterPath}, nil
}

// FetchByID fetches a TV series by TMDB ID (manual-ID override path).
func (c *Client) FetchByID(ctx context.Context, id string, opts providers.FetchOpts) (*providers.SeriesCandidate, error) {
	resp, err := c.get(ctx, "/tv/"+id, nil)
	if err != nil {
		return nil, err
	}
	var series struct {
		ID           int    `json:"id"`
		Name         string `json:"name"`
		OriginalName string `json:"original_name"`
		FirstAirDate string `json:"first_air_date"`
	}
	if err := json.Unmarshal(resp.Body, &series); err != nil {
		return nil, fmt.Errorf("decode tv detail response: %w", err)
	}
	if series.ID == 0 {
		return nil, nil
	}
	year := ""
	if len(series.FirstAirDate) >= 4 {
		year = series.FirstAirDate[:4]
	}
	isMovie := false
	return &providers.SeriesCandidate{
		ID:            strconv.Itoa(series.ID),
		TitleEnglish:  series.Name,
		TitleExact:    series.Name,
		OriginalTitle: series.OriginalName,
		Year:          year,
		IsMovie:       &isMovie,
	}, nil
}

type episodeDetail struct {
	Name     string `json:"name"`
	AirDate  string `json:"air_date"`
}

// FetchEpisode fetches /tv/{id}/season/{s}/episode/{e}, falling back to
// /translations when the name is non-Latin or a placeholder (spec.md §4.4).
func (c *Client) FetchEpisode(ctx context.Context, seriesRef string, season, episode int, opts providers.FetchOpts) (*providers.EpisodeHit, error) {
	path := fmt.Sprintf("/tv/%s/season/%d/episode/%d", seriesRef, season, episode)
	resp, err := c.get(ctx, path, nil)
	if err != nil {
		return nil, err
	}
	var ep episodeDetail
	if err := json.Unmarshal(resp.Body, &ep); err != nil {
		return nil, fmt.Errorf("decode episode response: %w", err)
	}
	if ep.Name == "" {
		return nil, nil
	}

	title := ep.Name
	placeholder := providers.IsPlaceholderTitle(title) || providers.IsNonLatinOnly(title)
	if placeholder {
		if translated, err := c.fetchTranslatedEpisodeName(ctx, seriesRef, season, episode); err == nil && translated != "" {
			title = translated
			placeholder = providers.IsPlaceholderTitle(title)
		}
	}

	return &providers.EpisodeHit{
		Title:       title,
		AirDate:     ep.AirDate,
		Year:        yearOf(ep.AirDate),
		Placeholder: placeholder,
	}, nil
}

func yearOf(date string) string {
	if len(date) >= 4 {
		return date[:4]
	}
	return ""
}

func (c *Client) fetchTranslatedEpisodeName(ctx context.Context, seriesRef string, season, episode int) (string, error) {
	path := fmt.Sprintf("/tv/%s/season/%d/episode/%d/translations", seriesRef, season, episode)
	resp, err := c.get(ctx, path, nil)
	if err != nil {
		return "", err
	}
	var translations struct {
		Translations []struct {
			Iso3166 string `json:"iso_3166_1"`
			Iso639  string `json:"iso_639_1"`
			Data    struct {
				Name string `json:"name"`
			} `json:"data"`
		} `json:"translations"`
	}
	if err := json.Unmarshal(resp.Body, &translations); err != nil {
		return "", fmt.Errorf("decode translations response: %w", err)
	}
	for _, tr := range translations.Translations {
		if tr.Iso639 == "en" && tr.Data.Name != "" && !providers.IsPlaceholderTitle(tr.Data.Name) {
			return tr.Data.Name, nil
		}
	}
	return "", nil
}
