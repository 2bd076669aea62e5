package anilist

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// artworkQuery mirrors searchQuery's shape but additionally requests the
// cover/banner images, description, and externalLinks the approved-series
// image worker (C14) needs (spec.md §4.11: "prefer coverImage.large >
// coverImage.medium > bannerImage" and "AniList externalLinks fallback").
const artworkQuery = `
query ($search: String, $isAdult: Boolean) {
  Page(page: 1, perPage: 5) {
    media(search: $search, type: ANIME, isAdult: $isAdult) {
      id
      description(asHtml: false)
      coverImage { large medium }
      bannerImage
      externalLinks { site url }
    }
  }
}`

type mediaCoverImage struct {
	Large  string `json:"large"`
	Medium string `json:"medium"`
}

type mediaExternalLink struct {
	Site string `json:"site"`
	URL  string `json:"url"`
}

type artworkMedia struct {
	ID            int                 `json:"id"`
	Description   string              `json:"description"`
	CoverImage    mediaCoverImage     `json:"coverImage"`
	BannerImage   string              `json:"bannerImage"`
	ExternalLinks []mediaExternalLink `json:"externalLinks"`
}

type artworkResponse struct {
	Data struct {
		Page struct {
			Media []artworkMedia `json:"media"`
		} `json:"Page"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Artwork is one series' cached cover art, as the image worker persists it.
type Artwork struct {
	MediaID string
	ImageURL string
	Summary  string
	AniDBID  string // from the AniDB externalLinks entry, if AniList has one
}

// FetchArtwork resolves title to its top AniList match and returns its
// cover art (spec.md §4.11 AniList image provider).
func (c *Client) FetchArtwork(ctx context.Context, title string) (*Artwork, error) {
	results, err := c.queryArtwork(ctx, title)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return mediaToArtwork(results[0]), nil
}

func (c *Client) queryArtwork(ctx context.Context, search string) ([]artworkMedia, error) {
	body := gqlRequest{
		Query:     artworkQuery,
		Variables: map[string]any{"search": search, "isAdult": false},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal anilist artwork query: %w", err)
	}

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	resp, err := c.http.Request(ctx, "graphql.anilist.co", http.MethodPost, endpoint, headers, strings.NewReader(string(payload)), 0)
	if err != nil {
		return nil, err
	}
	if resp.Status != http.StatusOK {
		return nil, fmt.Errorf("anilist artwork query failed: status %d", resp.Status)
	}
	var parsed artworkResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, fmt.Errorf("decode anilist artwork response: %w", err)
	}
	if len(parsed.Errors) > 0 {
		return nil, fmt.Errorf("anilist error: %s", parsed.Errors[0].Message)
	}
	return parsed.Data.Page.Media, nil
}

func mediaToArtwork(m artworkMedia) *Artwork {
	image := m.CoverImage.Large
	if image == "" {
		image = m.CoverImage.Medium
	}
	if image == "" {
		image = m.BannerImage
	}
	a := &Artwork{
		MediaID:  strconv.Itoa(m.ID),
		ImageURL: image,
		Summary:  m.Description,
	}
	for _, link := range m.ExternalLinks {
		if strings.EqualFold(link.Site, "AniDB") {
			a.AniDBID = extractAniDBID(link.URL)
			break
		}
	}
	return a
}

// extractAniDBID pulls the numeric AID out of an AniDB profile URL like
// "https://anidb.net/anime/12345".
func extractAniDBID(url string) string {
	parts := strings.Split(strings.TrimRight(url, "/"), "/")
	if len(parts) == 0 {
		return ""
	}
	last := parts[len(parts)-1]
	for _, r := range last {
		if r < '0' || r > '9' {
			return ""
		}
	}
	return last
}
