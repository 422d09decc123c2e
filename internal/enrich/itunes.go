package enrich

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/BTreeMap/Kantei/internal/models"
)

const itunesSearchURL = "https://itunes.apple.com/search"

// ITunesProvider looks music up with the iTunes Search API. No key is needed.
type ITunesProvider struct {
	httpClient *http.Client
}

// NewITunesProvider creates an iTunes provider.
func NewITunesProvider(c *http.Client) *ITunesProvider {
	return &ITunesProvider{httpClient: c}
}

func (p *ITunesProvider) Name() string { return "itunes" }

// Lookup searches by title and artist and overlays the first track.
func (p *ITunesProvider) Lookup(ctx context.Context, m *models.MediaInfo) (*models.MediaInfo, error) {
	term := m.Title
	if m.ArtistOrCast != "" {
		term += " " + m.ArtistOrCast
	}
	q := url.Values{}
	q.Set("term", term)
	q.Set("country", "JP")
	q.Set("media", "music")
	q.Set("limit", "3")
	q.Set("lang", "ja_jp")

	var result itunesSearchResponse
	if err := getJSON(ctx, p.httpClient, itunesSearchURL+"?"+q.Encode(), nil, &result); err != nil {
		return nil, err
	}
	if len(result.Results) == 0 {
		return nil, ErrNoResults
	}
	best := result.Results[0]

	out := clone(m)
	out.Title = firstNonEmpty(best.TrackName, m.Title)
	out.ArtistOrCast = firstNonEmpty(best.ArtistName, m.ArtistOrCast)
	out.Subtitle = firstNonEmpty(best.CollectionName, m.Subtitle)
	out.Year = yearFromDate(best.ReleaseDate, m.Year)
	if best.ArtworkURL100 != "" {
		out.PosterURL = strings.Replace(best.ArtworkURL100, "100x100", "600x600", 1)
	}
	if best.PrimaryGenreName != "" {
		out.Genres = []string{best.PrimaryGenreName}
	}
	out.ExternalURL = firstNonEmpty(best.TrackViewURL, m.ExternalURL)
	out.ExternalSource = "iTunes"
	return out, nil
}

type itunesSearchResponse struct {
	Results []struct {
		TrackName        string `json:"trackName"`
		ArtistName       string `json:"artistName"`
		CollectionName   string `json:"collectionName"`
		ReleaseDate      string `json:"releaseDate"`
		ArtworkURL100    string `json:"artworkUrl100"`
		PrimaryGenreName string `json:"primaryGenreName"`
		TrackViewURL     string `json:"trackViewUrl"`
	} `json:"results"`
}
