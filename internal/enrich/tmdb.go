package enrich

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/BTreeMap/Kantei/internal/models"
)

const (
	tmdbAPIBase    = "https://api.themoviedb.org/3"
	tmdbImageBase  = "https://image.tmdb.org/t/p/w500"
	tmdbWebBase    = "https://www.themoviedb.org"
	tmdbSourceName = "TMDB"
)

// TMDBSearch selects the TMDB search endpoint.
type TMDBSearch string

const (
	TMDBMovie TMDBSearch = "movie"
	TMDBTV    TMDBSearch = "tv"
	TMDBMulti TMDBSearch = "multi"
)

// TMDBProvider looks movies and shows up on The Movie Database.
type TMDBProvider struct {
	httpClient *http.Client
	token      string
	search     TMDBSearch
}

// NewTMDBProvider creates a TMDB provider for one search endpoint.
func NewTMDBProvider(c *http.Client, token string, search TMDBSearch) *TMDBProvider {
	return &TMDBProvider{httpClient: c, token: token, search: search}
}

func (p *TMDBProvider) Name() string { return "tmdb/" + string(p.search) }

// Lookup searches by title and overlays the first result. Without a token it
// returns ErrNotConfigured.
func (p *TMDBProvider) Lookup(ctx context.Context, m *models.MediaInfo) (*models.MediaInfo, error) {
	if p.token == "" {
		return nil, ErrNotConfigured
	}
	q := url.Values{}
	q.Set("query", m.Title)
	q.Set("language", "ja-JP")
	q.Set("include_adult", "false")

	header := http.Header{}
	header.Set("Authorization", "Bearer "+p.token)

	var result tmdbSearchResponse
	endpoint := fmt.Sprintf("%s/search/%s?%s", tmdbAPIBase, p.search, q.Encode())
	if err := getJSON(ctx, p.httpClient, endpoint, header, &result); err != nil {
		return nil, err
	}
	if len(result.Results) == 0 {
		return nil, ErrNoResults
	}
	best := result.Results[0]

	out := clone(m)
	out.Title = firstNonEmpty(best.Title, best.Name, m.Title)
	if p.search == TMDBMulti {
		switch best.MediaType {
		case "tv":
			out.MediaType = models.MediaTypeTVShow
		case "movie":
			out.MediaType = models.MediaTypeMovie
		}
	}
	out.Year = yearFromDate(firstNonEmpty(best.ReleaseDate, best.FirstAirDate), m.Year)
	if best.PosterPath != "" {
		out.PosterURL = tmdbImageBase + best.PosterPath
	}
	out.Synopsis = firstNonEmpty(truncateRunes(best.Overview, synopsisRunes), m.Synopsis)
	if best.VoteAverage > 0 {
		out.Score = best.VoteAverage
	}

	kind := string(p.search)
	if p.search == TMDBMulti {
		kind = firstNonEmpty(best.MediaType, string(TMDBMovie))
	}
	out.ExternalURL = fmt.Sprintf("%s/%s/%d", tmdbWebBase, kind, best.ID)
	out.ExternalSource = tmdbSourceName
	return out, nil
}

type tmdbSearchResponse struct {
	Results []struct {
		ID           int64   `json:"id"`
		MediaType    string  `json:"media_type"`
		Title        string  `json:"title"`
		Name         string  `json:"name"`
		ReleaseDate  string  `json:"release_date"`
		FirstAirDate string  `json:"first_air_date"`
		PosterPath   string  `json:"poster_path"`
		Overview     string  `json:"overview"`
		VoteAverage  float64 `json:"vote_average"`
	} `json:"results"`
}
