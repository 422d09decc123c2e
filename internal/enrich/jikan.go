package enrich

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/BTreeMap/Kantei/internal/models"
)

const jikanSearchURL = "https://api.jikan.moe/v4/anime"

// JikanProvider looks anime up on MyAnimeList through the Jikan API. No key is needed.
type JikanProvider struct {
	httpClient *http.Client
}

// NewJikanProvider creates a Jikan provider.
func NewJikanProvider(c *http.Client) *JikanProvider {
	return &JikanProvider{httpClient: c}
}

func (p *JikanProvider) Name() string { return "jikan" }

// Lookup searches by title and overlays the first result.
func (p *JikanProvider) Lookup(ctx context.Context, m *models.MediaInfo) (*models.MediaInfo, error) {
	q := url.Values{}
	q.Set("q", m.Title)
	q.Set("limit", "3")

	var result jikanSearchResponse
	if err := getJSON(ctx, p.httpClient, jikanSearchURL+"?"+q.Encode(), nil, &result); err != nil {
		return nil, err
	}
	if len(result.Data) == 0 {
		return nil, ErrNoResults
	}
	best := result.Data[0]

	out := clone(m)
	out.Title = firstNonEmpty(best.TitleJapanese, best.Title, m.Title)
	if best.Year > 0 {
		out.Year = best.Year
	}
	if out.ArtistOrCast == "" && len(best.Studios) > 0 {
		names := make([]string, 0, len(best.Studios))
		for _, s := range best.Studios {
			names = append(names, s.Name)
		}
		out.ArtistOrCast = strings.Join(names, ", ")
	}
	out.PosterURL = firstNonEmpty(best.Images.JPG.LargeImageURL, best.Images.JPG.ImageURL, m.PosterURL)
	out.Synopsis = firstNonEmpty(truncateRunes(best.Synopsis, synopsisRunes), m.Synopsis)
	if best.Score > 0 {
		out.Score = best.Score
	}
	if len(best.Genres) > 0 {
		out.Genres = make([]string, 0, len(best.Genres))
		for _, g := range best.Genres {
			out.Genres = append(out.Genres, g.Name)
		}
	}
	out.ExternalURL = firstNonEmpty(best.URL, m.ExternalURL)
	out.ExternalSource = "MyAnimeList"
	return out, nil
}

type jikanName struct {
	Name string `json:"name"`
}

type jikanSearchResponse struct {
	Data []struct {
		Title         string  `json:"title"`
		TitleJapanese string  `json:"title_japanese"`
		Year          int     `json:"year"`
		Synopsis      string  `json:"synopsis"`
		Score         float64 `json:"score"`
		URL           string  `json:"url"`
		Images        struct {
			JPG struct {
				ImageURL      string `json:"image_url"`
				LargeImageURL string `json:"large_image_url"`
			} `json:"jpg"`
		} `json:"images"`
		Studios []jikanName `json:"studios"`
		Genres  []jikanName `json:"genres"`
	} `json:"data"`
}
