package models

import "maps"

// MediaType is the category of an identified media item.
type MediaType string

const (
	MediaTypeMovie  MediaType = "movie"
	MediaTypeTVShow MediaType = "tv_show"
	MediaTypeAnime  MediaType = "anime"
	MediaTypeSports MediaType = "sports"
	MediaTypeMusic  MediaType = "music"
	MediaTypeBook   MediaType = "book"
	MediaTypeOther  MediaType = "other"
)

// MediaInfo is the typed media candidate, including optional catalog enrichment.
type MediaInfo struct {
	MediaType    MediaType `json:"media_type"`
	Title        string    `json:"title"`
	Subtitle     string    `json:"subtitle,omitempty"`
	ArtistOrCast string    `json:"artist_or_cast,omitempty"`
	Year         int       `json:"year,omitempty"`
	Trivia       string    `json:"trivia,omitempty"`

	PosterURL      string   `json:"poster_url,omitempty"`
	Synopsis       string   `json:"synopsis,omitempty"`
	Score          float64  `json:"score,omitempty"`
	Genres         []string `json:"genres,omitempty"`
	ExternalURL    string   `json:"external_url,omitempty"`
	ExternalSource string   `json:"external_source,omitempty"`
}

// Listing is the marketplace listing produced by a finished product dialogue.
type Listing struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Condition   string `json:"condition"`
}

// CandidateKind tags which variant of Candidate is populated.
type CandidateKind string

const (
	CandidateMedia      CandidateKind = "media"
	CandidateAttributes CandidateKind = "attributes"
)

// Candidate is the current best hypothesis of a session. Exactly one of
// Media or Attributes is meaningful, as selected by Kind.
type Candidate struct {
	Kind       CandidateKind  `json:"kind"`
	Media      *MediaInfo     `json:"media,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Listing    *Listing       `json:"listing,omitempty"`
}

// NewMediaCandidate wraps a media guess. A nil or untitled guess yields nil.
func NewMediaCandidate(m *MediaInfo) *Candidate {
	if m == nil || m.Title == "" {
		return nil
	}
	mc := *m
	mc.Genres = append([]string(nil), m.Genres...)
	return &Candidate{Kind: CandidateMedia, Media: &mc}
}

// NewAttributeCandidate wraps a free-form attribute map.
func NewAttributeCandidate(attrs map[string]any) *Candidate {
	if attrs == nil {
		attrs = map[string]any{}
	}
	return &Candidate{Kind: CandidateAttributes, Attributes: maps.Clone(attrs)}
}

// Title returns a human-readable label for the candidate.
func (c *Candidate) Title() string {
	if c == nil {
		return ""
	}
	switch c.Kind {
	case CandidateMedia:
		if c.Media != nil {
			return c.Media.Title
		}
	case CandidateAttributes:
		if c.Listing != nil && c.Listing.Title != "" {
			return c.Listing.Title
		}
		if name, ok := c.Attributes["product_name"].(string); ok {
			return name
		}
	}
	return ""
}

// Clone returns a deep copy of the candidate.
func (c *Candidate) Clone() *Candidate {
	if c == nil {
		return nil
	}
	out := &Candidate{Kind: c.Kind}
	if c.Media != nil {
		m := *c.Media
		m.Genres = append([]string(nil), c.Media.Genres...)
		out.Media = &m
	}
	if c.Attributes != nil {
		out.Attributes = maps.Clone(c.Attributes)
	}
	if c.Listing != nil {
		l := *c.Listing
		out.Listing = &l
	}
	return out
}
