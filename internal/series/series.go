// Package series groups playlist entries by the show they belong to and orders episodes.
package series

import (
	"cmp"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/FaulknerMassimo/m3u-downloader/internal/m3u"
)

type ContentType string

const (
	TypeSeries ContentType = "series"
	TypeMovie  ContentType = "movie"
)

type Episode struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Season  int    `json:"season"`
	Episode int    `json:"episode"`
	Source  int64  `json:"source,omitempty"`
}

// Group is every entry that shares one series identity. Movies have no episodes and carry
// their stream in URL.
type Group struct {
	ID       string      `json:"id"`
	Title    string      `json:"title"`
	Type     ContentType `json:"type"`
	Episodes []Episode   `json:"episodes"`
	URL      string      `json:"url,omitempty"`
	Source   int64       `json:"source,omitempty"`
}

// Latest returns the last episode in season/episode order.
func (g Group) Latest() (Episode, bool) {
	if len(g.Episodes) == 0 {
		return Episode{}, false
	}

	return g.Episodes[len(g.Episodes)-1], true
}

// Key is the normalized identity of an entry: its series name, or its whole title for anything
// that is not an episode.
func Key(e m3u.Entry) string {
	if e.IsEpisode() {
		return Normalize(e.SeriesName)
	}

	return Normalize(e.Title)
}

func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ID encodes a normalized series name so it can travel in URLs and be decoded with Name.
func ID(normalizedName string) string {
	return base64.StdEncoding.EncodeToString([]byte(normalizedName))
}

// Name decodes a series id produced by ID.
func Name(id string) (string, error) {
	b, err := base64.StdEncoding.DecodeString(id)
	if err != nil {
		return "", fmt.Errorf("invalid series id %q: %w", id, err)
	}

	return string(b), nil
}

// GroupBySeries groups entries by Key. Episodes in each group are sorted.
func GroupBySeries(entries []m3u.Entry) map[string]Group {
	groups, _ := group(entries, func(string) bool { return true })
	return groups
}

// Match returns the groups whose key contains query, case-insensitively, in order of first
// appearance. Every returned group equals the one GroupBySeries builds for the same key.
func Match(entries []m3u.Entry, query string) []Group {
	q := Normalize(query)

	groups, order := group(entries, func(key string) bool { return strings.Contains(key, q) })

	out := make([]Group, 0, len(order))
	for _, key := range order {
		out = append(out, groups[key])
	}

	return out
}

func group(entries []m3u.Entry, keep func(key string) bool) (map[string]Group, []string) {
	groups := make(map[string]Group)

	var order []string

	for _, e := range entries {
		key := Key(e)
		if !keep(key) {
			continue
		}

		g, ok := groups[key]
		if !ok {
			g = Group{ID: ID(key), Title: e.Title, Type: TypeMovie, Episodes: []Episode{}}
			if e.IsEpisode() {
				g.Title = e.SeriesName
				g.Type = TypeSeries
			}

			order = append(order, key)
		}

		if e.IsEpisode() {
			g.Episodes = append(g.Episodes, EpisodeFrom(e))
		} else {
			g.URL = e.URL
		}

		groups[key] = g
	}

	for key, g := range groups {
		SortEpisodes(g.Episodes)
		groups[key] = g
	}

	return groups, order
}

func EpisodeFrom(e m3u.Entry) Episode {
	return Episode{
		ID:      e.ID,
		Title:   e.Title,
		URL:     e.URL,
		Season:  e.Season,
		Episode: e.Episode,
	}
}

// Compare orders episodes by season, then episode. Missing values are zero.
func Compare(a, b Episode) int {
	return cmp.Or(cmp.Compare(a.Season, b.Season), cmp.Compare(a.Episode, b.Episode))
}

// SortEpisodes sorts in place. The sort is stable, so repeating it changes nothing.
func SortEpisodes(eps []Episode) {
	slices.SortStableFunc(eps, Compare)
}

// Snapshot is the last-seen-episode record persisted on a watchlist entry.
type Snapshot struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Season  int    `json:"season"`
	Episode int    `json:"episode"`
}

func SnapshotOf(ep Episode) Snapshot {
	return Snapshot{ID: ep.ID, Title: ep.Title, Season: ep.Season, Episode: ep.Episode}
}

func (s Snapshot) Encode() (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}

	return string(b), nil
}

func DecodeSnapshot(raw string) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return Snapshot{}, fmt.Errorf("decode episode snapshot: %w", err)
	}

	return s, nil
}

// IsNewer reports whether candidate comes strictly after the stored snapshot. A missing or
// unreadable snapshot counts as older than anything.
func IsNewer(candidate Episode, stored string) bool {
	if strings.TrimSpace(stored) == "" {
		return true
	}

	last, err := DecodeSnapshot(stored)
	if err != nil {
		return true
	}

	return Compare(candidate, Episode{Season: last.Season, Episode: last.Episode}) > 0
}
