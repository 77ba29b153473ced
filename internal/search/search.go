// Package search answers interactive queries across every configured playlist.
package search

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/FaulknerMassimo/m3u-downloader/internal/errdefs"
	"github.com/FaulknerMassimo/m3u-downloader/internal/logctx"
	"github.com/FaulknerMassimo/m3u-downloader/internal/m3u"
	"github.com/FaulknerMassimo/m3u-downloader/internal/series"
	"github.com/FaulknerMassimo/m3u-downloader/internal/storage"
)

// ErrInvalidQuery is returned for an empty query or an undecodable series id.
var ErrInvalidQuery = errors.New("invalid search query")

// PlaylistParser fetches and parses one playlist.
type PlaylistParser interface {
	Parse(ctx context.Context, url string) ([]m3u.Entry, error)
}

type Service struct {
	catalog     storage.CatalogRepository
	parser      PlaylistParser
	concurrency int
}

func NewService(catalog storage.CatalogRepository, parser PlaylistParser, concurrency int) *Service {
	return &Service{catalog: catalog, parser: parser, concurrency: max(concurrency, 1)}
}

// Search returns every group whose name contains query, merged across playlists. category,
// when set, restricts the playlists to the category with that name or id. A group found in
// several playlists keeps the first playlist as its source and collects every episode.
// Playlists that fail to load are logged and skipped.
func (s *Service) Search(ctx context.Context, query, category string) ([]series.Group, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidQuery)
	}

	links, err := s.links(ctx, category)
	if err != nil {
		return nil, err
	}

	parsed := s.parseAll(ctx, links)

	merged := make(map[string]*series.Group)

	var order []string

	for i, link := range links {
		for _, g := range series.Match(parsed[i], query) {
			for j := range g.Episodes {
				g.Episodes[j].Source = link.ID
			}

			existing, ok := merged[g.ID]
			if !ok {
				g.Source = link.ID
				merged[g.ID] = &g
				order = append(order, g.ID)

				continue
			}

			existing.Episodes = append(existing.Episodes, g.Episodes...)
			if existing.URL == "" {
				existing.URL = g.URL
			}
		}
	}

	out := make([]series.Group, 0, len(order))
	for _, id := range order {
		g := merged[id]
		series.SortEpisodes(g.Episodes)
		out = append(out, *g)
	}

	return out, nil
}

// Episodes returns every entry of the series identified by seriesID across all playlists,
// sorted by season and episode, each tagged with the playlist it came from.
func (s *Service) Episodes(ctx context.Context, seriesID string) ([]series.Episode, error) {
	name, err := series.Name(seriesID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}

	key := series.Normalize(name)

	links, err := s.links(ctx, "")
	if err != nil {
		return nil, err
	}

	parsed := s.parseAll(ctx, links)

	episodes := []series.Episode{}

	for i, link := range links {
		for _, e := range parsed[i] {
			if series.Key(e) != key {
				continue
			}

			ep := series.EpisodeFrom(e)
			ep.Source = link.ID
			episodes = append(episodes, ep)
		}
	}

	series.SortEpisodes(episodes)

	return episodes, nil
}

func (s *Service) links(ctx context.Context, category string) ([]storage.M3ULink, error) {
	category = strings.TrimSpace(category)
	if category == "" {
		links, err := s.catalog.ListLinks(ctx)
		if err != nil {
			return nil, &errdefs.StorageError{Operation: "list_links", Err: err}
		}

		return links, nil
	}

	categories, err := s.catalog.ListCategories(ctx)
	if err != nil {
		return nil, &errdefs.StorageError{Operation: "list_categories", Err: err}
	}

	var links []storage.M3ULink

	for _, c := range categories {
		if c.Name != category && strconv.FormatInt(c.ID, 10) != category {
			continue
		}

		found, err := s.catalog.ListLinksByCategory(ctx, c.ID)
		if err != nil {
			return nil, &errdefs.StorageError{Operation: "list_links", Err: err}
		}

		links = append(links, found...)
	}

	return links, nil
}

// parseAll fetches links concurrently, at most s.concurrency at a time. The result is indexed
// like links; a failed playlist yields nil.
func (s *Service) parseAll(ctx context.Context, links []storage.M3ULink) [][]m3u.Entry {
	logger := logctx.LoggerFromContext(ctx)
	out := make([][]m3u.Entry, len(links))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i, link := range links {
		g.Go(func() error {
			entries, err := s.parser.Parse(gctx, link.URL)
			if err != nil {
				logger.ErrorContext(gctx, "failed to parse playlist", "m3u_link_id", link.ID, "url", link.URL, "err", err)
				return nil
			}

			out[i] = entries

			return nil
		})
	}

	_ = g.Wait()

	return out
}
