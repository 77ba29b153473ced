// Package watchlist re-checks every playlist on a timer and downloads new episodes of watched
// series.
package watchlist

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/FaulknerMassimo/m3u-downloader/internal/downloader"
	"github.com/FaulknerMassimo/m3u-downloader/internal/errdefs"
	"github.com/FaulknerMassimo/m3u-downloader/internal/library"
	"github.com/FaulknerMassimo/m3u-downloader/internal/logctx"
	"github.com/FaulknerMassimo/m3u-downloader/internal/m3u"
	"github.com/FaulknerMassimo/m3u-downloader/internal/series"
	"github.com/FaulknerMassimo/m3u-downloader/internal/storage"
	"github.com/FaulknerMassimo/m3u-downloader/internal/telemetry"
)

type PlaylistParser interface {
	Parse(ctx context.Context, url string) ([]m3u.Entry, error)
}

// Starter launches a download. *downloader.Engine implements it.
type Starter interface {
	Start(ctx context.Context, req downloader.StartRequest) (int64, error)
}

type Resolver interface {
	Resolve(ctx context.Context, req library.Request) (string, error)
}

type Poller struct {
	catalog   storage.CatalogRepository
	watchlist storage.WatchlistRepository
	settings  storage.SettingsRepository
	parser    PlaylistParser
	starter   Starter
	resolver  Resolver
	telemetry *telemetry.Telemetry

	// defaultInterval applies when the settings row has no refresh rate.
	defaultInterval time.Duration
}

func NewPoller(
	catalog storage.CatalogRepository,
	watchlist storage.WatchlistRepository,
	settings storage.SettingsRepository,
	parser PlaylistParser,
	starter Starter,
	resolver Resolver,
	defaultInterval time.Duration,
	tel *telemetry.Telemetry,
) *Poller {
	if defaultInterval <= 0 {
		defaultInterval = 60 * time.Minute
	}

	return &Poller{
		catalog:         catalog,
		watchlist:       watchlist,
		settings:        settings,
		parser:          parser,
		starter:         starter,
		resolver:        resolver,
		telemetry:       tel,
		defaultInterval: defaultInterval,
	}
}

// Run ticks immediately, then again one interval after each tick finishes, until ctx is done.
// The interval is read from settings before every re-arm.
func (p *Poller) Run(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("watchlist poller shutdown", "reason", "context_cancelled")
			return
		case <-timer.C:
			p.safeTick(ctx)

			next := p.interval(ctx)
			timer.Reset(next)

			logger.DebugContext(ctx, "next watchlist check scheduled", "in", next.String())
		}
	}
}

func (p *Poller) safeTick(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("watchlist poller panic",
				"operation", "tick",
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()

	if _, err := p.Tick(ctx); err != nil && ctx.Err() == nil {
		logger.ErrorContext(ctx, "watchlist check failed", "err", err)
	}
}

func (p *Poller) interval(ctx context.Context) time.Duration {
	s, err := p.settings.GetSettings(ctx)
	if err != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "using default watchlist refresh rate", "err", err)
		return p.defaultInterval
	}

	return s.RefreshInterval(p.defaultInterval)
}

// Tick checks every playlist once and returns how many downloads it started. A playlist that
// fails to parse or an entry that fails to start is skipped; only a failure to read the
// watchlist or the playlists themselves is returned.
func (p *Poller) Tick(ctx context.Context) (int, error) {
	var triggered int

	err := p.telemetry.InstrumentWatchlistTick(ctx, func(ctx context.Context) (int, error) {
		var err error
		triggered, err = p.tick(ctx)

		return triggered, err
	})

	return triggered, err
}

func (p *Poller) tick(ctx context.Context) (int, error) {
	logger := logctx.LoggerFromContext(ctx)

	entries, err := p.watchlist.ListWatchlist(ctx)
	if err != nil {
		return 0, &errdefs.StorageError{Operation: "list_watchlist", Err: err}
	}

	if len(entries) == 0 {
		return 0, nil
	}

	links, err := p.catalog.ListLinks(ctx)
	if err != nil {
		return 0, &errdefs.StorageError{Operation: "list_links", Err: err}
	}

	logger.InfoContext(ctx, "checking watchlist for new episodes", "series", len(entries), "playlists", len(links))

	var triggered int

	for _, link := range links {
		if ctx.Err() != nil {
			return triggered, ctx.Err()
		}

		parsed, err := p.parser.Parse(ctx, link.URL)
		if err != nil {
			logger.ErrorContext(ctx, "skipping playlist", "m3u_link_id", link.ID, "url", link.URL, "err", err)
			continue
		}

		groups := series.GroupBySeries(parsed)

		for i := range entries {
			ok, err := p.checkEntry(ctx, link, groups, &entries[i])
			if err != nil {
				logger.ErrorContext(ctx, "skipping watchlist entry",
					"watchlist_id", entries[i].ID, "title", entries[i].Title, "m3u_link_id", link.ID, "err", err)

				continue
			}

			if ok {
				triggered++
			}
		}
	}

	logger.InfoContext(ctx, "watchlist check finished", "downloads_started", triggered)

	return triggered, nil
}

// checkEntry starts a download when link carries an episode of entry newer than its snapshot,
// or a watched movie that was never downloaded.
// On success the in-memory snapshot is advanced so later playlists in the same tick do not
// start the same episode again.
func (p *Poller) checkEntry(ctx context.Context, link storage.M3ULink, groups map[string]series.Group, entry *storage.WatchlistEntry) (bool, error) {
	name, err := series.Name(entry.SeriesID)
	if err != nil {
		return false, err
	}

	g, ok := groups[series.Normalize(name)]
	if !ok {
		return false, nil
	}

	latest, ok := pending(g, entry.LastEpisode)
	if !ok {
		return false, nil
	}

	linkID := link.ID

	req := library.Request{LinkID: &linkID}
	if g.Type == series.TypeSeries {
		req.SeriesName = g.Title
	}

	dir, err := p.resolver.Resolve(ctx, req)
	if err != nil {
		return false, fmt.Errorf("resolve destination: %w", err)
	}

	snapshot, err := series.SnapshotOf(latest).Encode()
	if err != nil {
		return false, fmt.Errorf("encode snapshot: %w", err)
	}

	id, err := p.starter.Start(ctx, downloader.StartRequest{
		URL:    latest.URL,
		Title:  latest.Title,
		LinkID: &linkID,
		Dir:    dir,
	})
	if err != nil {
		return false, fmt.Errorf("start download: %w", err)
	}

	entry.LastEpisode = snapshot

	if err := p.watchlist.UpdateLastEpisode(ctx, entry.ID, snapshot); err != nil {
		// The download is running; the next tick may start it again.
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to persist last episode",
			"watchlist_id", entry.ID, "err", &errdefs.StorageError{Operation: "update_last_episode", Err: err})
	}

	logctx.LoggerFromContext(ctx).InfoContext(ctx, "new episode found, download started",
		"download_id", id,
		"title", latest.Title,
		"season", latest.Season,
		"episode", latest.Episode,
	)

	return true, nil
}

// pending returns what g still has to download for the stored snapshot: the latest episode
// when it is newer, or for a movie its stream, once, while nothing was stored.
func pending(g series.Group, stored string) (series.Episode, bool) {
	if g.Type == series.TypeMovie {
		if g.URL == "" || strings.TrimSpace(stored) != "" {
			return series.Episode{}, false
		}

		return series.Episode{ID: m3u.EntryID(g.URL), Title: g.Title, URL: g.URL}, true
	}

	latest, ok := g.Latest()
	if !ok || !series.IsNewer(latest, stored) {
		return series.Episode{}, false
	}

	return latest, true
}
