package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hangar-sh/hangar/internal/registry"
	"github.com/hangar-sh/hangar/internal/release"
	"github.com/hangar-sh/hangar/internal/source"
)

// payloadRepo is where upstream payload releases are published.
var payloadRepo = release.Repo{Host: "github.com", Owner: "comfyanonymous", Name: "ComfyUI"}

// releaseTrack maps a record's update track onto the release cache's.
func releaseTrack(track registry.UpdateTrack) release.Track {
	if track == registry.TrackLatest {
		return release.TrackLatest
	}
	return release.TrackStable
}

// UpdateAvailable reports whether a newer release exists for the record
// on its track, using cached release metadata only.
func (s *Scheduler) UpdateAvailable(rec *registry.Record) bool {
	if s.releases == nil {
		return false
	}
	track := rec.Track()
	latest := s.releases.Cached(payloadRepo, releaseTrack(track))

	installed := release.Installed{Track: releaseTrack(track)}
	if info, ok := rec.UpdateInfoByTrack[track]; ok {
		installed.Tag = info.InstalledTag
	} else {
		installed.Tag = rec.Version
	}
	return release.IsUpdateAvailable(installed, latest, releaseTrack(track))
}

// CheckForUpdate refreshes release metadata for the record's track and
// reports whether a newer release exists. The fetch error is returned
// alongside the cached verdict so callers can still answer.
func (s *Scheduler) CheckForUpdate(ctx context.Context, rec *registry.Record) (bool, error) {
	if s.releases == nil {
		return false, nil
	}
	_, err := s.releases.GetOrFetch(ctx, payloadRepo, releaseTrack(rec.Track()), true)
	return s.UpdateAvailable(rec), err
}

// MetadataWarmupURLs are the metadata endpoints pre-flighted at
// startup.
func MetadataWarmupURLs() []string {
	return []string{
		fmt.Sprintf("https://api.github.com/repos/%s/%s/releases/latest", payloadRepo.Owner, payloadRepo.Name),
		fmt.Sprintf("https://api.github.com/repos/%s/%s/releases?per_page=1", payloadRepo.Owner, payloadRepo.Name),
	}
}

// StartUpdatePolling checks the release cache for every track in use:
// once shortly after startup, then at the given interval. Completed
// polls broadcast installations-changed so list views re-render their
// update badges.
func (s *Scheduler) StartUpdatePolling(ctx context.Context, initialDelay, interval time.Duration) {
	go func() {
		select {
		case <-time.After(initialDelay):
			s.pollUpdates(ctx)
		case <-ctx.Done():
			return
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.pollUpdates(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// pollUpdates fetches release metadata for every track referenced by an
// installed local record.
func (s *Scheduler) pollUpdates(ctx context.Context) {
	if s.releases == nil {
		return
	}

	tracks := map[release.Track]bool{}
	for _, rec := range s.registry.List() {
		plugin, err := s.catalog.Get(rec.SourceID)
		if err != nil || plugin.Category() != source.CategoryLocal {
			continue
		}
		if rec.Status != registry.StatusInstalled {
			continue
		}
		tracks[releaseTrack(rec.Track())] = true
	}

	changed := false
	for track := range tracks {
		// Forced so the poll actually revalidates; the cache's own
		// throttle absorbs overlapping polls.
		if _, err := s.releases.GetOrFetch(ctx, payloadRepo, track, true); err != nil {
			slog.Debug("release poll failed", "track", track, "error", err)
			continue
		}
		changed = true
	}
	if changed {
		s.events.publish(Event{Kind: EventInstallationsChanged})
	}
}

// WarmupMetadata pre-flights common metadata URLs so later requests can
// revalidate with If-None-Match instead of burning rate limit.
func (s *Scheduler) WarmupMetadata(ctx context.Context, urls []string) {
	for _, url := range urls {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			continue
		}
		s.etagMu.Lock()
		if etag := s.etags[url]; etag != "" {
			req.Header.Set("If-None-Match", etag)
		}
		s.etagMu.Unlock()

		resp, err := s.client.Do(req)
		if err != nil {
			slog.Debug("metadata warm-up failed", "url", url, "error", err)
			continue
		}
		if etag := resp.Header.Get("ETag"); etag != "" {
			s.etagMu.Lock()
			s.etags[url] = etag
			s.etagMu.Unlock()
		}
		resp.Body.Close()
	}
}

// CachedETag returns the warmed ETag for a URL, if any.
func (s *Scheduler) CachedETag(url string) string {
	s.etagMu.Lock()
	defer s.etagMu.Unlock()
	return s.etags[url]
}
