// Package avatar fetches Bitmoji avatars for the archive index, falling
// back to a locally synthesised ghost avatar whenever a fetch fails. Every
// requested username gets an entry, no exceptions.
package avatar

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/errgroup"

	"github.com/teilen/snap-to-days/stats"
)

const (
	snapcodeURL = "https://app.snapchat.com/web/deeplink/snapcode"

	requestTimeout = 10 * time.Second
	retryCount     = 3
	retryWait      = 500 * time.Millisecond
	maxWorkers     = 8

	avatarSize = 54
)

var unsafeFilenameChars = regexp.MustCompile(`[^\w\-.]`)

// Options configures a Provider.
type Options struct {
	// Offline skips all network fetches and synthesises every avatar.
	Offline bool
	// UserAgent overrides the default request header when non-empty.
	UserAgent string
}

// Provider resolves usernames to saved avatar files.
type Provider struct {
	client  *resty.Client
	offline bool
	logger  *slog.Logger
	emit    func(stats.Event)
}

func NewProvider(opts Options, logger *slog.Logger, emit func(stats.Event)) *Provider {
	if emit == nil {
		emit = func(stats.Event) {}
	}
	agent := opts.UserAgent
	if agent == "" {
		agent = "snap-to-days/1.0"
	}

	client := resty.New().
		SetTimeout(requestTimeout).
		SetRetryCount(retryCount).
		SetRetryWaitTime(retryWait).
		SetHeader("User-Agent", agent)

	return &Provider{
		client:  client,
		offline: opts.Offline,
		logger:  logger,
		emit:    emit,
	}
}

// Generate fetches or synthesises an avatar for every username and saves
// each under outputDir/bitmoji, returning username -> relative path. Fetch
// failures degrade to fallbacks and never fail the phase.
func (p *Provider) Generate(ctx context.Context, usernames []string, outputDir string) (map[string]string, error) {
	paths := make(map[string]string, len(usernames))
	if len(usernames) == 0 {
		return paths, nil
	}

	p.emit(stats.Event{Phase: stats.PhaseAvatar, Type: stats.EventTypePhaseStart, Total: len(usernames)})
	defer p.emit(stats.Event{Phase: stats.PhaseAvatar, Type: stats.EventTypePhaseDone})

	bitmojiDir := filepath.Join(outputDir, "bitmoji")
	if err := os.MkdirAll(bitmojiDir, 0o755); err != nil {
		return nil, fmt.Errorf("create bitmoji directory: %w", err)
	}

	workers := maxWorkers
	if len(usernames) < workers {
		workers = len(usernames)
	}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, username := range usernames {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			svg, fetched := p.avatarSVG(ctx, username)
			filename := sanitizeFilename(username) + ".svg"
			if err := os.WriteFile(filepath.Join(bitmojiDir, filename), []byte(svg), 0o644); err != nil {
				return fmt.Errorf("save avatar for %s: %w", username, err)
			}

			mu.Lock()
			paths[username] = "bitmoji/" + filename
			mu.Unlock()

			evt := stats.EventTypeAvatarFetched
			if !fetched {
				evt = stats.EventTypeAvatarFallback
			}
			p.emit(stats.Event{Phase: stats.PhaseAvatar, Type: evt, Name: username})
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return paths, err
	}
	return paths, nil
}

func (p *Provider) avatarSVG(ctx context.Context, username string) (svg string, fetched bool) {
	if p.offline {
		return FallbackSVG(username), false
	}

	svg, err := p.fetch(ctx, username)
	if err != nil {
		if p.logger != nil {
			p.logger.Warn("bitmoji fetch failed, using fallback", "username", username, "err", err)
		}
		return FallbackSVG(username), false
	}
	return svg, true
}

// fetch retrieves the Snapcode SVG for a username and lifts its embedded
// image into a clean fixed-size SVG.
func (p *Provider) fetch(ctx context.Context, username string) (string, error) {
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"username": username,
			"type":     "SVG",
			"bitmoji":  "enable",
		}).
		Get(snapcodeURL)
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", fmt.Errorf("snapcode request: %s", resp.Status())
	}

	href, err := imageHref(resp.Body())
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(
		`<svg viewBox="0 0 %d %d" xmlns="http://www.w3.org/2000/svg" xmlns:xlink="http://www.w3.org/1999/xlink">`+
			`<image href="%s" x="0" y="0" width="%d" height="%d"/></svg>`,
		avatarSize, avatarSize, href, avatarSize, avatarSize), nil
}

// sanitizeFilename makes a username safe for use as a filename.
func sanitizeFilename(name string) string {
	cleaned := unsafeFilenameChars.ReplaceAllString(name, "_")
	if cleaned == "" {
		return "user"
	}
	return cleaned
}
