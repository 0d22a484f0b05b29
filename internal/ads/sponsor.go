// Package ads implements the rewarded-ad collaborator with sponsor messages
// loaded from a JSON feed.
package ads

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// DefaultMinReload is the shortest gap between two feed loads.
const DefaultMinReload = 5 * time.Second

var (
	// ErrNoFill is returned by Load when no sponsor slot is available.
	ErrNoFill = errors.New("no sponsor slots available")
	// ErrNotReady is returned by Show when nothing is loaded.
	ErrNotReady = errors.New("no sponsor slot loaded")
)

// Slot is one sponsor message.
type Slot struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	Link string `json:"link"`
}

type feedResponse struct {
	Slots []Slot `json:"slots"`
}

// Presenter shows a sponsor slot to a user.
type Presenter interface {
	PresentSponsor(ctx context.Context, userID int64, slot Slot) error
}

// SponsorOpts configures a SponsorRewarder.
type SponsorOpts struct {
	// FeedURL is the sponsor feed. Empty means there is never anything to show.
	FeedURL string
	Timeout time.Duration
	// MinReload throttles reloads triggered by an emptied queue.
	MinReload time.Duration
}

// SponsorRewarder keeps a queue of sponsor slots and presents one per reward.
type SponsorRewarder struct {
	httpClient *resty.Client
	feedURL    string

	mu        sync.Mutex
	presenter Presenter
	queue     []Slot
	lastErr   string
	refill    chan struct{}
	limiter   *rate.Limiter
}

// NewSponsorRewarder creates a rewarder. Nothing is loaded until Load or
// Preload runs.
func NewSponsorRewarder(opts SponsorOpts) *SponsorRewarder {
	httpClient := resty.New().
		SetDebug(false).
		SetHeaders(map[string]string{
			"Accept":     "application/json",
			"User-Agent": "myakuari-bot/1.0",
		})
	if opts.Timeout > 0 {
		httpClient.SetTimeout(opts.Timeout)
	}
	minReload := opts.MinReload
	if minReload <= 0 {
		minReload = DefaultMinReload
	}

	return &SponsorRewarder{
		httpClient: httpClient,
		feedURL:    opts.FeedURL,
		refill:     make(chan struct{}, 1),
		limiter:    rate.NewLimiter(rate.Every(minReload), 1),
	}
}

// SetPresenter sets who shows the slots. It must be called before Show.
func (r *SponsorRewarder) SetPresenter(p Presenter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.presenter = p
}

// IsReady reports whether a slot is loaded.
func (r *SponsorRewarder) IsReady() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue) > 0
}

// LastLoadError returns the message of the most recent failed load, or "" if
// the last load succeeded or none has finished yet.
func (r *SponsorRewarder) LastLoadError() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Load fetches the feed and replaces the queue.
func (r *SponsorRewarder) Load(ctx context.Context) error {
	slots, err := r.fetch(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.lastErr = err.Error()
		return err
	}
	r.queue = slots
	r.lastErr = ""
	return nil
}

func (r *SponsorRewarder) fetch(ctx context.Context) ([]Slot, error) {
	if r.feedURL == "" {
		return nil, fmt.Errorf("%w: no feed configured", ErrNoFill)
	}

	result := &feedResponse{}
	res, err := r.httpClient.R().
		SetContext(ctx).
		SetResult(result).
		ForceContentType("application/json").
		Get(r.feedURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch sponsor feed: %w", err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("sponsor feed request failed (status: %d)", res.StatusCode())
	}

	slots := make([]Slot, 0, len(result.Slots))
	for _, s := range result.Slots {
		if s.Text != "" {
			slots = append(slots, s)
		}
	}
	if len(slots) == 0 {
		return nil, ErrNoFill
	}

	log.Debug().Int("slots", len(slots)).Msg("sponsor feed loaded")
	return slots, nil
}

// Show presents the next slot and calls onReward once the user has seen it.
// The slot is consumed whether or not presenting succeeds.
func (r *SponsorRewarder) Show(ctx context.Context, userID int64, onReward func()) error {
	r.mu.Lock()
	if len(r.queue) == 0 {
		r.mu.Unlock()
		return ErrNotReady
	}
	slot := r.queue[0]
	r.queue = r.queue[1:]
	empty := len(r.queue) == 0
	presenter := r.presenter
	r.mu.Unlock()

	if empty {
		r.requestRefill()
	}

	if presenter == nil {
		return errors.New("no sponsor presenter set")
	}
	if err := presenter.PresentSponsor(ctx, userID, slot); err != nil {
		return fmt.Errorf("failed to present sponsor %s: %w", slot.ID, err)
	}

	log.Info().Int64("userId", userID).Str("slot", slot.ID).Msg("sponsor shown")
	onReward()
	return nil
}

func (r *SponsorRewarder) requestRefill() {
	select {
	case r.refill <- struct{}{}:
	default:
	}
}

// Preload loads the feed immediately, then again every interval and whenever
// the queue runs empty, until ctx is cancelled. Loads are at least MinReload
// apart.
func (r *SponsorRewarder) Preload(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil
		}
		if err := r.Load(ctx); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("sponsor feed load failed")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-r.refill:
		}
	}
}
