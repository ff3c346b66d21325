package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"

	"github.com/ryanhale/tracksync/internal/models"
	"github.com/ryanhale/tracksync/internal/store"
)

// FeedState is the lifecycle of a live feed. A feed that failed to open is
// an error from Subscribe, never a Feed value, so it cannot be mistaken for
// an empty-but-healthy result set.
type FeedState string

const (
	FeedLive   FeedState = "live"
	FeedClosed FeedState = "closed"
)

// Feed is one consumer's live view over the location records matching a
// filter. Snapshot is the current result set; Updates delivers replacement
// result sets as matching records change remotely. Consumers must call
// Unsubscribe when done or the backend subscription leaks.
type Feed struct {
	id     string
	filter store.Filter
	sub    store.Subscription
	logger zerolog.Logger

	updates chan []models.LocationSample
	release func(id string)

	mu    sync.Mutex
	state FeedState
	once  sync.Once
}

// State reports the feed lifecycle state.
func (f *Feed) State() FeedState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Snapshot returns the current result set, restricted to the filter.
func (f *Feed) Snapshot() []models.LocationSample {
	return f.restrict(f.sub.Snapshot())
}

// Updates delivers replacement result sets. The channel closes after
// Unsubscribe.
func (f *Feed) Updates() <-chan []models.LocationSample {
	return f.updates
}

// Unsubscribe stops further notifications and releases the backend
// subscription. Safe to call more than once.
func (f *Feed) Unsubscribe() {
	f.once.Do(func() {
		f.mu.Lock()
		f.state = FeedClosed
		f.mu.Unlock()

		f.sub.Unsubscribe()
		f.release(f.id)
		f.logger.Debug().Str("feed_id", f.id).Msg("Feed unsubscribed")
	})
}

// pump forwards store notifications to the consumer until the subscription
// closes. Every forwarded set is re-checked against the filter so a feed
// never yields a record outside it.
func (f *Feed) pump() {
	defer close(f.updates)

	for snapshot := range f.sub.Updates() {
		f.mu.Lock()
		closed := f.state == FeedClosed
		f.mu.Unlock()
		if closed {
			return
		}

		restricted := f.restrict(snapshot)
		for {
			select {
			case f.updates <- restricted:
			default:
				// Slow consumer: drop the oldest pending set and retry
				// until the newest one lands. Each set is complete on its
				// own, so skipping intermediates is safe.
				select {
				case <-f.updates:
				default:
				}
				continue
			}
			break
		}
	}
}

func (f *Feed) restrict(snapshot []models.LocationSample) []models.LocationSample {
	out := make([]models.LocationSample, 0, len(snapshot))
	for _, sample := range snapshot {
		if f.filter.Matches(sample) {
			out = append(out, sample)
		}
	}
	return out
}

// FeedService opens live feeds over the remote store for authenticated
// principals and tears them down on shutdown.
type FeedService struct {
	store  store.Store
	logger zerolog.Logger

	feeds cmap.ConcurrentMap[string, *Feed]
}

// NewFeedService creates a FeedService.
func NewFeedService(st store.Store, logger zerolog.Logger) *FeedService {
	return &FeedService{
		store:  st,
		logger: logger,
		feeds:  cmap.New[*Feed](),
	}
}

// Start is a no-op; feeds open on demand.
func (s *FeedService) Start() error {
	s.logger.Info().Msg("FeedService ready")
	return nil
}

// Stop unsubscribes every feed still open.
func (s *FeedService) Stop() error {
	for item := range s.feeds.IterBuffered() {
		item.Val.Unsubscribe()
	}
	s.logger.Info().Msg("FeedService stopped")
	return nil
}

// Subscribe opens a live feed for the filter. An unresolved principal fails
// with ErrUnauthenticated before any backend call, so "not logged in" is
// always distinguishable from "no records yet".
func (s *FeedService) Subscribe(ctx context.Context, principal models.Principal, filter store.Filter) (*Feed, error) {
	if principal.OwnerID == "" {
		return nil, models.ErrUnauthenticated
	}

	sub, err := s.store.SubscribeLocations(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to open live feed: %w", err)
	}

	feed := &Feed{
		id:      uuid.New().String(),
		filter:  filter,
		sub:     sub,
		logger:  s.logger,
		updates: make(chan []models.LocationSample, 4),
		release: s.feeds.Remove,
		state:   FeedLive,
	}
	s.feeds.Set(feed.id, feed)

	go feed.pump()

	s.logger.Info().Str("feed_id", feed.id).Str("owner_filter", filter.OwnerID).Msg("Live feed opened")
	return feed, nil
}
