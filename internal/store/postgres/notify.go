package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/ryanhale/tracksync/internal/models"
	"github.com/ryanhale/tracksync/internal/store"
)

const locationChannel = "location_events"

// changeNotification is the payload emitted by the notify trigger.
type changeNotification struct {
	Operation string    `json:"operation"`
	Table     string    `json:"table"`
	Timestamp time.Time `json:"timestamp"`
}

type queryFunc func(ctx context.Context, filter store.Filter) ([]models.LocationSample, error)

// notifier bridges Postgres LISTEN/NOTIFY into per-subscription result-set
// pushes. Every change to the locations collection triggers a requery for
// each open subscription, so subscribers always observe a consistent full
// result set rather than raw row deltas.
type notifier struct {
	db       *gorm.DB
	listener *pq.Listener
	query    queryFunc
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	subs map[string]*subscription
}

func newNotifier(db *gorm.DB, dsn string, query queryFunc, logger zerolog.Logger) (*notifier, error) {
	ctx, cancel := context.WithCancel(context.Background())

	reportProblem := func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Error().Err(err).Msg("PostgreSQL listener error")
		}
	}
	listener := pq.NewListener(dsn, 10*time.Second, time.Minute, reportProblem)

	n := &notifier{
		db:       db,
		listener: listener,
		query:    query,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		subs:     make(map[string]*subscription),
	}

	if err := n.setupTrigger(); err != nil {
		cancel()
		return nil, err
	}
	if err := listener.Listen(locationChannel); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to listen on channel %s: %w", locationChannel, err)
	}
	return n, nil
}

func (n *notifier) setupTrigger() error {
	createFunctionSQL := fmt.Sprintf(`
	CREATE OR REPLACE FUNCTION notify_location_change() RETURNS trigger AS $$
	BEGIN
		PERFORM pg_notify('%s', json_build_object(
			'operation', TG_OP,
			'table', TG_TABLE_NAME,
			'timestamp', now()
		)::text);

		IF TG_OP = 'DELETE' THEN
			RETURN OLD;
		ELSE
			RETURN NEW;
		END IF;
	END;
	$$ LANGUAGE plpgsql;`, locationChannel)

	if err := n.db.Exec(createFunctionSQL).Error; err != nil {
		return fmt.Errorf("failed to create notify function: %w", err)
	}

	triggerSQL := `
	DROP TRIGGER IF EXISTS locations_change_trigger ON locations;
	CREATE TRIGGER locations_change_trigger
		AFTER INSERT OR UPDATE OR DELETE ON locations
		FOR EACH ROW EXECUTE FUNCTION notify_location_change();`

	if err := n.db.Exec(triggerSQL).Error; err != nil {
		return fmt.Errorf("failed to create locations trigger: %w", err)
	}
	return nil
}

// Start begins the notification loop.
func (n *notifier) Start() error {
	go n.listenForChanges()
	n.logger.Info().Str("channel", locationChannel).Msg("Location change notifier started")
	return nil
}

// Stop ends the loop and closes every open subscription.
func (n *notifier) Stop() {
	n.cancel()

	n.mu.Lock()
	subs := make([]*subscription, 0, len(n.subs))
	for _, sub := range n.subs {
		subs = append(subs, sub)
	}
	n.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}

	if err := n.listener.Close(); err != nil {
		n.logger.Error().Err(err).Msg("Failed to close PostgreSQL listener")
	}
	n.logger.Info().Msg("Location change notifier stopped")
}

func (n *notifier) listenForChanges() {
	for {
		select {
		case notification := <-n.listener.Notify:
			if notification != nil {
				n.handleNotification(notification.Extra)
			}
		case <-time.After(90 * time.Second):
			if err := n.listener.Ping(); err != nil {
				n.logger.Error().Err(err).Msg("PostgreSQL listener ping failed")
				return
			}
		case <-n.ctx.Done():
			return
		}
	}
}

func (n *notifier) handleNotification(payload string) {
	var event changeNotification
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		n.logger.Error().Err(err).Str("payload", payload).Msg("Failed to parse change notification")
		return
	}
	if event.Table != "locations" {
		return
	}

	n.mu.Lock()
	subs := make([]*subscription, 0, len(n.subs))
	for _, sub := range n.subs {
		subs = append(subs, sub)
	}
	n.mu.Unlock()

	for _, sub := range subs {
		ctx, cancel := context.WithTimeout(n.ctx, 30*time.Second)
		snapshot, err := n.query(ctx, sub.filter)
		cancel()
		if err != nil {
			n.logger.Error().Err(err).Msg("Requery after change notification failed")
			continue
		}
		sub.push(snapshot)
	}
}

// subscribe registers a new live result set seeded with the given snapshot.
func (n *notifier) subscribe(filter store.Filter, snapshot []models.LocationSample) *subscription {
	sub := &subscription{
		id:       uuid.New().String(),
		filter:   filter,
		snapshot: snapshot,
		updates:  make(chan []models.LocationSample, 4),
		remove:   n.removeSubscription,
	}

	n.mu.Lock()
	n.subs[sub.id] = sub
	n.mu.Unlock()

	return sub
}

func (n *notifier) removeSubscription(id string) {
	n.mu.Lock()
	delete(n.subs, id)
	n.mu.Unlock()
}

// subscription implements store.Subscription over the notifier fanout.
type subscription struct {
	id     string
	filter store.Filter
	remove func(id string)

	mu       sync.Mutex
	snapshot []models.LocationSample
	closed   bool
	updates  chan []models.LocationSample
}

func (s *subscription) Snapshot() []models.LocationSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.LocationSample, len(s.snapshot))
	copy(out, s.snapshot)
	return out
}

func (s *subscription) Updates() <-chan []models.LocationSample {
	return s.updates
}

// push records the new result set and hands it to the consumer. A slow
// consumer drops the oldest pending set; each delivered set is complete, so
// skipping intermediates is safe.
func (s *subscription) push(snapshot []models.LocationSample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.snapshot = snapshot

	for {
		select {
		case s.updates <- snapshot:
			return
		default:
			select {
			case <-s.updates:
			default:
			}
		}
	}
}

func (s *subscription) Unsubscribe() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.remove(s.id)
	close(s.updates)
}
