package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/feed-system/snapgram/internal/services"
	"github.com/feed-system/snapgram/pkg/logger"
	"github.com/feed-system/snapgram/pkg/queue"
	"github.com/google/uuid"
)

// Subscriber 消费一个 topic，KafkaConsumer 实现了它
type Subscriber interface {
	Subscribe(ctx context.Context, handler func(queue.Message) error) error
	Close() error
}

// FeedWorker 根据领域事件校正冗余计数，并定期做全量校正
type FeedWorker struct {
	subscribers []Subscriber
	reconciler  *services.ReconcileService
	interval    time.Duration
	logger      *logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewFeedWorker(reconciler *services.ReconcileService, interval time.Duration, logger *logger.Logger, subscribers ...Subscriber) *FeedWorker {
	return &FeedWorker{
		subscribers: subscribers,
		reconciler:  reconciler,
		interval:    interval,
		logger:      logger,
	}
}

// Start 阻塞直到 ctx 结束或 Stop 被调用
func (w *FeedWorker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()
	w.logger.WithField("subscribers", len(w.subscribers)).Info("Starting feed worker...")

	errCh := make(chan error, len(w.subscribers))
	for _, sub := range w.subscribers {
		w.wg.Add(1)
		go func(sub Subscriber) {
			defer w.wg.Done()
			if err := sub.Subscribe(ctx, func(msg queue.Message) error {
				return w.HandleMessage(ctx, msg)
			}); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- err
			}
		}(sub)
	}

	if w.interval > 0 {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.reconcileLoop(ctx)
		}()
	}

	select {
	case <-ctx.Done():
		w.wg.Wait()
		return nil
	case err := <-errCh:
		cancel()
		w.wg.Wait()
		return err
	}
}

func (w *FeedWorker) Stop() error {
	w.logger.Info("Stopping feed worker...")
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
	}
	w.mu.Unlock()

	var errs []error
	for _, sub := range w.subscribers {
		errs = append(errs, sub.Close())
	}
	return errors.Join(errs...)
}

func (w *FeedWorker) reconcileLoop(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.reconciler.ReconcileAll(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.WithError(err).Error("Periodic reconciliation failed")
			}
		}
	}
}

// HandleMessage 处理单条事件，重复投递是安全的
func (w *FeedWorker) HandleMessage(ctx context.Context, msg queue.Message) error {
	event, err := queue.DecodeEvent(msg)
	if err != nil {
		return err
	}

	w.logger.WithFields(map[string]interface{}{
		"event_type": event.Type,
		"timestamp":  event.Timestamp,
	}).Debug("Processing event")

	switch event.Type {
	case queue.EventFollowCreated, queue.EventFollowDeleted:
		return w.handleFollow(ctx, event)
	case queue.EventPostCreated, queue.EventPostDeleted:
		return w.handlePost(ctx, event)
	case queue.EventLikeCreated, queue.EventLikeDeleted:
		var data queue.LikeEventData
		if err := event.Bind(&data); err != nil {
			return err
		}
		return w.reconcilePost(ctx, data.PostID)
	case queue.EventCommentCreated, queue.EventCommentDeleted:
		var data queue.CommentEventData
		if err := event.Bind(&data); err != nil {
			return err
		}
		return w.reconcilePost(ctx, data.PostID)
	case queue.EventUserRegistered, queue.EventProfileUpdated:
		return nil
	default:
		w.logger.WithField("event_type", event.Type).Warn("Unknown event type")
		return nil
	}
}

func (w *FeedWorker) handleFollow(ctx context.Context, event *queue.ReceivedEvent) error {
	var data queue.FollowEventData
	if err := event.Bind(&data); err != nil {
		return err
	}
	follower, err := parseID("follower_id", data.FollowerID)
	if err != nil {
		return err
	}
	following, err := parseID("following_id", data.FollowingID)
	if err != nil {
		return err
	}

	_, err = w.reconciler.ReconcileUsers(ctx, follower, following)
	return err
}

func (w *FeedWorker) handlePost(ctx context.Context, event *queue.ReceivedEvent) error {
	var data queue.PostEventData
	if err := event.Bind(&data); err != nil {
		return err
	}
	author, err := parseID("user_id", data.UserID)
	if err != nil {
		return err
	}
	if _, err := w.reconciler.ReconcileUsers(ctx, author); err != nil {
		return err
	}

	if event.Type == queue.EventPostCreated {
		return w.reconcilePost(ctx, data.PostID)
	}
	return nil
}

func (w *FeedWorker) reconcilePost(ctx context.Context, rawID string) error {
	postID, err := parseID("post_id", rawID)
	if err != nil {
		return err
	}
	_, err = w.reconciler.ReconcilePost(ctx, postID)
	return err
}

func parseID(field, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s %q: %w", field, raw, err)
	}
	return id, nil
}
