package messaging

import (
	"context"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"convo-service/internal/models"
	"convo-service/internal/observability"
	"convo-service/internal/repositories"
)

// ReconcileResult summarizes one catch-up run.
type ReconcileResult struct {
	Delivered int
	Batches   int
	// Truncated is set when the batch cap was reached with work left; the rest
	// is picked up on the next connect.
	Truncated bool
}

// Reconciler marks messages sent while a user was offline as delivered once the
// user connects, and tells each sender.
type Reconciler struct {
	messages   repositories.MessageRepository
	dispatcher Dispatcher
	locks      *convLocks
	batchSize  int
	maxBatches int
	logger     *zap.Logger
}

// NewReconciler shares the conversation locks of the coordinator so that catch-up
// events are ordered with live ones.
func NewReconciler(coordinator *Coordinator, batchSize, maxBatches int, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		messages:   coordinator.messages,
		dispatcher: coordinator.dispatcher,
		locks:      coordinator.locks,
		batchSize:  batchSize,
		maxBatches: maxBatches,
		logger:     logger,
	}
}

type senderKey struct {
	conversationID int64
	senderID       int64
}

// Reconcile pages through the user's undelivered messages in id order.
func (r *Reconciler) Reconcile(ctx context.Context, userID int64) (res ReconcileResult, err error) {
	ctx, span := tracer.Start(ctx, "messaging.Reconcile", trace.WithAttributes(attribute.Int64("user_id", userID)))
	defer func() {
		span.SetAttributes(
			attribute.Int("delivered", res.Delivered),
			attribute.Bool("truncated", res.Truncated),
		)
		endSpan(span, err)
	}()

	var afterID int64
	for res.Batches < r.maxBatches {
		page, err := r.messages.FindUndeliveredFor(ctx, userID, afterID, r.batchSize)
		if err != nil {
			observability.IncReconcileRun("error")
			return res, storeError(err, "find undelivered")
		}
		if len(page) == 0 {
			break
		}
		res.Batches++

		n, err := r.deliverPage(ctx, userID, page)
		res.Delivered += n
		if err != nil {
			observability.IncReconcileRun("error")
			return res, err
		}
		if len(page) < r.batchSize {
			observability.IncReconcileRun("complete")
			return res, nil
		}
		afterID = page[len(page)-1].ID
		if res.Batches == r.maxBatches {
			more, err := r.messages.FindUndeliveredFor(ctx, userID, afterID, 1)
			if err != nil {
				observability.IncReconcileRun("error")
				return res, storeError(err, "find undelivered")
			}
			res.Truncated = len(more) > 0
		}
	}

	if res.Truncated {
		observability.IncReconcileRun("truncated")
		r.logger.Info("reconcile truncated",
			zap.Int64("user_id", userID),
			zap.Int("delivered", res.Delivered),
			zap.Int("batches", res.Batches))
	} else {
		observability.IncReconcileRun("complete")
	}
	return res, nil
}

// deliverPage commits one batch write and notifies senders while holding the
// locks of every conversation the page touches.
func (r *Reconciler) deliverPage(ctx context.Context, userID int64, page []models.Message) (int, error) {
	ids := lo.Map(page, func(m models.Message, _ int) int64 { return m.ID })
	convIDs := lo.Uniq(lo.Map(page, func(m models.Message, _ int) int64 { return m.ConversationID }))

	unlock := r.locks.lockMany(convIDs)
	defer unlock()

	changes, err := r.messages.MarkDeliveredBatch(ctx, ids)
	if err != nil {
		return 0, storeError(err, "mark delivered batch")
	}

	groups := make(map[senderKey][]int64)
	var order []senderKey
	for _, ch := range changes {
		key := senderKey{conversationID: ch.ConversationID, senderID: ch.SenderID}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], ch.MessageID)
	}
	for _, key := range order {
		r.dispatcher.SendToUser(key.senderID, models.Event{
			Type: models.EventMessageStatusUpdated,
			Data: models.MessageStatusPayload{
				MessageIDs:     groups[key],
				ConversationID: key.conversationID,
				Status:         models.StatusDelivered,
				UpdatedBy:      userID,
			},
		})
	}
	observability.AddStatusTransitions(models.StatusDelivered, "reconcile", len(changes))
	return len(changes), nil
}
