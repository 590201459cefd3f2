package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wacompose/internal/constants"
	"wacompose/internal/errors"
	"wacompose/internal/events"
	"wacompose/internal/metrics"
	"wacompose/internal/tracing"
	"wacompose/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// UpdateOutcome is what applying one update did to the history
type UpdateOutcome string

const (
	OutcomeInserted  UpdateOutcome = "inserted"
	OutcomeDuplicate UpdateOutcome = "duplicate"
	OutcomeReplaced  UpdateOutcome = "replaced"
	OutcomeNotified  UpdateOutcome = "notified"
)

// ReceiptOutcome is what merging one receipt did
type ReceiptOutcome string

const (
	ReceiptApplied ReceiptOutcome = "applied"
	// ReceiptStale means every timestamp carried was older than the stored one
	ReceiptStale ReceiptOutcome = "stale"
	// ReceiptUnknown means the message is not in the history
	ReceiptUnknown ReceiptOutcome = "unknown"
)

// Reconciler applies inbound updates and receipts to a history store and
// publishes what changed on the event bus
type Reconciler struct {
	store  types.HistoryStore
	bus    *events.Bus
	logger *logrus.Logger
	now    func() time.Time

	// serializes read-modify-write cycles against the store
	mu sync.Mutex
}

func NewReconciler(store types.HistoryStore, bus *events.Bus, logger *logrus.Logger) *Reconciler {
	return &Reconciler{
		store:  store,
		bus:    bus,
		logger: logger,
		now:    time.Now,
	}
}

func validateKey(key types.MessageKey) error {
	if key.RemoteJID == "" || key.ID == "" {
		return errors.NewInvalidContentError("key", "message key needs remoteJid and id")
	}
	return nil
}

// Apply applies one update according to updateType
func (r *Reconciler) Apply(ctx context.Context, updateType types.MessageUpdateType, update types.MessageUpdate) (UpdateOutcome, error) {
	if err := validateKey(update.Key); err != nil {
		return "", err
	}
	info := &types.WebMessageInfo{Key: update.Key}
	update.Update.ApplyTo(info)

	switch updateType {
	case types.UpdateAppend, types.UpdateReplace:
		return r.upsert(ctx, updateType, info)
	case types.UpdateNotify:
		patch := update.Update
		r.publish(events.KindUpdate, updateType, update.Key, func(ev *events.Event) { ev.Update = &patch })
		r.record(ctx, updateType, OutcomeNotified, update.Key)
		return OutcomeNotified, nil
	}
	return "", errors.NewInvalidContentError("type", fmt.Sprintf("unknown message update type %q", updateType))
}

// Append inserts info unless a record with its key exists
func (r *Reconciler) Append(ctx context.Context, info *types.WebMessageInfo) (UpdateOutcome, error) {
	if err := validateKey(info.Key); err != nil {
		return "", err
	}
	return r.upsert(ctx, types.UpdateAppend, info)
}

func (r *Reconciler) upsert(ctx context.Context, updateType types.MessageUpdateType, info *types.WebMessageInfo) (UpdateOutcome, error) {
	if info.Message != nil {
		if err := info.Message.Validate(); err != nil {
			metrics.RecordReconcile(string(updateType), "invalid")
			return "", errors.NewInvalidContentError("message", err.Error())
		}
	}

	ctx, span := tracing.StartSpan(ctx, "reconciler.upsert",
		attribute.String("update_type", string(updateType)))
	defer span.End()

	r.mu.Lock()
	var (
		outcome UpdateOutcome
		err     error
	)
	if updateType == types.UpdateReplace {
		err = r.store.Put(ctx, info)
		outcome = OutcomeReplaced
	} else {
		var inserted bool
		inserted, err = r.store.InsertIfAbsent(ctx, info)
		outcome = OutcomeDuplicate
		if inserted {
			outcome = OutcomeInserted
		}
	}
	r.mu.Unlock()

	if err != nil {
		tracing.RecordError(ctx, err)
		metrics.RecordReconcile(string(updateType), "error")
		return "", err
	}

	if outcome != OutcomeDuplicate {
		r.publish(events.KindUpsert, updateType, info.Key, func(ev *events.Event) { ev.Message = info })
	}
	r.record(ctx, updateType, outcome, info.Key)
	return outcome, nil
}

// ApplyReceipt merges a receipt into the stored message. Each timestamp is
// applied only when it is not older than the one stored for that user and
// kind.
func (r *Reconciler) ApplyReceipt(ctx context.Context, update types.MessageUserReceiptUpdate) (ReceiptOutcome, error) {
	if err := validateKey(update.Key); err != nil {
		return "", err
	}
	if update.Receipt.UserJID == "" {
		return "", errors.NewInvalidContentError("receipt", "receipt needs userJid")
	}
	carried := 0
	for _, kind := range types.ReceiptKinds {
		if update.Receipt.Timestamp(kind) != nil {
			carried++
		}
	}
	if carried == 0 {
		return "", errors.NewInvalidContentError("receipt", "receipt carries no timestamp")
	}

	ctx, span := tracing.StartSpan(ctx, "reconciler.receipt")
	defer span.End()

	r.mu.Lock()
	outcome, merged, err := r.mergeReceipt(ctx, update)
	r.mu.Unlock()
	if err != nil {
		tracing.RecordError(ctx, err)
		return "", err
	}

	metrics.RecordReceipt(string(outcome))
	entry := LogWithContext(ctx, r.logger).WithFields(chatFields(ctx, update.Key.RemoteJID, &update.Key)).
		WithField(LogFieldOutcome, outcome)
	switch outcome {
	case ReceiptApplied:
		r.publish(events.KindReceipt, "", update.Key, func(ev *events.Event) { ev.Receipt = merged })
		entry.Debug("Merged receipt")
	case ReceiptStale:
		entry.Debug("Discarded stale receipt")
	case ReceiptUnknown:
		entry.Debug("Discarded receipt for unknown message")
	}
	return outcome, nil
}

func (r *Reconciler) mergeReceipt(ctx context.Context, update types.MessageUserReceiptUpdate) (ReceiptOutcome, *types.UserReceipt, error) {
	info, err := r.store.Get(ctx, update.Key)
	if err != nil {
		return "", nil, err
	}
	if info == nil {
		return ReceiptUnknown, nil, nil
	}

	user := types.NormalizeUserJID(update.Receipt.UserJID)
	idx := -1
	for i := range info.UserReceipts {
		if types.NormalizeUserJID(info.UserReceipts[i].UserJID) == user {
			idx = i
			break
		}
	}
	if idx < 0 {
		info.UserReceipts = append(info.UserReceipts, types.UserReceipt{UserJID: update.Receipt.UserJID})
		idx = len(info.UserReceipts) - 1
	}
	stored := &info.UserReceipts[idx]

	applied := false
	for _, kind := range types.ReceiptKinds {
		incoming := update.Receipt.Timestamp(kind)
		if incoming == nil {
			continue
		}
		if current := stored.Timestamp(kind); current != nil && *incoming < *current {
			continue
		}
		stored.SetTimestamp(kind, *incoming)
		applied = true
	}
	if !applied {
		return ReceiptStale, nil, nil
	}

	if err := r.store.Put(ctx, info); err != nil {
		return "", nil, err
	}
	merged := *stored
	return ReceiptApplied, &merged, nil
}

// Messages reads one page of the history of jid around cursor. limit is
// clamped to the page size bounds; 0 selects the default page size.
func (r *Reconciler) Messages(ctx context.Context, jid string, cursor types.Cursor, limit int) (types.HistoryIterator, error) {
	if jid == "" {
		return nil, errors.NewInvalidContentError("jid", "jid is required")
	}
	switch {
	case limit <= 0:
		limit = constants.DefaultHistoryPageSize
	case limit > constants.MaxHistoryPageSize:
		limit = constants.MaxHistoryPageSize
	}
	return r.store.Messages(ctx, jid, cursor, limit)
}

func (r *Reconciler) publish(kind events.Kind, updateType types.MessageUpdateType, key types.MessageKey, fill func(*events.Event)) {
	if r.bus == nil {
		return
	}
	ev := events.NewEvent(kind, key, r.now())
	ev.UpdateType = updateType
	fill(&ev)
	r.bus.Publish(ev)
}

func (r *Reconciler) record(ctx context.Context, updateType types.MessageUpdateType, outcome UpdateOutcome, key types.MessageKey) {
	metrics.RecordReconcile(string(updateType), string(outcome))
	LogWithContext(ctx, r.logger).WithFields(chatFields(ctx, key.RemoteJID, &key)).WithFields(logrus.Fields{
		LogFieldUpdateType: updateType,
		LogFieldOutcome:    outcome,
	}).Debug("Applied message update")
}
