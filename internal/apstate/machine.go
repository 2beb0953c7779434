// Package apstate owns the AP item lifecycle. Every state change goes
// through the Machine: regular transitions follow a fixed table, merge
// and split are adjacent operations that rebuild the source-link set.
// No other component may mutate an item's state.
package apstate

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"ap-reconciliation-engine/internal/models"
	"ap-reconciliation-engine/internal/notify"
	"ap-reconciliation-engine/pkg/errors"
	"ap-reconciliation-engine/pkg/logger"
)

// allowedTransitions is the full lifecycle table. A transition absent
// here is rejected with invalid_transition. The merged pseudo-state is
// reachable only through the merge operation.
var allowedTransitions = map[models.APState][]models.APState{
	models.StateReceived:      {models.StateValidated},
	models.StateValidated:     {models.StateNeedsInfo, models.StateNeedsApproval},
	models.StateNeedsInfo:     {models.StateValidated},
	models.StateNeedsApproval: {models.StateApproved, models.StateRejected},
	models.StateApproved:      {models.StateReadyToPost, models.StateRejected},
	models.StateReadyToPost:   {models.StatePostedToErp, models.StateFailedPost},
	models.StateFailedPost:    {models.StateReadyToPost},
	models.StatePostedToErp:   {models.StateClosed},
}

// CanTransition reports whether the lifecycle table allows from -> to
func CanTransition(from, to models.APState) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// TransitionRequest carries one requested state change
type TransitionRequest struct {
	APItemID       string            `json:"ap_item_id"`
	ToState        models.APState    `json:"to_state"`
	ActorType      models.ActorType  `json:"actor_type"`
	ActorID        string            `json:"actor_id"`
	Reason         string            `json:"reason,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Validate performs basic validation on the request
func (r *TransitionRequest) Validate() error {
	if r.APItemID == "" {
		return fmt.Errorf("transition request requires an AP item ID")
	}
	if !r.ToState.IsValid() {
		return fmt.Errorf("unknown target state: %s", r.ToState)
	}
	if r.ToState == models.StateMerged {
		return fmt.Errorf("merged is reachable only through the merge operation")
	}
	if !r.ActorType.IsValid() {
		return fmt.Errorf("invalid actor type: %s", r.ActorType)
	}
	if r.ActorID == "" {
		return fmt.Errorf("transition request requires an actor ID")
	}
	return nil
}

// IdempotencyRecord remembers a committed transition keyed by its
// idempotency key. A replay with the same key and the same transition
// succeeds without side effects.
type IdempotencyRecord struct {
	Key       string         `json:"key" db:"key"`
	APItemID  string         `json:"ap_item_id" db:"ap_item_id"`
	FromState models.APState `json:"from_state" db:"from_state"`
	ToState   models.APState `json:"to_state" db:"to_state"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
}

// Store is the persistence contract the machine commits through. Commit
// must be atomic: the item writes, the idempotency record and the audit
// events land together or not at all, with the events appended in the
// given order so one operation reads contiguously.
type Store interface {
	GetItem(ctx context.Context, id string) (*models.APItem, error)
	GetIdempotency(ctx context.Context, key string) (*IdempotencyRecord, error)
	Commit(ctx context.Context, items []*models.APItem, record *IdempotencyRecord, events []*models.AuditEvent) error
}

// ErpPoster is the narrow slice of the ERP adapter the machine calls
// when an item moves to posted_to_erp.
type ErpPoster interface {
	ParkInvoice(ctx context.Context, item *models.APItem) (string, error)
}

// Machine drives AP item lifecycle changes. Transitions on the same
// item are totally ordered through a per-item lock; items are
// independent of each other.
type Machine struct {
	store    Store
	poster   ErpPoster
	notifier notify.Notifier
	log      logger.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewMachine creates a state machine over the given store
func NewMachine(store Store) *Machine {
	return &Machine{
		store:    store,
		notifier: notify.NopNotifier{},
		log:      logger.WithComponent("ap_state_machine"),
		locks:    make(map[string]*sync.Mutex),
	}
}

// AttachErp wires an ERP poster. With one attached, a transition to
// posted_to_erp parks the item first and a park failure lands the item
// in failed_post instead.
func (m *Machine) AttachErp(poster ErpPoster) {
	m.poster = poster
}

// AttachNotifier wires an outbound notifier for failed posts
func (m *Machine) AttachNotifier(notifier notify.Notifier) {
	if notifier != nil {
		m.notifier = notifier
	}
}

func (m *Machine) itemLock(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[id] = lock
	}
	return lock
}

// Transition applies one state change. Invalid moves are rejected with
// invalid_transition; replays of a committed idempotency key return the
// current item without re-emitting side effects.
func (m *Machine) Transition(ctx context.Context, req *TransitionRequest) (*models.APItem, error) {
	if err := req.Validate(); err != nil {
		return nil, errors.ValidationError(errors.CodeValidationError, "transition", req.APItemID, err.Error())
	}

	lock := m.itemLock(req.APItemID)
	lock.Lock()
	defer lock.Unlock()

	item, err := m.store.GetItem(ctx, req.APItemID)
	if err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" {
		record, err := m.store.GetIdempotency(ctx, req.IdempotencyKey)
		if err != nil && !errors.HasCode(err, errors.CodeNotFound) {
			return nil, err
		}
		if record != nil {
			// A key identifies one (item, from, to) transition. It replays
			// only while the item still sits in the recorded target state;
			// reusing it after the item moved on, or for a different
			// transition, is a conflict.
			if record.APItemID == req.APItemID && record.ToState == req.ToState && item.State == record.ToState {
				m.log.WithField("idempotency_key", req.IdempotencyKey).
					Debug("Replayed transition, returning current item")
				return item, nil
			}
			return nil, errors.ConflictError(errors.CodeIdempotencyReplay,
				fmt.Sprintf("idempotency key %q was recorded for transition %s -> %s of item %s",
					req.IdempotencyKey, record.FromState, record.ToState, record.APItemID))
		}
	}

	if !CanTransition(item.State, req.ToState) {
		return nil, errors.TransitionError(string(item.State), string(req.ToState))
	}

	if req.ToState == models.StatePostedToErp && m.poster != nil && req.Metadata["erp_document_ref"] == "" {
		ref, parkErr := m.poster.ParkInvoice(ctx, item)
		if parkErr != nil {
			return nil, m.failPost(ctx, item, req, parkErr)
		}
		if req.Metadata == nil {
			req.Metadata = make(map[string]string)
		}
		req.Metadata["erp_document_ref"] = ref
	}

	fromState := item.State
	item.State = req.ToState
	if req.ToState == models.StatePostedToErp {
		if ref := req.Metadata["erp_document_ref"]; ref != "" {
			if item.ExtraMetadata == nil {
				item.ExtraMetadata = make(map[string]string)
			}
			item.ExtraMetadata["erp_document_ref"] = ref
		}
	}
	item.UpdatedAt = time.Now().UTC()

	event := models.NewAuditEvent(item.OrganizationID, uuid.NewString(), "ap_item", item.ID, "transition")
	event.FromState = string(fromState)
	event.ToState = string(req.ToState)
	event.ActorType = req.ActorType
	event.ActorID = req.ActorID
	event.Reason = req.Reason
	event.Metadata = req.Metadata

	var record *IdempotencyRecord
	if req.IdempotencyKey != "" {
		record = &IdempotencyRecord{
			Key:       req.IdempotencyKey,
			APItemID:  item.ID,
			FromState: fromState,
			ToState:   req.ToState,
			CreatedAt: time.Now().UTC(),
		}
	}

	if err := m.store.Commit(ctx, []*models.APItem{item}, record, []*models.AuditEvent{event}); err != nil {
		return nil, err
	}

	m.log.WithFields(logger.Fields{
		"ap_item_id": item.ID,
		"from_state": string(fromState),
		"to_state":   string(req.ToState),
		"actor":      req.ActorID,
	}).Info("AP item transitioned")

	return item, nil
}

// failPost lands the item in failed_post after an ERP park failure and
// raises a notification. The returned error is the park failure; the
// caller retries by transitioning back to ready_to_post.
func (m *Machine) failPost(ctx context.Context, item *models.APItem, req *TransitionRequest, parkErr error) error {
	fromState := item.State
	item.State = models.StateFailedPost
	item.UpdatedAt = time.Now().UTC()

	event := models.NewAuditEvent(item.OrganizationID, uuid.NewString(), "ap_item", item.ID, "transition")
	event.FromState = string(fromState)
	event.ToState = string(models.StateFailedPost)
	event.ActorType = req.ActorType
	event.ActorID = req.ActorID
	event.Reason = fmt.Sprintf("erp park failed: %v", parkErr)

	if err := m.store.Commit(ctx, []*models.APItem{item}, nil, []*models.AuditEvent{event}); err != nil {
		return err
	}

	if err := m.notifier.Notify(ctx, &notify.Event{
		OrganizationID: item.OrganizationID,
		Kind:           notify.KindFailedPost,
		EntityType:     "ap_item",
		EntityID:       item.ID,
		Subject:        fmt.Sprintf("ERP post failed for %s (%s)", item.Vendor, item.ID),
		Detail:         parkErr.Error(),
		OccurredAt:     item.UpdatedAt,
	}); err != nil {
		m.log.WithError(err).Warn("Failed-post notification not delivered")
	}

	m.log.WithFields(logger.Fields{
		"ap_item_id": item.ID,
		"from_state": string(fromState),
	}).Warn("ERP park failed, item moved to failed_post")

	return parkErr
}

// Merge absorbs the source item into the target. The target takes over
// all of the source's links (dropping exact duplicates), the source
// enters the terminal merged pseudo-state with a back-pointer, and the
// target records the merge in its history. A source that is already
// merged cannot be merged again, so back-pointers never chain.
func (m *Machine) Merge(ctx context.Context, targetID, sourceID string, actorType models.ActorType, actorID, reason string) (*models.APItem, error) {
	if targetID == sourceID {
		return nil, errors.ValidationError(errors.CodeValidationError, "source", sourceID,
			"an item cannot be merged into itself")
	}

	// Lock both items in ID order to avoid deadlocks between
	// concurrent merges.
	ids := []string{targetID, sourceID}
	sort.Strings(ids)
	for _, id := range ids {
		lock := m.itemLock(id)
		lock.Lock()
		defer lock.Unlock()
	}

	target, err := m.store.GetItem(ctx, targetID)
	if err != nil {
		return nil, err
	}
	source, err := m.store.GetItem(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	if source.State == models.StateMerged {
		return nil, errors.ConflictError(errors.CodeConflict,
			fmt.Sprintf("item %s is already merged into %s", sourceID, source.MergedInto))
	}
	if target.State == models.StateMerged {
		return nil, errors.ConflictError(errors.CodeConflict,
			fmt.Sprintf("cannot merge into %s: it was merged into %s", targetID, target.MergedInto))
	}

	now := time.Now().UTC()
	for _, link := range source.SourceLinks {
		if target.HasSourceLink(link.SourceType, link.SourceRef) {
			continue
		}
		link.APItemID = target.ID
		target.SourceLinks = append(target.SourceLinks, link)
	}

	target.MergeHistory = append(target.MergeHistory, models.MergeRecord{
		SourceItemID: source.ID,
		Actor:        actorID,
		Reason:       reason,
		MergedAt:     now,
	})
	target.UpdatedAt = now

	source.SourceLinks = nil
	source.State = models.StateMerged
	source.MergedInto = target.ID
	source.UpdatedAt = now

	operationID := uuid.NewString()

	sourceEvent := models.NewAuditEvent(source.OrganizationID, operationID, "ap_item", source.ID, "merged_into")
	sourceEvent.ToState = string(models.StateMerged)
	sourceEvent.ActorType = actorType
	sourceEvent.ActorID = actorID
	sourceEvent.Reason = reason
	sourceEvent.Metadata = map[string]string{"merged_into": target.ID}

	targetEvent := models.NewAuditEvent(target.OrganizationID, operationID, "ap_item", target.ID, "absorbed")
	targetEvent.ActorType = actorType
	targetEvent.ActorID = actorID
	targetEvent.Reason = reason
	targetEvent.Metadata = map[string]string{"absorbed_item": source.ID}

	err = m.store.Commit(ctx,
		[]*models.APItem{target, source},
		nil,
		[]*models.AuditEvent{sourceEvent, targetEvent},
	)
	if err != nil {
		return nil, err
	}

	m.log.WithFields(logger.Fields{
		"target_id": target.ID,
		"source_id": source.ID,
	}).Info("AP items merged")

	return target, nil
}

// LinkSelector names one source link to carve out during a split
type LinkSelector struct {
	SourceType models.SourceType `json:"source_type"`
	SourceRef  string            `json:"source_ref"`
}

// Split carves selected source links out of the parent into fresh AP
// items. Each selected link yields one new item in needs_info that
// inherits the parent's vendor, amount and invoice-number defaults;
// the link moves to the child. The parent keeps its remaining links.
func (m *Machine) Split(ctx context.Context, parentID string, selectors []LinkSelector, actorType models.ActorType, actorID, reason string) ([]*models.APItem, error) {
	if len(selectors) == 0 {
		return nil, errors.ValidationError(errors.CodeMissingField, "selectors", "",
			"split requires at least one source link selector")
	}

	lock := m.itemLock(parentID)
	lock.Lock()
	defer lock.Unlock()

	parent, err := m.store.GetItem(ctx, parentID)
	if err != nil {
		return nil, err
	}

	if parent.State.IsTerminal() {
		return nil, errors.ConflictError(errors.CodeItemImmutable,
			fmt.Sprintf("cannot split item %s in terminal state %s", parentID, parent.State))
	}

	selected := make(map[string]bool, len(selectors))
	for _, sel := range selectors {
		key := string(sel.SourceType) + "|" + sel.SourceRef
		if !parent.HasSourceLink(sel.SourceType, sel.SourceRef) {
			return nil, errors.NotFoundError("source link", key)
		}
		selected[key] = true
	}

	now := time.Now().UTC()
	operationID := uuid.NewString()

	var children []*models.APItem
	var remaining []models.SourceLink
	var events []*models.AuditEvent

	for _, link := range parent.SourceLinks {
		if !selected[link.Key()] {
			remaining = append(remaining, link)
			continue
		}

		child := models.NewAPItem(parent.OrganizationID, parent.Vendor, parent.Total)
		child.InvoiceNumber = parent.InvoiceNumber
		child.InvoiceDate = parent.InvoiceDate
		child.DueDate = parent.DueDate
		child.State = models.StateNeedsInfo

		link.APItemID = child.ID
		child.SourceLinks = []models.SourceLink{link}
		children = append(children, child)

		event := models.NewAuditEvent(child.OrganizationID, operationID, "ap_item", child.ID, "split_from")
		event.ToState = string(models.StateNeedsInfo)
		event.ActorType = actorType
		event.ActorID = actorID
		event.Reason = reason
		event.Metadata = map[string]string{
			"parent_item": parent.ID,
			"source_link": link.Key(),
		}
		events = append(events, event)
	}

	parent.SourceLinks = remaining
	parent.UpdatedAt = now

	parentEvent := models.NewAuditEvent(parent.OrganizationID, operationID, "ap_item", parent.ID, "split")
	parentEvent.ActorType = actorType
	parentEvent.ActorID = actorID
	parentEvent.Reason = reason
	parentEvent.Metadata = map[string]string{"children": fmt.Sprintf("%d", len(children))}
	events = append(events, parentEvent)

	items := append([]*models.APItem{parent}, children...)
	if err := m.store.Commit(ctx, items, nil, events); err != nil {
		return nil, err
	}

	m.log.WithFields(logger.Fields{
		"parent_id": parent.ID,
		"children":  len(children),
	}).Info("AP item split")

	return children, nil
}
