package apstate

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"ap-reconciliation-engine/internal/erp"
	"ap-reconciliation-engine/internal/models"
	"ap-reconciliation-engine/internal/notify"
	"ap-reconciliation-engine/pkg/errors"
)

type recordingNotifier struct {
	events []*notify.Event
}

func (r *recordingNotifier) Notify(ctx context.Context, event *notify.Event) error {
	r.events = append(r.events, event)
	return nil
}

func advanceToReadyToPost(t *testing.T, machine *Machine, itemID string) {
	t.Helper()
	for _, to := range []models.APState{
		models.StateValidated,
		models.StateNeedsApproval,
		models.StateApproved,
		models.StateReadyToPost,
	} {
		if _, err := machine.Transition(context.Background(), transitionReq(itemID, to, "")); err != nil {
			t.Fatalf("Transition to %s failed: %v", to, err)
		}
	}
}

func TestPostParksInvoice(t *testing.T) {
	store := NewMemoryStore()
	machine := NewMachine(store)
	adapter := erp.NewMemoryAdapter(false)
	machine.AttachErp(adapter)
	ctx := context.Background()

	item := createTestItem(t, store)
	advanceToReadyToPost(t, machine, item.ID)

	posted, err := machine.Transition(ctx, transitionReq(item.ID, models.StatePostedToErp, ""))
	if err != nil {
		t.Fatalf("Post transition failed: %v", err)
	}

	ref := posted.ExtraMetadata["erp_document_ref"]
	if !strings.HasPrefix(ref, "ERP-INV-") {
		t.Errorf("Expected a parked document reference, got %q", ref)
	}

	parked, ok := adapter.Parked("ap_item", item.ID)
	if !ok || parked != ref {
		t.Errorf("Expected adapter to record %q, got %q", ref, parked)
	}
}

func TestPostDryRunSimulates(t *testing.T) {
	store := NewMemoryStore()
	machine := NewMachine(store)
	adapter := erp.NewMemoryAdapter(true)
	machine.AttachErp(adapter)
	ctx := context.Background()

	item := createTestItem(t, store)
	advanceToReadyToPost(t, machine, item.ID)

	posted, err := machine.Transition(ctx, transitionReq(item.ID, models.StatePostedToErp, ""))
	if err != nil {
		t.Fatalf("Post transition failed: %v", err)
	}

	if !strings.HasPrefix(posted.ExtraMetadata["erp_document_ref"], "SIM-INV-") {
		t.Errorf("Expected a simulated reference, got %q", posted.ExtraMetadata["erp_document_ref"])
	}
	if _, ok := adapter.Parked("ap_item", item.ID); ok {
		t.Error("Expected dry run to record nothing in the adapter")
	}
}

func TestPostParkFailureLandsInFailedPost(t *testing.T) {
	store := NewMemoryStore()
	machine := NewMachine(store)
	adapter := erp.NewMemoryAdapter(false)
	notifier := &recordingNotifier{}
	machine.AttachErp(adapter)
	machine.AttachNotifier(notifier)
	ctx := context.Background()

	item := createTestItem(t, store)
	advanceToReadyToPost(t, machine, item.ID)

	adapter.FailParks(fmt.Errorf("gateway timeout"))
	_, err := machine.Transition(ctx, transitionReq(item.ID, models.StatePostedToErp, ""))
	if !errors.HasCode(err, errors.CodeExternalFailure) {
		t.Fatalf("Expected external_failure, got %v", err)
	}

	current, _ := store.GetItem(ctx, item.ID)
	if current.State != models.StateFailedPost {
		t.Errorf("Expected failed_post, got %s", current.State)
	}

	if len(notifier.events) != 1 || notifier.events[0].Kind != notify.KindFailedPost {
		t.Fatalf("Expected one failed_post notification, got %v", notifier.events)
	}

	// Retry: failed_post -> ready_to_post -> posted_to_erp
	adapter.FailParks(nil)
	if _, err := machine.Transition(ctx, transitionReq(item.ID, models.StateReadyToPost, "")); err != nil {
		t.Fatalf("Retry transition failed: %v", err)
	}
	posted, err := machine.Transition(ctx, transitionReq(item.ID, models.StatePostedToErp, ""))
	if err != nil {
		t.Fatalf("Retried post failed: %v", err)
	}
	if posted.ExtraMetadata["erp_document_ref"] == "" {
		t.Error("Expected a document reference after the retried post")
	}
}
