package service

import (
	"testing"

	"github.com/gliksbot/dexter/internal/domain/entity"
	"github.com/gliksbot/dexter/pkg/errors"
)

// === Campaign lifecycle ===

func TestCampaignCreateAttachClose(t *testing.T) {
	reg := NewCampaignRegistry(4, testLogger())

	campaign, err := reg.Create("migration", "move the fleet to the new API")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if campaign.Status() != entity.CampaignActive {
		t.Errorf("status = %s, want active", campaign.Status())
	}

	if err := reg.AttachSession(campaign.ID(), "session-1"); err != nil {
		t.Fatalf("AttachSession failed: %v", err)
	}
	got, err := reg.Get(campaign.ID())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got.Sessions()) != 1 {
		t.Errorf("sessions = %d, want 1", len(got.Sessions()))
	}

	if err := reg.Close(campaign.ID()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if got.Status() != entity.CampaignClosed {
		t.Errorf("status = %s, want closed", got.Status())
	}
}

func TestCampaignActiveLimit(t *testing.T) {
	reg := NewCampaignRegistry(1, testLogger())

	first, err := reg.Create("first", "objective")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := reg.Create("second", "objective"); errors.CodeOf(err) != errors.CodeBusy {
		t.Errorf("second Create error = %v, want busy", err)
	}

	// Closing the active campaign frees a seat.
	if err := reg.Close(first.ID()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := reg.Create("second", "objective"); err != nil {
		t.Errorf("Create after close failed: %v", err)
	}
}

func TestCampaignUnknownID(t *testing.T) {
	reg := NewCampaignRegistry(4, testLogger())

	if _, err := reg.Get("nope"); errors.CodeOf(err) != errors.CodeNotFound {
		t.Errorf("Get error = %v, want not found", err)
	}
	if err := reg.AttachSession("nope", "session-1"); errors.CodeOf(err) != errors.CodeNotFound {
		t.Errorf("AttachSession error = %v, want not found", err)
	}
	if err := reg.Close("nope"); errors.CodeOf(err) != errors.CodeNotFound {
		t.Errorf("Close error = %v, want not found", err)
	}
}
