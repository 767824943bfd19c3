package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/unclebandit/dispatch-engine/internal/model"
)

func TestSelectDueOrdersAndLeases(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := New().ScheduledSends()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	for _, offset := range []time.Duration{-time.Minute, -time.Hour, time.Hour} {
		_, err := repo.Create(ctx, &model.ScheduledSend{
			OwnerID:  "o1",
			Target:   model.DispatchTarget{Address: "5511"},
			Schedule: model.Schedule{ScheduledAt: now.Add(offset)},
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	due, err := repo.SelectDueScheduledSends(ctx, now, 10, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 2 {
		t.Fatalf("expected 2 due rows, got %d", len(due))
	}
	if !due[0].ScheduledAt.Before(due[1].ScheduledAt) {
		t.Errorf("rows not in ascending scheduled_at order")
	}

	again, _ := repo.SelectDueScheduledSends(ctx, now, 10, time.Minute)
	if len(again) != 0 {
		t.Errorf("leased rows selected twice: %d", len(again))
	}

	expired, _ := repo.SelectDueScheduledSends(ctx, now.Add(2*time.Minute), 10, time.Minute)
	if len(expired) != 2 {
		t.Errorf("expected expired leases to make rows due again, got %d", len(expired))
	}
}

func TestCompleteIsCompareAndSet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := New().ScheduledSends()
	at := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	send := &model.ScheduledSend{OwnerID: "o1", Schedule: model.Schedule{ScheduledAt: at}}
	if _, err := repo.Create(ctx, send); err != nil {
		t.Fatal(err)
	}

	next := at.AddDate(0, 0, 1)
	ok, _ := repo.Complete(ctx, send.ID, at, model.SendOutcome{Status: model.SendPending, NextAt: &next})
	if !ok {
		t.Fatal("first completion rejected")
	}
	ok, _ = repo.Complete(ctx, send.ID, at, model.SendOutcome{Status: model.SendSent})
	if ok {
		t.Fatal("stale completion applied after re-arm")
	}

	if ok, _ := repo.Cancel(ctx, "o1", send.ID); !ok {
		t.Fatal("cancel of pending row rejected")
	}
	ok, _ = repo.Complete(ctx, send.ID, next, model.SendOutcome{Status: model.SendSent})
	if ok {
		t.Fatal("completion applied to a cancelled row")
	}
	got, _ := repo.GetByID(ctx, "o1", send.ID)
	if got.Status != model.SendCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
}

func TestCreateDedup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := New().ScheduledSends()
	key := "rule:client:2024-05-17"

	first, _ := repo.Create(ctx, &model.ScheduledSend{OwnerID: "o1", DedupKey: &key})
	second, _ := repo.Create(ctx, &model.ScheduledSend{OwnerID: "o1", DedupKey: &key})
	if !first || second {
		t.Fatalf("dedup: first=%v second=%v", first, second)
	}
}

func TestOwnerScoping(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New()
	c := &model.Campaign{OwnerID: "o1", Name: "promo"}
	if err := s.Campaigns().Create(ctx, c); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Campaigns().GetByID(ctx, "o2", c.ID); err == nil {
		t.Fatal("foreign owner read a campaign")
	}
	if ok, _ := s.Campaigns().Delete(ctx, "o2", c.ID); ok {
		t.Fatal("foreign owner deleted a campaign")
	}
}

func TestRecordContactOutcomeOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := New().Campaigns()
	c := &model.Campaign{OwnerID: "o1"}
	_ = repo.Create(ctx, c)
	contacts := []*model.CampaignContact{{Target: model.DispatchTarget{Address: "a"}}, {Target: model.DispatchTarget{Address: "b"}}}
	if err := repo.AddContacts(ctx, c.ID, contacts); err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	out := model.ContactOutcome{ContactID: contacts[0].ID, CampaignID: c.ID, Status: model.ContactSent, At: now}
	updated, err := repo.RecordContactOutcome(ctx, out)
	if err != nil || updated == nil {
		t.Fatalf("first outcome: %v %v", updated, err)
	}
	if updated.SentCount != 1 || updated.ProcessedSinceResume != 1 {
		t.Errorf("counters = %+v", updated)
	}
	again, _ := repo.RecordContactOutcome(ctx, out)
	if again != nil {
		t.Error("outcome recorded twice")
	}

	if done, _ := repo.CompleteIfDone(ctx, c.ID, now); done {
		t.Error("completed with a pending contact")
	}
	_, _ = repo.SetStatus(ctx, c.ID, []model.CampaignStatus{model.CampaignDraft}, model.CampaignRunning, now)
	pending, _ := repo.ClaimPendingContacts(ctx, c.ID, now, 10, time.Minute)
	if len(pending) != 1 || pending[0].Target.Address != "b" {
		t.Fatalf("pending = %+v", pending)
	}
}

func TestClaimPendingContactsIsExclusive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := New().Campaigns()
	c := &model.Campaign{OwnerID: "o1"}
	_ = repo.Create(ctx, c)
	var contacts []*model.CampaignContact
	for _, addr := range []string{"a", "b", "c"} {
		contacts = append(contacts, &model.CampaignContact{Target: model.DispatchTarget{Address: addr}})
	}
	_ = repo.AddContacts(ctx, c.ID, contacts)
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

	if got, _ := repo.ClaimPendingContacts(ctx, c.ID, now, 10, time.Minute); len(got) != 0 {
		t.Fatalf("draft campaign handed out %d contacts", len(got))
	}
	_, _ = repo.SetStatus(ctx, c.ID, []model.CampaignStatus{model.CampaignDraft}, model.CampaignRunning, now)

	first, _ := repo.ClaimPendingContacts(ctx, c.ID, now, 2, time.Minute)
	if len(first) != 2 || first[0].Target.Address != "a" || first[1].Target.Address != "b" {
		t.Fatalf("first claim = %+v", first)
	}
	if got, _ := repo.ClaimPendingContacts(ctx, c.ID, now.Add(30*time.Second), 2, time.Minute); len(got) != 0 {
		t.Fatalf("second claimer got %d contacts while the lease is held", len(got))
	}

	_, _ = repo.RecordContactOutcome(ctx, model.ContactOutcome{ContactID: first[0].ID, CampaignID: c.ID, Status: model.ContactSent, At: now})
	if err := repo.ReleaseContacts(ctx, c.ID, []string{first[1].ID}); err != nil {
		t.Fatal(err)
	}
	next, _ := repo.ClaimPendingContacts(ctx, c.ID, now.Add(30*time.Second), 10, time.Minute)
	if len(next) != 2 || next[0].Target.Address != "b" || next[1].Target.Address != "c" {
		t.Fatalf("claim after release = %+v", next)
	}

	expired, _ := repo.ClaimPendingContacts(ctx, c.ID, now.Add(2*time.Minute), 10, time.Minute)
	if len(expired) != 2 {
		t.Fatalf("expired lease not reclaimed: %+v", expired)
	}
}
