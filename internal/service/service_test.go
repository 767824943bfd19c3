package service_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/dispatch-engine/internal/channel"
	"github.com/unclebandit/dispatch-engine/internal/dispatch"
	appErrors "github.com/unclebandit/dispatch-engine/internal/errors"
	"github.com/unclebandit/dispatch-engine/internal/history"
	"github.com/unclebandit/dispatch-engine/internal/memstore"
	"github.com/unclebandit/dispatch-engine/internal/model"
	"github.com/unclebandit/dispatch-engine/internal/service"
	"github.com/unclebandit/dispatch-engine/internal/template"
)

const owner = "owner-1"

var fixedNow = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

type recordingChannel struct {
	store *memstore.Store

	mu   sync.Mutex
	sent []channel.Message
	err  error
}

func (c *recordingChannel) Send(_ context.Context, msg channel.Message) (channel.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return channel.Receipt{MessageID: "m1"}, c.err
}

func (c *recordingChannel) ConnectedInstance(ctx context.Context, ownerID string) (*model.ChannelInstance, error) {
	return c.store.Channels().ConnectedInstance(ctx, ownerID)
}

func newService(t *testing.T) (*service.DispatchService, *memstore.Store, *recordingChannel) {
	t.Helper()
	store := memstore.New()
	ch := &recordingChannel{store: store}
	rec := history.NewRecorder(store.History(), nil, zerolog.Nop())

	eng := dispatch.New(dispatch.Deps{
		Sends:     store.ScheduledSends(),
		Posts:     store.StatusPosts(),
		Campaigns: store.Campaigns(),
		Clients:   store.Clients(),
		Settings:  store.Channels(),
		Channel:   ch,
		History:   rec,
	}, dispatch.Config{}, zerolog.Nop())
	eng.Now = func() time.Time { return fixedNow }

	svc := &service.DispatchService{
		SendRepo:     store.ScheduledSends(),
		PostRepo:     store.StatusPosts(),
		CampaignRepo: store.Campaigns(),
		ClientRepo:   store.Clients(),
		History:      rec,
		Dispatcher:   eng,
		Renderer:     template.Renderer{Now: func() time.Time { return fixedNow }, Intn: func(int) int { return 0 }},
		Log:          zerolog.Nop(),
		Now:          func() time.Time { return fixedNow },
	}
	return svc, store, ch
}

func validCampaign() service.CampaignInput {
	return service.CampaignInput{
		Name:            "January promo",
		MessageTemplate: "{{saudacao: Oi | Olá}} {nome}!",
		MinDelaySeconds: 1,
		MaxDelaySeconds: 3,
	}
}

func TestCreateCampaignValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*service.CampaignInput)
		field  string
	}{
		{"empty name", func(in *service.CampaignInput) { in.Name = " " }, "name"},
		{"empty template", func(in *service.CampaignInput) { in.MessageTemplate = "" }, "message_template"},
		{"single option spintax", func(in *service.CampaignInput) { in.MessageTemplate = "{{a: só}}" }, "template"},
		{"inverted delays", func(in *service.CampaignInput) { in.MinDelaySeconds, in.MaxDelaySeconds = 5, 2 }, "delay"},
		{"negative pause", func(in *service.CampaignInput) { in.PauseAfterMessages = -1 }, "pause_after_messages"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			svc, _, _ := newService(t)
			in := validCampaign()
			tt.mutate(&in)

			_, err := svc.CreateCampaign(context.Background(), owner, in)
			var ve *appErrors.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if ve.Field != tt.field {
				t.Errorf("field = %q, want %q", ve.Field, tt.field)
			}
		})
	}
}

func TestCampaignLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _, _ := newService(t)

	c, err := svc.CreateCampaign(ctx, owner, validCampaign())
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != model.CampaignDraft {
		t.Fatalf("status = %s, want draft", c.Status)
	}

	if _, err := svc.StartCampaign(ctx, owner, c.ID); !appErrors.IsValidation(err) {
		t.Fatalf("starting without contacts: expected validation error, got %v", err)
	}

	total, err := svc.AddCampaignContacts(ctx, owner, c.ID, []service.ContactInput{
		{Address: "5511900000001", Name: "Ana"},
		{Address: "5511900000002", Name: "Bruno"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 {
		t.Fatalf("total = %d, want 2", total)
	}

	running, err := svc.StartCampaign(ctx, owner, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if running.Status != model.CampaignRunning || running.StartedAt == nil {
		t.Fatalf("unexpected campaign after start: %+v", running)
	}

	if _, err := svc.AddCampaignContacts(ctx, owner, c.ID, []service.ContactInput{{Address: "x"}}); !appErrors.IsInvalidTransition(err) {
		t.Errorf("adding to a running campaign: expected invalid transition, got %v", err)
	}
	if err := svc.DeleteCampaign(ctx, owner, c.ID); !appErrors.IsInvalidTransition(err) {
		t.Errorf("deleting a running campaign: expected invalid transition, got %v", err)
	}
	if _, err := svc.ResumeCampaign(ctx, owner, c.ID); !appErrors.IsInvalidTransition(err) {
		t.Errorf("resuming a running campaign: expected invalid transition, got %v", err)
	}

	if _, err := svc.PauseCampaign(ctx, owner, c.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.StartCampaign(ctx, owner, c.ID); !appErrors.IsInvalidTransition(err) {
		t.Errorf("starting a paused campaign: expected invalid transition, got %v", err)
	}
	if total, err = svc.AddCampaignContacts(ctx, owner, c.ID, []service.ContactInput{{Address: "5511900000003"}}); err != nil || total != 3 {
		t.Fatalf("adding to a paused campaign: total=%d err=%v", total, err)
	}
	if _, err := svc.ResumeCampaign(ctx, owner, c.ID); err != nil {
		t.Fatal(err)
	}

	details, err := svc.GetCampaignDetailsWithStats(ctx, owner, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if details.Stats["total"] != 3 || details.Stats["pending"] != 3 {
		t.Errorf("stats = %v", details.Stats)
	}

	if _, err := svc.PauseCampaign(ctx, owner, c.ID); err != nil {
		t.Fatal(err)
	}
	if err := svc.DeleteCampaign(ctx, owner, c.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.GetCampaignDetailsWithStats(ctx, owner, c.ID); !appErrors.IsNotFound(err) {
		t.Errorf("expected not found after delete, got %v", err)
	}
}

func TestCampaignsAreOwnerScoped(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _, _ := newService(t)

	c, err := svc.CreateCampaign(ctx, owner, validCampaign())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.PauseCampaign(ctx, "owner-2", c.ID); !appErrors.IsNotFound(err) {
		t.Errorf("expected not found for a foreign owner, got %v", err)
	}
	if _, err := svc.CreateCampaign(ctx, "", validCampaign()); !errors.Is(err, appErrors.ErrOwnerRequired) {
		t.Errorf("expected ErrOwnerRequired, got %v", err)
	}
}

func TestListCampaignsPagination(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _, _ := newService(t)

	for i := 0; i < 25; i++ {
		if _, err := svc.CreateCampaign(ctx, owner, validCampaign()); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name      string
		page      int
		pageSize  int
		wantLen   int
		wantPage  int
		wantSize  int
		wantPages int
	}{
		{"first page", 1, 10, 10, 1, 10, 3},
		{"last page", 3, 10, 5, 3, 10, 3},
		{"defaults", 0, 0, 20, 1, 20, 2},
		{"size clamped", 1, 500, 25, 1, 100, 1},
		{"past the end", 9, 10, 0, 9, 10, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			campaigns, p, err := svc.ListCampaigns(ctx, owner, tt.page, tt.pageSize, "")
			if err != nil {
				t.Fatal(err)
			}
			if len(campaigns) != tt.wantLen {
				t.Errorf("len = %d, want %d", len(campaigns), tt.wantLen)
			}
			if p["page"] != tt.wantPage || p["page_size"] != tt.wantSize || p["total_pages"] != tt.wantPages || p["total_count"] != 25 {
				t.Errorf("pagination = %v", p)
			}
		})
	}
}

func TestRenderPreview(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _, _ := newService(t)

	c, err := svc.CreateCampaign(ctx, owner, validCampaign())
	if err != nil {
		t.Fatal(err)
	}
	contact := service.ContactInput{Address: "5511", Name: "Ana Souza", Variables: map[string]string{"plano": "Gold"}}

	got, err := svc.RenderPreview(ctx, owner, c.ID, contact, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != "Oi Ana Souza!" {
		t.Errorf("preview = %q", got)
	}

	override := "{primeiro_nome}, plano {plano} {desconhecido}"
	got, err = svc.RenderPreview(ctx, owner, c.ID, contact, &override)
	if err != nil {
		t.Fatal(err)
	}
	if got != "Ana, plano Gold {desconhecido}" {
		t.Errorf("override preview = %q", got)
	}

	bad := "{{x: only}}"
	if _, err := svc.RenderPreview(ctx, owner, c.ID, contact, &bad); !appErrors.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestValidateTemplate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		tpl  string
		want int
	}{
		{"plain", "Oi {nome}", 0},
		{"good spintax", "{{s: Oi | Olá}} {nome}", 0},
		{"one option", "{{s: Oi}}", 1},
		{"unbalanced and one option", "{{s: Oi}} }}", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := service.ValidateTemplate(tt.tpl)
			if len(got) != tt.want {
				t.Errorf("problems = %v, want %d", got, tt.want)
			}
		})
	}
}

func TestCreateScheduledSend(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _, _ := newService(t)
	at := fixedNow.Add(time.Hour)
	missing := "nope"
	before := fixedNow.Add(-time.Hour)

	tests := []struct {
		name    string
		in      service.ScheduledSendInput
		wantErr func(error) bool
	}{
		{
			name: "one-off text",
			in: service.ScheduledSendInput{
				Target:        model.DispatchTarget{Address: "5511"},
				TemplateBody:  "Oi",
				ScheduleInput: service.ScheduleInput{ScheduledAt: &at},
			},
		},
		{
			name: "weekly without days",
			in: service.ScheduledSendInput{
				Target:        model.DispatchTarget{Address: "5511"},
				TemplateBody:  "Oi",
				ScheduleInput: service.ScheduleInput{Recurrence: "weekly"},
			},
		},
		{
			name: "weekday out of range",
			in: service.ScheduledSendInput{
				Target:        model.DispatchTarget{Address: "5511"},
				TemplateBody:  "Oi",
				ScheduleInput: service.ScheduleInput{Recurrence: "weekly", RecurrenceDays: []int{7}},
			},
			wantErr: appErrors.IsValidation,
		},
		{
			name: "unknown recurrence",
			in: service.ScheduledSendInput{
				Target:        model.DispatchTarget{Address: "5511"},
				TemplateBody:  "Oi",
				ScheduleInput: service.ScheduleInput{Recurrence: "hourly"},
			},
			wantErr: appErrors.IsValidation,
		},
		{
			name: "end before start",
			in: service.ScheduledSendInput{
				Target:        model.DispatchTarget{Address: "5511"},
				TemplateBody:  "Oi",
				ScheduleInput: service.ScheduleInput{ScheduledAt: &at, Recurrence: "daily", RecurrenceEnd: &before},
			},
			wantErr: appErrors.IsValidation,
		},
		{
			name: "image without media",
			in: service.ScheduledSendInput{
				Target:      model.DispatchTarget{Address: "5511"},
				PayloadKind: model.PayloadImage,
			},
			wantErr: appErrors.IsValidation,
		},
		{
			name: "empty address",
			in: service.ScheduledSendInput{
				TemplateBody: "Oi",
			},
			wantErr: appErrors.IsValidation,
		},
		{
			name: "unknown client",
			in: service.ScheduledSendInput{
				Target:       model.DispatchTarget{Address: "5511"},
				TemplateBody: "Oi",
				ClientID:     &missing,
			},
			wantErr: appErrors.IsNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			send, err := svc.CreateScheduledSend(ctx, owner, tt.in)
			if tt.wantErr != nil {
				if !tt.wantErr(err) {
					t.Fatalf("unexpected error %v", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if send.ID == "" || send.Status != model.SendPending || send.PayloadKind != model.PayloadText {
				t.Errorf("unexpected row %+v", send)
			}
		})
	}
}

func TestCancelScheduledSend(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _, _ := newService(t)

	send, err := svc.CreateScheduledSend(ctx, owner, service.ScheduledSendInput{
		Target:       model.DispatchTarget{Address: "5511"},
		TemplateBody: "Oi",
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := svc.CancelScheduledSend(ctx, owner, send.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.SendCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
	if _, err := svc.CancelScheduledSend(ctx, owner, send.ID); !appErrors.IsInvalidTransition(err) {
		t.Errorf("second cancel: expected invalid transition, got %v", err)
	}
	if _, err := svc.CancelScheduledSend(ctx, "owner-2", send.ID); !appErrors.IsNotFound(err) {
		t.Errorf("foreign cancel: expected not found, got %v", err)
	}
}

func TestSendNow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("delivered", func(t *testing.T) {
		t.Parallel()
		svc, store, ch := newService(t)
		if err := store.Channels().SaveInstance(ctx, &model.ChannelInstance{ID: "inst-1", OwnerID: owner, Status: model.InstanceConnected}); err != nil {
			t.Fatal(err)
		}

		got, err := svc.SendNow(ctx, owner, service.SendNowInput{
			Target: model.DispatchTarget{Address: "5511", Name: "Ana"},
			Body:   "Oi {nome}",
		})
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != model.SendSent || got.Origin != model.OriginInteractive {
			t.Errorf("unexpected row %+v", got)
		}
		if len(ch.sent) != 1 || ch.sent[0].Text != "Oi Ana" {
			t.Errorf("sent = %+v", ch.sent)
		}
		recs := store.History().Records()
		if len(recs) != 1 || recs[0].DispatchType != model.DispatchInteractive {
			t.Errorf("history = %+v", recs)
		}
	})

	t.Run("no instance", func(t *testing.T) {
		t.Parallel()
		svc, _, ch := newService(t)

		got, err := svc.SendNow(ctx, owner, service.SendNowInput{
			Target: model.DispatchTarget{Address: "5511"},
			Body:   "Oi",
		})
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != model.SendFailed || got.Error == nil || !strings.Contains(*got.Error, appErrors.ErrNoConnectedInstance.Error()) {
			t.Errorf("unexpected row %+v", got)
		}
		if len(ch.sent) != 0 {
			t.Errorf("nothing should reach the channel, got %d", len(ch.sent))
		}
	})
}

func TestCreateStatusPost(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _, _ := newService(t)

	post, err := svc.CreateStatusPost(ctx, owner, service.StatusPostInput{
		Body:    "{{s: Bom dia | Boa tarde}}",
		Targets: []model.DispatchTarget{{Address: "5511"}, {Address: "5512"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if post.Status != model.SendPending || len(post.Targets) != 2 {
		t.Errorf("unexpected post %+v", post)
	}

	if _, err := svc.CreateStatusPost(ctx, owner, service.StatusPostInput{
		Body:    "x",
		Targets: []model.DispatchTarget{{Address: ""}},
	}); !appErrors.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}

	cancelled, err := svc.CancelStatusPost(ctx, owner, post.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cancelled.Status != model.SendCancelled {
		t.Errorf("status = %s", cancelled.Status)
	}
}
