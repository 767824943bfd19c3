package controller_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/unclebandit/dispatch-engine/internal/channel"
	"github.com/unclebandit/dispatch-engine/internal/controller"
	"github.com/unclebandit/dispatch-engine/internal/dispatch"
	"github.com/unclebandit/dispatch-engine/internal/history"
	"github.com/unclebandit/dispatch-engine/internal/memstore"
	"github.com/unclebandit/dispatch-engine/internal/model"
	"github.com/unclebandit/dispatch-engine/internal/service"
)

type okChannel struct{ store *memstore.Store }

func (c okChannel) Send(context.Context, channel.Message) (channel.Receipt, error) {
	return channel.Receipt{MessageID: "m1"}, nil
}

func (c okChannel) ConnectedInstance(ctx context.Context, ownerID string) (*model.ChannelInstance, error) {
	return c.store.Channels().ConnectedInstance(ctx, ownerID)
}

func newRouter(t *testing.T) (chi.Router, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	rec := history.NewRecorder(store.History(), nil, zerolog.Nop())
	eng := dispatch.New(dispatch.Deps{
		Sends:     store.ScheduledSends(),
		Posts:     store.StatusPosts(),
		Campaigns: store.Campaigns(),
		Clients:   store.Clients(),
		Settings:  store.Channels(),
		Channel:   okChannel{store: store},
		History:   rec,
	}, dispatch.Config{}, zerolog.Nop())

	svc := &service.DispatchService{
		SendRepo:     store.ScheduledSends(),
		PostRepo:     store.StatusPosts(),
		CampaignRepo: store.Campaigns(),
		ClientRepo:   store.Clients(),
		History:      rec,
		Dispatcher:   eng,
		Log:          zerolog.Nop(),
	}
	return controller.NewRouter(svc, zerolog.Nop()), store
}

func do(t *testing.T, h http.Handler, method, path, owner string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if owner != "" {
		req.Header.Set(controller.OwnerHeader, owner)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, w.Body.String())
	}
	return v
}

func TestCampaignEndpoints(t *testing.T) {
	t.Parallel()
	r, _ := newRouter(t)

	w := do(t, r, http.MethodPost, "/campaigns", "o1", map[string]interface{}{
		"name":              "Promo",
		"message_template":  "Oi {nome}",
		"min_delay_seconds": 0,
		"max_delay_seconds": 1,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	created := decodeBody[model.Campaign](t, w)

	w = do(t, r, http.MethodPost, "/campaigns/"+created.ID+"/start", "o1", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("start without contacts: expected 400, got %d", w.Code)
	}

	w = do(t, r, http.MethodPost, "/campaigns/"+created.ID+"/contacts", "o1", map[string]interface{}{
		"contacts": []map[string]string{{"address": "5511", "name": "Ana"}},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("contacts: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = do(t, r, http.MethodPost, "/campaigns/"+created.ID+"/start", "o1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d", w.Code)
	}
	w = do(t, r, http.MethodPost, "/campaigns/"+created.ID+"/resume", "o1", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("resume running: expected 409, got %d", w.Code)
	}
	w = do(t, r, http.MethodDelete, "/campaigns/"+created.ID, "o1", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("delete running: expected 409, got %d", w.Code)
	}

	w = do(t, r, http.MethodGet, "/campaigns/"+created.ID, "o1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("details: expected 200, got %d", w.Code)
	}
	details := decodeBody[struct {
		Status model.CampaignStatus `json:"status"`
		Stats  map[string]int       `json:"stats"`
	}](t, w)
	if details.Status != model.CampaignRunning || details.Stats["pending"] != 1 {
		t.Errorf("details = %+v", details)
	}

	w = do(t, r, http.MethodGet, "/campaigns/"+created.ID, "o2", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("foreign owner: expected 404, got %d", w.Code)
	}
}

func TestListCampaignsPagination(t *testing.T) {
	t.Parallel()
	r, _ := newRouter(t)

	for i := 0; i < 3; i++ {
		w := do(t, r, http.MethodPost, "/campaigns", "o1", map[string]interface{}{"name": "c", "message_template": "x"})
		if w.Code != http.StatusCreated {
			t.Fatalf("create: %d", w.Code)
		}
	}

	w := do(t, r, http.MethodGet, "/campaigns?page=2&page_size=2", "o1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	resp := decodeBody[struct {
		Data       []model.Campaign `json:"data"`
		Pagination map[string]int   `json:"pagination"`
	}](t, w)
	if len(resp.Data) != 1 {
		t.Errorf("expected 1 campaign on page 2, got %d", len(resp.Data))
	}
	if resp.Pagination["total_count"] != 3 || resp.Pagination["total_pages"] != 2 || resp.Pagination["page"] != 2 {
		t.Errorf("pagination = %v", resp.Pagination)
	}
}

func TestPersonalizedPreviewHandler(t *testing.T) {
	t.Parallel()
	r, _ := newRouter(t)

	w := do(t, r, http.MethodPost, "/campaigns", "o1", map[string]interface{}{"name": "c", "message_template": "Oi {primeiro_nome}!"})
	created := decodeBody[model.Campaign](t, w)

	w = do(t, r, http.MethodPost, "/campaigns/"+created.ID+"/personalized-preview", "o1", map[string]interface{}{
		"contact": map[string]string{"address": "5511", "name": "Ana Souza"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeBody[map[string]interface{}](t, w)
	if resp["rendered_message"] != "Oi Ana!" {
		t.Errorf("rendered = %v", resp["rendered_message"])
	}
}

func TestScheduledSendEndpoints(t *testing.T) {
	t.Parallel()
	r, _ := newRouter(t)
	at := time.Date(2030, 1, 1, 9, 0, 0, 0, time.UTC)

	w := do(t, r, http.MethodPost, "/scheduled-sends", "o1", map[string]interface{}{
		"target":          map[string]string{"address": "5511"},
		"template_body":   "Bom dia",
		"scheduled_at":    at,
		"recurrence":      "weekly",
		"recurrence_days": []int{1, 3, 5},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	send := decodeBody[model.ScheduledSend](t, w)

	w = do(t, r, http.MethodGet, "/scheduled-sends?status=pending", "o1", nil)
	list := decodeBody[struct {
		Data []model.ScheduledSend `json:"data"`
	}](t, w)
	if len(list.Data) != 1 || list.Data[0].ID != send.ID {
		t.Errorf("list = %+v", list.Data)
	}

	w = do(t, r, http.MethodPost, "/scheduled-sends/"+send.ID+"/cancel", "o1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d", w.Code)
	}
	w = do(t, r, http.MethodPost, "/scheduled-sends/"+send.ID+"/cancel", "o1", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("second cancel: expected 409, got %d", w.Code)
	}
}

func TestErrorMapping(t *testing.T) {
	t.Parallel()
	r, _ := newRouter(t)

	tests := []struct {
		name   string
		method string
		path   string
		owner  string
		body   interface{}
		want   int
	}{
		{"missing owner", http.MethodGet, "/campaigns", "", nil, http.StatusBadRequest},
		{"unknown campaign", http.MethodGet, "/campaigns/nope", "o1", nil, http.StatusNotFound},
		{"validation", http.MethodPost, "/scheduled-sends", "o1", map[string]interface{}{"template_body": "x"}, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/status-posts", "o1", map[string]interface{}{"bogus": 1}, http.StatusBadRequest},
		{"cancel unknown post", http.MethodPost, "/status-posts/nope/cancel", "o1", nil, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w := do(t, r, tt.method, tt.path, tt.owner, tt.body)
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestSendMessageAndHistory(t *testing.T) {
	t.Parallel()
	r, store := newRouter(t)
	if err := store.Channels().SaveInstance(context.Background(), &model.ChannelInstance{ID: "i1", OwnerID: "o1", Status: model.InstanceConnected}); err != nil {
		t.Fatal(err)
	}

	w := do(t, r, http.MethodPost, "/messages/send", "o1", map[string]interface{}{
		"target": map[string]string{"address": "5511", "name": "Ana"},
		"body":   "Oi {nome}",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	send := decodeBody[model.ScheduledSend](t, w)
	if send.Status != model.SendSent {
		t.Errorf("status = %s, want sent", send.Status)
	}

	w = do(t, r, http.MethodGet, "/history", "o1", nil)
	hist := decodeBody[struct {
		Data []model.DispatchHistoryRecord `json:"data"`
	}](t, w)
	if len(hist.Data) != 1 || hist.Data[0].MessageContent != "Oi Ana" {
		t.Errorf("history = %+v", hist.Data)
	}
}

func TestValidateTemplateEndpoint(t *testing.T) {
	t.Parallel()
	r, _ := newRouter(t)

	w := do(t, r, http.MethodPost, "/templates/validate", "o1", map[string]string{"template": "{{a: x}}"})
	resp := decodeBody[struct {
		Valid    bool                      `json:"valid"`
		Problems []service.TemplateProblem `json:"problems"`
	}](t, w)
	if resp.Valid || len(resp.Problems) != 1 {
		t.Errorf("resp = %+v", resp)
	}
}
