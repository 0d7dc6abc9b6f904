package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/GTDGit/conversion_api/internal/models"
	"github.com/GTDGit/conversion_api/internal/repository"
	"github.com/GTDGit/conversion_api/internal/service"
	"github.com/GTDGit/conversion_api/internal/utils"
	"github.com/GTDGit/conversion_api/pkg/adplatform"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// eventStore is a minimal in-memory EventStore.
type eventStore struct {
	mu      sync.Mutex
	events  map[int64]*models.ConversionEvent
	byOuter map[string]int64
}

func newEventStore() *eventStore {
	return &eventStore{events: map[int64]*models.ConversionEvent{}, byOuter: map[string]int64{}}
}

func (s *eventStore) Create(_ context.Context, ev *models.ConversionEvent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.OuterEventID != nil {
		if _, ok := s.byOuter[*ev.OuterEventID]; ok {
			return 0, utils.ErrDuplicateOuterEventID
		}
	}
	ev.ID = int64(len(s.events) + 1)
	ev.Status = models.EventStatusPending
	ev.ReceivedAt = time.Now()
	cp := *ev
	s.events[ev.ID] = &cp
	if ev.OuterEventID != nil {
		s.byOuter[*ev.OuterEventID] = ev.ID
	}
	return ev.ID, nil
}

func (s *eventStore) MarkProcessing(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok || !ev.Status.CanTransitionTo(models.EventStatusProcessing) {
		return utils.ErrInvalidStatusTransition
	}
	ev.Status = models.EventStatusProcessing
	return nil
}

func (s *eventStore) MarkResult(_ context.Context, id int64, r models.EventResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok || !ev.Status.CanTransitionTo(r.Status) {
		return utils.ErrInvalidStatusTransition
	}
	ev.Status = r.Status
	ev.CallbackResponse = r.CallbackResponse
	ev.CallbackStatus = r.CallbackStatus
	ev.ErrorMessage = r.ErrorMessage
	return nil
}

func (s *eventStore) GetByID(_ context.Context, id int64) (*models.ConversionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return nil, utils.ErrEventNotFound
	}
	cp := *ev
	return &cp, nil
}

func (s *eventStore) FindByOuterEventID(ctx context.Context, key string) (*models.ConversionEvent, error) {
	s.mu.Lock()
	id, ok := s.byOuter[key]
	s.mu.Unlock()
	if !ok {
		return nil, utils.ErrEventNotFound
	}
	return s.GetByID(ctx, id)
}

func (s *eventStore) List(_ context.Context, f repository.EventFilter) (*repository.EventPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.ConversionEvent{}
	for _, ev := range s.events {
		if f.Status != nil && string(ev.Status) != *f.Status {
			continue
		}
		out = append(out, *ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return &repository.EventPage{Events: out, TotalItems: len(out), Page: f.Page, Limit: f.Limit}, nil
}

func (s *eventStore) CountByStatus(context.Context) ([]models.EventStatusCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[models.EventStatus]int{}
	for _, ev := range s.events {
		counts[ev.Status]++
	}
	out := []models.EventStatusCount{}
	for st, n := range counts {
		out = append(out, models.EventStatusCount{Status: st, Count: n})
	}
	return out, nil
}

func (s *eventStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type staticToken string

func (s staticToken) AccessToken() (string, error) { return string(s), nil }

// fakePlatform answers every report with a fixed status and body.
type fakePlatform struct {
	srv  *httptest.Server
	hits atomic.Int32
}

func newFakePlatform(t *testing.T, status int, body string) *fakePlatform {
	t.Helper()
	p := &fakePlatform{}
	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(p.srv.Close)
	return p
}

type testServer struct {
	router   *gin.Engine
	store    *eventStore
	platform *fakePlatform
	tokens   *fakeTokens
}

func newTestServer(t *testing.T, status int, body string) *testServer {
	t.Helper()
	store := newEventStore()
	platform := newFakePlatform(t, status, body)
	client := adplatform.NewClient(adplatform.Config{ReportURL: platform.srv.URL, AppID: "1001", Timeout: 2 * time.Second}, nil)

	conversions := service.NewConversionService(store, service.NewDedupLedger(store, nil), service.NewCallbackForwarder(client, staticToken("tok-1")))
	tokens := &fakeTokens{}
	conv := NewConversionHandler(conversions)
	admin := NewAdminHandler(service.NewAdminEventService(store, conversions), tokens)

	r := gin.New()
	r.Any("/conversion/callback", conv.Callback)
	r.Any("/openid/report", conv.Report)
	g := r.Group("/v1/admin")
	g.POST("/tokens", admin.SetTokens)
	g.POST("/tokens/refresh", admin.RefreshTokens)
	g.GET("/tokens/status", admin.TokenStatus)
	g.GET("/events", admin.ListEvents)
	g.GET("/events/stats", admin.EventStats)
	g.GET("/events/:id", admin.GetEvent)
	g.POST("/events/:id/replay", admin.ReplayEvent)

	return &testServer{router: r, store: store, platform: platform, tokens: tokens}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

type fakeTokens struct {
	mu        sync.Mutex
	access    string
	refresh   string
	refreshFn func() (*service.RefreshResult, error)
}

func (f *fakeTokens) SetTokens(_ context.Context, access, refresh string, _ int) error {
	if access == "" || refresh == "" {
		return utils.ErrInvalidTokenPair
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.access, f.refresh = access, refresh
	return nil
}

func (f *fakeTokens) Refresh(context.Context) (*service.RefreshResult, error) {
	if f.refreshFn == nil {
		return &service.RefreshResult{ExpiresIn: 86400, RefreshedAt: time.Now()}, nil
	}
	return f.refreshFn()
}

func (f *fakeTokens) Status() service.TokenStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return service.TokenStatus{State: service.TokenStateActive, HasAccessToken: f.access != "", HasRefreshToken: f.refresh != ""}
}

func ginTestContext(w *httptest.ResponseRecorder) (*gin.Context, *gin.Engine) {
	c, e := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	return c, e
}
