package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GTDGit/conversion_api/internal/models"
	"github.com/GTDGit/conversion_api/internal/repository"
	"github.com/GTDGit/conversion_api/internal/utils"
	"github.com/GTDGit/conversion_api/pkg/adplatform"
)

// memEventStore is an in-memory EventStore that enforces the same
// constraints as the database: unique outer_event_id and guarded transitions.
type memEventStore struct {
	mu      sync.Mutex
	nextID  int64
	events  map[int64]*models.ConversionEvent
	byOuter map[string]int64
	history map[int64][]models.EventStatus

	// beforeCreate runs inside Create before the uniqueness check.
	beforeCreate func()
	// processingErrs and resultErrs are returned, in order, by the next
	// MarkProcessing and MarkResult calls before the write is attempted.
	processingErrs []error
	resultErrs     []error
}

func popErr(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func newMemEventStore() *memEventStore {
	return &memEventStore{
		events:  map[int64]*models.ConversionEvent{},
		byOuter: map[string]int64{},
		history: map[int64][]models.EventStatus{},
	}
}

func (s *memEventStore) Create(_ context.Context, ev *models.ConversionEvent) (int64, error) {
	if s.beforeCreate != nil {
		s.beforeCreate()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.OuterEventID != nil {
		if _, ok := s.byOuter[*ev.OuterEventID]; ok {
			return 0, utils.ErrDuplicateOuterEventID
		}
	}
	s.nextID++
	ev.ID = s.nextID
	ev.Status = models.EventStatusPending
	ev.ReceivedAt = time.Now()
	cp := *ev
	s.events[ev.ID] = &cp
	if ev.OuterEventID != nil {
		s.byOuter[*ev.OuterEventID] = ev.ID
	}
	s.history[ev.ID] = []models.EventStatus{models.EventStatusPending}
	return ev.ID, nil
}

func (s *memEventStore) MarkProcessing(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := popErr(&s.processingErrs); err != nil {
		return err
	}
	ev, ok := s.events[id]
	if !ok || ev.Status != models.EventStatusPending {
		return utils.ErrInvalidStatusTransition
	}
	ev.Status = models.EventStatusProcessing
	s.history[id] = append(s.history[id], ev.Status)
	return nil
}

func (s *memEventStore) MarkResult(_ context.Context, id int64, r models.EventResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := popErr(&s.resultErrs); err != nil {
		return err
	}
	ev, ok := s.events[id]
	if !ok || ev.Status != models.EventStatusProcessing || !r.Status.IsFinal() {
		return utils.ErrInvalidStatusTransition
	}
	ev.Status = r.Status
	ev.CallbackResponse = r.CallbackResponse
	ev.CallbackStatus = r.CallbackStatus
	ev.ErrorMessage = r.ErrorMessage
	pt := r.ProcessingTime
	ev.ProcessingTime = &pt
	s.history[id] = append(s.history[id], ev.Status)
	return nil
}

func (s *memEventStore) GetByID(_ context.Context, id int64) (*models.ConversionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return nil, utils.ErrEventNotFound
	}
	cp := *ev
	return &cp, nil
}

func (s *memEventStore) FindByOuterEventID(ctx context.Context, key string) (*models.ConversionEvent, error) {
	s.mu.Lock()
	id, ok := s.byOuter[key]
	s.mu.Unlock()
	if !ok {
		return nil, utils.ErrEventNotFound
	}
	return s.GetByID(ctx, id)
}

func (s *memEventStore) List(_ context.Context, f repository.EventFilter) (*repository.EventPage, error) {
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
	return &repository.EventPage{Events: out, TotalItems: len(out), Page: 1, Limit: 50}, nil
}

func (s *memEventStore) CountByStatus(context.Context) ([]models.EventStatusCount, error) {
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

func (s *memEventStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *memEventStore) statusHistory(id int64) []models.EventStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.EventStatus(nil), s.history[id]...)
}

// memTokenStore keeps every row ever written, like the tokens table.
type memTokenStore struct {
	mu      sync.Mutex
	rows    []models.Token
	swapErr error
}

func (s *memTokenStore) GetActive(context.Context) ([]models.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Token{}
	for _, r := range s.rows {
		if r.IsActive {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memTokenStore) SwapPair(_ context.Context, pair models.TokenPair) ([]models.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.swapErr != nil {
		return nil, s.swapErr
	}
	for i := range s.rows {
		s.rows[i].IsActive = false
	}
	at := pair.RefreshedAt
	access := models.Token{ID: int64(len(s.rows) + 1), TokenType: models.TokenTypeAccess, TokenValue: pair.AccessToken, AppID: pair.AppID, ExpiresAt: pair.AccessExpiresAt, IsActive: true, LastRefreshAt: &at}
	refresh := models.Token{ID: int64(len(s.rows) + 2), TokenType: models.TokenTypeRefresh, TokenValue: pair.RefreshToken, AppID: pair.AppID, ExpiresAt: pair.RefreshExpiresAt, IsActive: true, LastRefreshAt: &at}
	s.rows = append(s.rows, access, refresh)
	return []models.Token{access, refresh}, nil
}

func (s *memTokenStore) activeCount(t models.TokenType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.rows {
		if r.TokenType == t && r.IsActive {
			n++
		}
	}
	return n
}

// seed inserts an active pair directly.
func (s *memTokenStore) seed(access, refresh string) {
	_, _ = s.SwapPair(context.Background(), models.TokenPair{AccessToken: access, RefreshToken: refresh, AppID: "1001", RefreshedAt: time.Now()})
}

type fakeRefresher struct {
	calls atomic.Int32
	fn    func(ctx context.Context, refreshToken string) (*adplatform.RefreshData, error)
}

func (f *fakeRefresher) Refresh(ctx context.Context, refreshToken string) (*adplatform.RefreshData, error) {
	f.calls.Add(1)
	return f.fn(ctx, refreshToken)
}

func (f *fakeRefresher) AppID() string { return "1001" }

type staticToken string

func (s staticToken) AccessToken() (string, error) {
	if s == "" {
		return "", utils.ErrNoActiveToken
	}
	return string(s), nil
}

// upstream is a fake ad platform report endpoint.
type upstream struct {
	srv      *httptest.Server
	hits     atomic.Int32
	lastAuth atomic.Value
}

func newUpstream(t *testing.T, status int, body string) *upstream {
	t.Helper()
	u := &upstream{}
	u.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.hits.Add(1)
		u.lastAuth.Store(r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(u.srv.Close)
	return u
}

func (u *upstream) client() *adplatform.Client {
	return adplatform.NewClient(adplatform.Config{ReportURL: u.srv.URL, AppID: "1001", Timeout: 2 * time.Second}, nil)
}

func okBody() string {
	b, _ := json.Marshal(adplatform.Envelope{Code: 0, Message: "OK"})
	return string(b)
}
