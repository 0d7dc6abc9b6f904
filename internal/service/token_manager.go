package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/GTDGit/conversion_api/internal/metrics"
	"github.com/GTDGit/conversion_api/internal/models"
	"github.com/GTDGit/conversion_api/internal/utils"
	"github.com/GTDGit/conversion_api/pkg/adplatform"
)

// TokenState is the manager's refresh state. There is no expired state:
// the last known-good pair is served until a refresh succeeds.
type TokenState string

const (
	TokenStateActive     TokenState = "ACTIVE"
	TokenStateRefreshing TokenState = "REFRESHING"
)

const (
	swapTimeout        = 10 * time.Second
	lockReleaseTimeout = 5 * time.Second
)

// Refresher exchanges a refresh token for a new pair. *adplatform.Client satisfies it.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*adplatform.RefreshData, error)
	AppID() string
}

// RefreshResult is returned by a successful Refresh.
type RefreshResult struct {
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	ExpiresIn    int       `json:"expires_in"`
	RefreshedAt  time.Time `json:"refreshed_at"`
}

// TokenStatus is the operator view of the manager.
type TokenStatus struct {
	State               TokenState `json:"state"`
	AppID               string     `json:"app_id,omitempty"`
	HasAccessToken      bool       `json:"has_access_token"`
	HasRefreshToken     bool       `json:"has_refresh_token"`
	AccessExpiresAt     *time.Time `json:"access_expires_at,omitempty"`
	RefreshExpiresAt    *time.Time `json:"refresh_expires_at,omitempty"`
	LastRefreshAt       *time.Time `json:"last_refresh_at,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
	LastErrorAt         *time.Time `json:"last_error_at,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
}

type tokenSnapshot struct {
	access  *models.Token
	refresh *models.Token
}

// TokenManager owns the active access/refresh pair. Reads are served from an
// in-memory snapshot and never touch the network or the database; the
// snapshot is replaced only after the store has committed a swap.
type TokenManager struct {
	store           TokenStore
	refresher       Refresher
	lock            Locker
	refreshTokenTTL time.Duration
	now             func() time.Time

	snapshot  atomic.Pointer[tokenSnapshot]
	refreshMu sync.Mutex

	mu          sync.RWMutex
	state       TokenState
	lastError   string
	lastErrorAt *time.Time
	failures    int
}

// NewTokenManager creates a TokenManager. lock may be nil; when set it keeps
// a second replica from spending the same single-use refresh token.
func NewTokenManager(store TokenStore, refresher Refresher, lock Locker, refreshTokenTTL time.Duration) *TokenManager {
	m := &TokenManager{
		store:           store,
		refresher:       refresher,
		lock:            lock,
		refreshTokenTTL: refreshTokenTTL,
		now:             time.Now,
		state:           TokenStateActive,
	}
	m.snapshot.Store(&tokenSnapshot{})
	return m
}

// Load reads the active rows from the store into memory.
func (m *TokenManager) Load(ctx context.Context) error {
	tokens, err := m.store.GetActive(ctx)
	if err != nil {
		return fmt.Errorf("load active tokens: %w", err)
	}
	m.install(tokens)

	snap := m.snapshot.Load()
	log.Info().
		Bool("has_access_token", snap.access != nil).
		Bool("has_refresh_token", snap.refresh != nil).
		Msg("Token state loaded")
	return nil
}

// Bootstrap seeds the store with the given pair when no active pair exists yet.
func (m *TokenManager) Bootstrap(ctx context.Context, accessToken, refreshToken string, expiresIn int) error {
	snap := m.snapshot.Load()
	if snap.access != nil && snap.refresh != nil {
		return nil
	}
	if accessToken == "" || refreshToken == "" {
		log.Warn().Msg("No active token pair and no bootstrap tokens configured; forwarding will fail until a pair is pushed")
		return nil
	}
	log.Info().Msg("Seeding token pair from bootstrap configuration")
	return m.SetTokens(ctx, accessToken, refreshToken, expiresIn)
}

// GetActiveToken returns a copy of the active token of tokenType.
func (m *TokenManager) GetActiveToken(tokenType models.TokenType) (*models.Token, error) {
	snap := m.snapshot.Load()
	var tok *models.Token
	switch tokenType {
	case models.TokenTypeAccess:
		tok = snap.access
	case models.TokenTypeRefresh:
		tok = snap.refresh
	}
	if tok == nil {
		return nil, utils.ErrNoActiveToken
	}
	cp := *tok
	return &cp, nil
}

// AccessToken returns the active access token value.
func (m *TokenManager) AccessToken() (string, error) {
	tok, err := m.GetActiveToken(models.TokenTypeAccess)
	if err != nil {
		return "", err
	}
	return tok.TokenValue, nil
}

// Refresh spends the active refresh token for a new pair and swaps both rows.
// Only one refresh runs at a time; a concurrent caller gets
// utils.ErrRefreshInProgress. On any failure the active pair is unchanged.
func (m *TokenManager) Refresh(ctx context.Context) (*RefreshResult, error) {
	if !m.refreshMu.TryLock() {
		metrics.TokenRefreshTotal.WithLabelValues("skipped").Inc()
		return nil, utils.ErrRefreshInProgress
	}
	defer m.refreshMu.Unlock()

	m.setState(TokenStateRefreshing)
	defer m.setState(TokenStateActive)

	if m.lock != nil {
		release, ok, err := m.lock.Acquire(ctx)
		if err != nil {
			return nil, m.fail(fmt.Errorf("acquire refresh lock: %w", err))
		}
		if !ok {
			metrics.TokenRefreshTotal.WithLabelValues("skipped").Inc()
			return nil, utils.ErrRefreshInProgress
		}
		defer func() {
			rctx, cancel := context.WithTimeout(context.Background(), lockReleaseTimeout)
			defer cancel()
			if err := release(rctx); err != nil {
				log.Warn().Err(err).Msg("failed to release refresh lock")
			}
		}()

		// another replica may have swapped since our last read
		if err := m.Load(ctx); err != nil {
			log.Warn().Err(err).Msg("failed to reload tokens before refresh, using cached pair")
		}
	}

	current, err := m.GetActiveToken(models.TokenTypeRefresh)
	if err != nil {
		return nil, m.fail(err)
	}

	data, err := m.refresher.Refresh(ctx, current.TokenValue)
	if err != nil {
		return nil, m.fail(fmt.Errorf("refresh call: %w", err))
	}

	// the old refresh token is spent upstream now, so the new pair must be
	// stored even if the caller has gone away
	swapCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), swapTimeout)
	defer cancel()

	refreshedAt := m.now()
	if _, err := m.swap(swapCtx, data.AccessToken, data.RefreshToken, data.ExpiresIn, refreshedAt); err != nil {
		log.Error().Err(err).Msg("Refresh succeeded upstream but the swap failed, manual intervention required")
		return nil, m.fail(err)
	}

	m.succeed(refreshedAt)
	metrics.TokenRefreshTotal.WithLabelValues("success").Inc()
	log.Info().Int("expires_in", data.ExpiresIn).Msg("Token pair refreshed")

	return &RefreshResult{
		AccessToken:  data.AccessToken,
		RefreshToken: data.RefreshToken,
		ExpiresIn:    data.ExpiresIn,
		RefreshedAt:  refreshedAt,
	}, nil
}

// SetTokens activates an operator-supplied pair with the same atomic swap a
// refresh uses. expiresIn is the access token lifetime in seconds; 0 means unknown.
func (m *TokenManager) SetTokens(ctx context.Context, accessToken, refreshToken string, expiresIn int) error {
	accessToken = strings.TrimSpace(accessToken)
	refreshToken = strings.TrimSpace(refreshToken)
	if accessToken == "" || refreshToken == "" || expiresIn < 0 {
		return utils.ErrInvalidTokenPair
	}

	// wait for an in-flight refresh rather than racing it
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	refreshedAt := m.now()
	if _, err := m.swap(ctx, accessToken, refreshToken, expiresIn, refreshedAt); err != nil {
		return err
	}
	m.succeed(refreshedAt)
	log.Info().Msg("Token pair set manually")
	return nil
}

// Status returns the current operator view.
func (m *TokenManager) Status() TokenStatus {
	snap := m.snapshot.Load()

	m.mu.RLock()
	st := TokenStatus{
		State:               m.state,
		LastError:           m.lastError,
		LastErrorAt:         m.lastErrorAt,
		ConsecutiveFailures: m.failures,
	}
	m.mu.RUnlock()

	if snap.access != nil {
		st.HasAccessToken = true
		st.AppID = snap.access.AppID
		st.LastRefreshAt = snap.access.LastRefreshAt
		if exp := snap.access.ExpiryAt(0); !exp.IsZero() {
			st.AccessExpiresAt = &exp
		}
	}
	if snap.refresh != nil {
		st.HasRefreshToken = true
		if exp := snap.refresh.ExpiryAt(m.refreshTokenTTL); !exp.IsZero() {
			st.RefreshExpiresAt = &exp
		}
	}
	return st
}

func (m *TokenManager) swap(ctx context.Context, accessToken, refreshToken string, expiresIn int, at time.Time) ([]models.Token, error) {
	pair := models.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		AppID:        m.refresher.AppID(),
		RefreshedAt:  at,
	}
	if expiresIn > 0 {
		exp := at.Add(time.Duration(expiresIn) * time.Second)
		pair.AccessExpiresAt = &exp
	}
	if m.refreshTokenTTL > 0 {
		exp := at.Add(m.refreshTokenTTL)
		pair.RefreshExpiresAt = &exp
	}

	tokens, err := m.store.SwapPair(ctx, pair)
	if err != nil {
		return nil, fmt.Errorf("swap token pair: %w", err)
	}
	m.install(tokens)
	return tokens, nil
}

func (m *TokenManager) install(tokens []models.Token) {
	next := &tokenSnapshot{}
	for i := range tokens {
		tok := tokens[i]
		if !tok.IsActive {
			continue
		}
		switch tok.TokenType {
		case models.TokenTypeAccess:
			next.access = &tok
		case models.TokenTypeRefresh:
			next.refresh = &tok
		}
	}
	m.snapshot.Store(next)
}

func (m *TokenManager) setState(s TokenState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *TokenManager) fail(err error) error {
	now := m.now()
	m.mu.Lock()
	m.failures++
	m.lastError = err.Error()
	m.lastErrorAt = &now
	failures := m.failures
	m.mu.Unlock()

	metrics.TokenRefreshTotal.WithLabelValues("failure").Inc()
	metrics.TokenConsecutiveFailures.Set(float64(failures))

	var apiErr *adplatform.APIError
	if errors.As(err, &apiErr) {
		log.Warn().Int("http_status", apiErr.HTTPStatus).Int("code", apiErr.Code).Str("message", apiErr.Message).Msg("Token refresh rejected")
	}
	return err
}

func (m *TokenManager) succeed(at time.Time) {
	m.mu.Lock()
	m.failures = 0
	m.lastError = ""
	m.lastErrorAt = nil
	m.mu.Unlock()

	metrics.TokenConsecutiveFailures.Set(0)
	metrics.TokenLastRefresh.Set(float64(at.Unix()))
}
