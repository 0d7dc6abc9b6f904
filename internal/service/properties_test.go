package service

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/GTDGit/conversion_api/internal/models"
	"github.com/GTDGit/conversion_api/pkg/adplatform"
)

// TestOuterEventIDAdmitsOnce checks that any sequence of submissions over a
// small key space yields exactly one row per distinct key.
func TestOuterEventIDAdmitsOnce(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("one row per outer_event_id", prop.ForAll(
		func(picks []int) bool {
			p := newPipeline(t, http.StatusOK, okBody())
			ctx := context.Background()

			firstID := map[string]int64{}
			for _, n := range picks {
				k := "ext-" + strconv.Itoa(n)
				res, err := p.svc.Ingest(ctx, ingestReq(RawParams{"callback": "abc", "event_type": "1", "outer_event_id": k}))
				if err != nil {
					return false
				}
				if id, seen := firstID[k]; seen {
					if !res.Duplicate || res.EventID != id {
						return false
					}
					continue
				}
				if res.Duplicate {
					return false
				}
				firstID[k] = res.EventID
			}
			return p.store.count() == len(firstID) && int(p.up.hits.Load()) == len(firstID)
		},
		gen.SliceOf(gen.IntRange(1, 4)),
	))

	properties.TestingRun(t)
}

// TestKeylessResubmissionIsNotDeduplicated documents the gap: without an
// outer_event_id, identical submissions each create a row.
func TestKeylessResubmissionIsNotDeduplicated(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("n keyless submissions create n rows", prop.ForAll(
		func(n int, eventType int, imei string) bool {
			p := newPipeline(t, http.StatusOK, okBody())
			params := RawParams{"callback": "abc123", "event_type": strconv.Itoa(eventType), "imei": imei}
			for i := 0; i < n; i++ {
				res, err := p.svc.Ingest(context.Background(), ingestReq(params))
				if err != nil || res.Duplicate {
					return false
				}
			}
			return p.store.count() == n
		},
		gen.IntRange(1, 8),
		gen.IntRange(0, 30),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

// TestStatusNeverRegresses replays arbitrary transition attempts against the
// store and checks every recorded history is a forward path.
func TestStatusNeverRegresses(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	rank := map[models.EventStatus]int{
		models.EventStatusPending:    0,
		models.EventStatusProcessing: 1,
		models.EventStatusSuccess:    2,
		models.EventStatusFailed:     2,
	}

	properties.Property("status history is monotonic", prop.ForAll(
		func(ops []int) bool {
			store := newMemEventStore()
			ctx := context.Background()
			id, err := store.Create(ctx, &models.ConversionEvent{Callback: "abc", EventType: 1})
			if err != nil {
				return false
			}
			for _, op := range ops {
				switch op {
				case 0:
					_ = store.MarkProcessing(ctx, id)
				case 1:
					_ = store.MarkResult(ctx, id, models.EventResult{Status: models.EventStatusSuccess})
				case 2:
					_ = store.MarkResult(ctx, id, models.EventResult{Status: models.EventStatusFailed})
				case 3:
					_ = store.MarkResult(ctx, id, models.EventResult{Status: models.EventStatusPending})
				}
			}
			hist := store.statusHistory(id)
			for i := 1; i < len(hist); i++ {
				if !hist[i-1].CanTransitionTo(hist[i]) || rank[hist[i]] <= rank[hist[i-1]] {
					return false
				}
			}
			return len(hist) <= 3
		},
		gen.SliceOf(gen.IntRange(0, 3)),
	))

	properties.TestingRun(t)
}

// TestTokenSwapKeepsOneActivePerType interleaves refreshes, failures and
// manual sets and checks the single-active-row invariant after each step.
func TestTokenSwapKeepsOneActivePerType(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("exactly one active row per token type", prop.ForAll(
		func(ops []bool) bool {
			fail := false
			m, store, _ := newManager(t, func(ctx context.Context, rt string) (*adplatform.RefreshData, error) {
				if fail {
					return nil, errors.New("refresh rejected")
				}
				return okRefresh(ctx, rt)
			})
			for i, op := range ops {
				fail = !op
				if i%3 == 2 {
					_ = m.SetTokens(context.Background(), "ma", "mr", 0)
				} else {
					_, _ = m.Refresh(context.Background())
				}
				if store.activeCount(models.TokenTypeAccess) != 1 || store.activeCount(models.TokenTypeRefresh) != 1 {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}
