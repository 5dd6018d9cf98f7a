package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"verigate/internal/lookup/models"
	"verigate/internal/lookup/store/queue"
	"verigate/internal/lookup/store/result"
)

// countingExecutor answers every call the same way and counts calls.
type countingExecutor struct {
	calls  atomic.Int32
	answer models.ProviderAnswer
}

func (e *countingExecutor) Execute(context.Context, models.ProviderCall) (*models.ProviderAnswer, error) {
	e.calls.Add(1)
	answer := e.answer
	return &answer, nil
}

func newPropertyCoordinator(t *testing.T, exec *countingExecutor) (*Coordinator, *result.InMemoryStore, *queue.InMemoryStore) {
	results := result.NewInMemory()
	jobs := queue.NewInMemory()
	c, err := New(results, jobs, exec, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	return c, results, jobs
}

func TestNegativeCacheProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("a not-found value is never sent to the provider again, for any candidate", prop.ForAll(
		func(number int64, owner, asker string, lookupType models.LookupType) bool {
			exec := &countingExecutor{answer: models.ProviderAnswer{StatusCode: models.StatusSuccess}}
			c, results, _ := newPropertyCoordinator(t, exec)
			ctx := context.Background()

			value := fmt.Sprintf("%d", number)
			if err := results.Append(ctx, &models.LookupRecord{
				CandidateID: owner,
				LookupType:  lookupType,
				LookupValue: value,
				StatusCode:  models.StatusNotFound,
			}); err != nil {
				return false
			}

			outcome, err := c.RequestLookup(ctx, models.LookupRequest{
				CandidateID: asker,
				LookupType:  lookupType,
				RawValue:    "+91" + value,
			})
			return err == nil &&
				outcome.Kind == models.OutcomeCachedNotFound &&
				exec.calls.Load() == 0
		},
		gen.Int64Range(6000000000, 9999999999),
		gen.OneConstOf("cand-a", "cand-b", "cand-c"),
		gen.OneConstOf("cand-a", "cand-d", "cand-e"),
		gen.OneConstOf(models.LookupMobile, models.LookupMobileToUAN),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestSinglePendingProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	candidates := []string{"cand-a", "cand-b", "cand-c"}
	types := []models.LookupType{models.LookupMobile, models.LookupMobileToUAN}

	properties.Property("repeated deferred requests leave one pending entry per candidate and type", prop.ForAll(
		func(picks []int) bool {
			exec := &countingExecutor{answer: models.ProviderAnswer{Deferred: true, Message: "queued"}}
			c, _, jobs := newPropertyCoordinator(t, exec)
			ctx := context.Background()

			type pair struct {
				candidate  string
				lookupType models.LookupType
			}
			seen := make(map[pair]bool)
			for _, pick := range picks {
				p := pair{
					candidate:  candidates[pick%len(candidates)],
					lookupType: types[(pick/len(candidates))%len(types)],
				}
				outcome, err := c.RequestLookup(ctx, models.LookupRequest{
					CandidateID: p.candidate,
					LookupType:  p.lookupType,
					RawValue:    "9876543210",
				})
				if err != nil {
					return false
				}
				want := models.OutcomeAlreadyQueued
				if !seen[p] {
					want = models.OutcomeQueued
				}
				if outcome.Kind != want {
					return false
				}
				seen[p] = true
			}

			for p := range seen {
				pending, err := jobs.IsPending(ctx, p.candidate, p.lookupType)
				if err != nil || !pending {
					return false
				}
			}
			return int(exec.calls.Load()) == len(seen)
		},
		gen.SliceOf(gen.IntRange(0, 5)),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
