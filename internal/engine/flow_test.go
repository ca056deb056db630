package engine_test

import (
	"errors"
	"math/rand"
	"sync"
	"testing"

	"bops/internal/domain"
	"bops/internal/engine"
	"bops/internal/engine/auth"
	"bops/internal/repo"
	"bops/internal/tasklist"
)

// readyForSubmission fills every mandatory assessment list on a validated
// full application and saves a granted recommendation.
func (env testEnv) readyForSubmission(t *testing.T, c domain.Case) {
	t.Helper()
	for kind, title := range map[domain.ItemKind]string{
		domain.ItemConsideration: "Design and character",
		domain.ItemCondition:     "Materials to match",
		domain.ItemTerm:          "Highways contribution",
	} {
		if _, err := env.Engine.AddItem(env.Ctx, engine.ItemOptions{CaseID: c.ID, Kind: kind, Title: title, ActorID: officer}); err != nil {
			t.Fatalf("add %s: %v", kind, err)
		}
	}
	for _, slug := range []string{tasklist.SlugAssessConsiderations, tasklist.SlugAddConditions, tasklist.SlugAddHeadsOfTerms} {
		env.mark(t, c.ID, slug, tasklist.Completed)
	}
	if _, err := env.Engine.SaveRecommendation(env.Ctx, engine.RecommendationOptions{CaseID: c.ID, Decision: "granted", Comment: "Acceptable", ActorID: officer}); err != nil {
		t.Fatalf("save recommendation: %v", err)
	}
}

func (env testEnv) reviewAs(t *testing.T, caseID string, challenged bool) {
	t.Helper()
	if _, err := env.Engine.StartReview(env.Ctx, caseID, reviewer); err != nil {
		t.Fatalf("start review: %v", err)
	}
	if _, err := env.Engine.RecordChallenge(env.Ctx, engine.ChallengeOptions{CaseID: caseID, Challenged: challenged, Comment: "checked", ActorID: reviewer}); err != nil {
		t.Fatalf("record challenge: %v", err)
	}
	if _, err := env.Engine.CompleteReview(env.Ctx, caseID, reviewer); err != nil {
		t.Fatalf("complete review: %v", err)
	}
}

func TestReviewCycleToDetermination(t *testing.T) {
	env := newTestEnv(t)
	c := env.validate(t, env.planningCase(t))

	_, err := env.Engine.SubmitRecommendation(env.Ctx, c.ID, officer, 0)
	var pre engine.PreconditionNotMetError
	if !errors.As(err, &pre) || pre.Slug != tasklist.SlugDraftRecommendation {
		t.Fatalf("expected draft recommendation precondition, got %v", err)
	}

	env.readyForSubmission(t, c)
	submitted, err := env.Engine.SubmitRecommendation(env.Ctx, c.ID, officer, 0)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if submitted.Stage != domain.StageAwaitingDetermination {
		t.Fatalf("expected awaiting_determination, got %s", submitted.Stage)
	}

	_, err = env.Engine.Transition(env.Ctx, engine.TransitionOptions{CaseID: c.ID, Event: domain.EventDetermine, ActorID: reviewer})
	if !errors.As(err, &pre) || pre.Slug != tasklist.SlugReviewRecommendation {
		t.Fatalf("determine before review should fail on review-recommendation, got %v", err)
	}

	env.reviewAs(t, c.ID, true)
	_, err = env.Engine.Transition(env.Ctx, engine.TransitionOptions{CaseID: c.ID, Event: domain.EventDetermine, ActorID: reviewer})
	if !errors.As(err, &pre) {
		t.Fatalf("challenged recommendation must not be determined, got %v", err)
	}

	corrected, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{CaseID: c.ID, Event: domain.EventRequestCorrection, ActorID: reviewer, Comment: "conditions too vague"})
	if err != nil {
		t.Fatalf("request correction: %v", err)
	}
	if corrected.Stage != domain.StageToBeReviewed {
		t.Fatalf("expected to_be_reviewed, got %s", corrected.Stage)
	}
	rec, err := env.Engine.GetRecommendation(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("get recommendation: %v", err)
	}
	if rec.Submitted || rec.Status != domain.RecommendationAssessmentInProgress || rec.Challenged != nil {
		t.Fatalf("recommendation should be back with the officer: %+v", rec)
	}

	if _, err := env.Engine.SaveRecommendation(env.Ctx, engine.RecommendationOptions{CaseID: c.ID, Decision: "granted", Comment: "Conditions tightened", ActorID: officer}); err != nil {
		t.Fatalf("save again: %v", err)
	}
	if _, err := env.Engine.SubmitRecommendation(env.Ctx, c.ID, officer, 0); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	env.reviewAs(t, c.ID, false)
	ok, err := env.Engine.EligibleForPublish(env.Ctx, c.ID)
	if err != nil || !ok {
		t.Fatalf("expected eligible for publish: %v", err)
	}

	_, err = env.Engine.Transition(env.Ctx, engine.TransitionOptions{CaseID: c.ID, Event: domain.EventDetermine, ActorID: officer})
	var forbidden auth.ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("assessor must not determine, got %v", err)
	}
	determined, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{CaseID: c.ID, Event: domain.EventDetermine, ActorID: reviewer})
	if err != nil {
		t.Fatalf("determine: %v", err)
	}
	if determined.Stage != domain.StageDetermined || determined.DeterminedAt == nil {
		t.Fatalf("unexpected determined case %+v", determined)
	}
	if got := env.task(t, c.ID, tasklist.SlugPublishDecision).Status; got != tasklist.Completed {
		t.Fatalf("publish-decision should be completed, got %s", got)
	}
	for _, activity := range []string{"recommendation_submitted", "recommendation_challenged", "recommendation_agreed", "case_request_correction", "case_determine"} {
		if len(env.audits(t, c.ID, activity)) == 0 {
			t.Fatalf("missing %s audit", activity)
		}
	}
}

func TestChallengeOutsideReview(t *testing.T) {
	env := newTestEnv(t)
	c := env.validate(t, env.planningCase(t))
	env.readyForSubmission(t, c)
	_, err := env.Engine.RecordChallenge(env.Ctx, engine.ChallengeOptions{CaseID: c.ID, Challenged: true, ActorID: reviewer})
	var invalid engine.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestItemOrdering(t *testing.T) {
	env := newTestEnv(t)
	c := env.validate(t, env.planningCase(t))
	add := func(title string, pos int) domain.OrderedItem {
		it, err := env.Engine.AddItem(env.Ctx, engine.ItemOptions{CaseID: c.ID, Kind: domain.ItemCondition, Title: title, Position: pos, ActorID: officer})
		if err != nil {
			t.Fatalf("add %s: %v", title, err)
		}
		return it
	}
	a := add("A", 0)
	add("B", 0)
	first := add("First", 1)
	if first.Position != 1 {
		t.Fatalf("inserted item should sit at 1, got %d", first.Position)
	}
	titles := func() []string {
		items, err := env.Engine.ListItems(env.Ctx, c.ID, domain.ItemCondition)
		if err != nil {
			t.Fatalf("list items: %v", err)
		}
		out := make([]string, len(items))
		for i, it := range items {
			if it.Position != i+1 {
				t.Fatalf("positions must be dense, item %s at %d", it.Title, it.Position)
			}
			out[i] = it.Title
		}
		return out
	}
	assertTitles := func(want ...string) {
		t.Helper()
		got := titles()
		if len(got) != len(want) {
			t.Fatalf("expected %v, got %v", want, got)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("expected %v, got %v", want, got)
			}
		}
	}
	assertTitles("First", "A", "B")
	if _, err := env.Engine.MoveItem(env.Ctx, a.ID, 3, officer); err != nil {
		t.Fatalf("move: %v", err)
	}
	assertTitles("First", "B", "A")
	if _, err := env.Engine.RemoveItem(env.Ctx, first.ID, officer); err != nil {
		t.Fatalf("remove: %v", err)
	}
	assertTitles("B", "A")
	if len(env.audits(t, c.ID, "condition_moved")) != 1 {
		t.Fatalf("expected condition_moved audit")
	}
}

func TestRandomItemOperationsKeepDensePositions(t *testing.T) {
	env := newTestEnv(t)
	c := env.validate(t, env.planningCase(t))
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 40; i++ {
		items, err := env.Engine.ListItems(env.Ctx, c.ID, domain.ItemInformative)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		for j, it := range items {
			if it.Position != j+1 {
				t.Fatalf("step %d: item at %d, want %d", i, it.Position, j+1)
			}
		}
		switch op := rng.Intn(3); {
		case op == 0 || len(items) == 0:
			_, err = env.Engine.AddItem(env.Ctx, engine.ItemOptions{CaseID: c.ID, Kind: domain.ItemInformative, Title: "note", Position: rng.Intn(len(items) + 2), ActorID: officer})
		case op == 1:
			_, err = env.Engine.MoveItem(env.Ctx, items[rng.Intn(len(items))].ID, rng.Intn(len(items))+1, officer)
		default:
			_, err = env.Engine.RemoveItem(env.Ctx, items[rng.Intn(len(items))].ID, officer)
		}
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
}

func TestReviewerEditFlagsItem(t *testing.T) {
	env := newTestEnv(t)
	c := env.validate(t, env.planningCase(t))
	it, err := env.Engine.AddItem(env.Ctx, engine.ItemOptions{CaseID: c.ID, Kind: domain.ItemCondition, Title: "Hours", Text: "8-6", ActorID: officer})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	own, err := env.Engine.EditItem(env.Ctx, engine.EditItemOptions{ItemID: it.ID, Title: "Working hours", Text: "8-6", ActorID: officer})
	if err != nil || own.ReviewerEdited {
		t.Fatalf("officer edit should not flag item: %+v %v", own, err)
	}
	edited, err := env.Engine.EditItem(env.Ctx, engine.EditItemOptions{ItemID: it.ID, Title: "Working hours", Text: "8-5", ActorID: reviewer})
	if err != nil {
		t.Fatalf("reviewer edit: %v", err)
	}
	if !edited.ReviewerEdited || edited.UpdatedBy != reviewer {
		t.Fatalf("reviewer edit should flag item: %+v", edited)
	}
}

func TestItemsLockedBeforeValidation(t *testing.T) {
	env := newTestEnv(t)
	c := env.planningCase(t)
	_, err := env.Engine.AddItem(env.Ctx, engine.ItemOptions{CaseID: c.ID, Kind: domain.ItemCondition, Title: "Too early", ActorID: officer})
	var invalid engine.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestRemovingTargetedItemIsBlocked(t *testing.T) {
	env := newTestEnv(t)
	c := env.validate(t, env.planningCase(t))
	it, err := env.Engine.AddItem(env.Ctx, engine.ItemOptions{CaseID: c.ID, Kind: domain.ItemCondition, Title: "Drainage scheme", ActorID: officer})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	v, err := env.Engine.CreateRequest(env.Ctx, engine.RequestCreateOptions{CaseID: c.ID, Category: domain.CategoryPreCommencementCondition, TargetID: it.ID, ActorID: officer, SendNow: true})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	_, err = env.Engine.RemoveItem(env.Ctx, it.ID, officer)
	var pre engine.PreconditionNotMetError
	if !errors.As(err, &pre) || pre.Slug != tasklist.SlugAddConditions {
		t.Fatalf("expected add-conditions precondition, got %v", err)
	}
	if _, err := env.Engine.CancelRequest(env.Ctx, engine.RequestCancelOptions{RequestID: v.ID, Reason: "condition dropped", ActorID: officer}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	items, err := env.Engine.RemoveItem(env.Ctx, it.ID, officer)
	if err != nil {
		t.Fatalf("remove once the request is cancelled: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected empty list, got %d items", len(items))
	}
}

func TestConcurrentCancelOnlyOneWins(t *testing.T) {
	env := newTestEnv(t)
	c := env.planningCase(t)
	v := env.createRequest(t, c.ID, domain.CategoryOtherChange, true)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.Engine.CancelRequest(env.Ctx, engine.RequestCancelOptions{RequestID: v.ID, Reason: "duplicate", ActorID: officer})
		}(i)
	}
	wg.Wait()
	succeeded, closed := 0, 0
	for _, err := range errs {
		var already engine.AlreadyClosedError
		switch {
		case err == nil:
			succeeded++
		case errors.As(err, &already):
			closed++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || closed != 1 {
		t.Fatalf("expected one success and one already closed, got %d and %d", succeeded, closed)
	}
	if got := env.audits(t, c.ID, "other_change_validation_request_cancelled"); len(got) != 1 {
		t.Fatalf("expected exactly one cancelled audit, got %d", len(got))
	}
}

func TestConcurrentCreateOnlyOneActive(t *testing.T) {
	env := newTestEnv(t)
	c := env.planningCase(t)
	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.Engine.CreateRequest(env.Ctx, engine.RequestCreateOptions{CaseID: c.ID, Category: domain.CategoryFeeChange, Reason: "underpaid", ActorID: officer})
		}(i)
	}
	wg.Wait()
	created := 0
	for _, err := range errs {
		var dup engine.DuplicateOpenRequestError
		switch {
		case err == nil:
			created++
		case errors.As(err, &dup):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if created != 1 {
		t.Fatalf("expected one request created, got %d", created)
	}
}

func TestRandomRequestOperationsKeepOneActivePerCategory(t *testing.T) {
	env := newTestEnv(t)
	c := env.planningCase(t)
	categories := []domain.RequestCategory{domain.CategoryDescriptionChange, domain.CategoryFeeChange, domain.CategoryOtherChange}
	responses := map[domain.RequestCategory]string{
		domain.CategoryDescriptionChange: `{"approved":false,"rejection_reason":"keep original"}`,
		domain.CategoryFeeChange:         `{"message":"paid"}`,
		domain.CategoryOtherChange:       `{"message":"done"}`,
	}
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 60; i++ {
		category := categories[rng.Intn(len(categories))]
		list, err := env.Engine.ListRequests(env.Ctx, repo.RequestFilters{CaseID: c.ID, Category: string(category)})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		var active []domain.ValidationRequest
		for _, v := range list {
			if v.State.Active() {
				active = append(active, v)
			}
		}
		if len(active) > 1 {
			t.Fatalf("step %d: %d active %s requests", i, len(active), category)
		}
		var dup engine.DuplicateOpenRequestError
		switch rng.Intn(4) {
		case 0:
			reason, proposed := proposal(category)
			_, err = env.Engine.CreateRequest(env.Ctx, engine.RequestCreateOptions{CaseID: c.ID, Category: category, Reason: reason, Proposed: proposed, ActorID: officer})
			if len(active) == 1 && !errors.As(err, &dup) {
				t.Fatalf("step %d: expected duplicate, got %v", i, err)
			}
			if len(active) == 0 && err != nil {
				t.Fatalf("step %d: create: %v", i, err)
			}
		case 1:
			if len(active) == 1 && active[0].State == domain.RequestPending {
				_, err = env.Engine.SendRequest(env.Ctx, active[0].ID, officer)
			}
		case 2:
			if len(active) == 1 {
				_, err = env.Engine.CancelRequest(env.Ctx, engine.RequestCancelOptions{RequestID: active[0].ID, Reason: "changed mind", ActorID: officer})
			}
		default:
			if len(active) == 1 && active[0].State == domain.RequestOpen {
				_, err = env.Engine.RespondRequest(env.Ctx, engine.RequestRespondOptions{RequestID: active[0].ID, Response: []byte(responses[category]), ActorID: officer})
			}
		}
		if err != nil && !errors.As(err, &dup) {
			t.Fatalf("step %d: %v", i, err)
		}
	}
}
