package tasklist_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bops/internal/domain"
	"bops/internal/tasklist"
)

func planningSnapshot() tasklist.Snapshot {
	return tasklist.Snapshot{
		Case: domain.Case{
			ID:              "case-1",
			Reference:       "24-00100-FUL",
			CaseType:        domain.CaseTypePlanningApplication,
			ApplicationType: "full",
			Stage:           domain.StageNotStarted,
		},
		Items: map[domain.ItemKind][]domain.OrderedItem{},
		Marks: map[string]domain.TaskMark{},
		Features: map[string]bool{
			"considerations": true,
			"conditions":     true,
			"informatives":   true,
			"heads_of_terms": true,
		},
	}
}

func build(t *testing.T, snap tasklist.Snapshot) map[string]tasklist.Task {
	t.Helper()
	def, err := tasklist.For(snap.Case.CaseType)
	require.NoError(t, err)
	tasks, err := tasklist.Build(def, tasklist.DefaultRegistry(), snap)
	require.NoError(t, err)
	out := map[string]tasklist.Task{}
	for _, task := range tasks {
		out[task.Slug] = task
	}
	return out
}

func mark(slug string, st domain.TaskMarkStatus) domain.TaskMark {
	return domain.TaskMark{CaseID: "case-1", Slug: slug, Status: st, ActorID: "officer"}
}

func completeValidation(snap *tasklist.Snapshot) {
	snap.Documents = []domain.Document{{ID: "d1", Active: true}}
	snap.Case.OwnershipCertificate = "A"
	for _, slug := range []string{
		tasklist.SlugCheckDocuments, tasklist.SlugCheckRedLineBoundary, tasklist.SlugCheckDescription,
		tasklist.SlugCheckFee, tasklist.SlugCheckOwnershipCertificate,
	} {
		snap.Marks[slug] = mark(slug, domain.MarkCompleted)
	}
}

func TestDefinitionsAreValid(t *testing.T) {
	reg := tasklist.DefaultRegistry()
	for _, ct := range []domain.CaseType{domain.CaseTypePlanningApplication, domain.CaseTypePreApplication, domain.CaseTypeEnforcement} {
		def, err := tasklist.For(ct)
		require.NoError(t, err)
		require.NoError(t, def.Validate(reg), ct)
	}
	_, err := tasklist.For("listed_building")
	require.Error(t, err)
}

func TestValidateRejectsForwardPrerequisites(t *testing.T) {
	def := tasklist.Definition{CaseType: "x", Tasks: []tasklist.TaskDef{
		{Slug: "a", Prerequisites: []string{"b"}},
		{Slug: "b"},
	}}
	require.Error(t, def.Validate(nil))
}

func TestBuildIsIdempotent(t *testing.T) {
	snap := planningSnapshot()
	snap.Requests = []domain.ValidationRequest{{ID: "r1", Category: domain.CategoryFeeChange, State: domain.RequestOpen, Sequence: 1}}
	def, err := tasklist.For(snap.Case.CaseType)
	require.NoError(t, err)
	first, err := tasklist.Build(def, tasklist.DefaultRegistry(), snap)
	require.NoError(t, err)
	second, err := tasklist.Build(def, tasklist.DefaultRegistry(), snap)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestNewCaseTaskList(t *testing.T) {
	tasks := build(t, planningSnapshot())

	docs := tasks[tasklist.SlugCheckDocuments]
	assert.Equal(t, tasklist.NotStarted, docs.Status)
	assert.True(t, docs.Enabled)
	assert.Equal(t, "/cases/24-00100-FUL/tasks/check-documents", docs.Link)

	review := tasks[tasklist.SlugReviewValidationRequests]
	assert.Equal(t, tasklist.CannotStartYet, review.Status)
	assert.False(t, review.Enabled)
	assert.Empty(t, review.Link)

	// Recommendation does not exist yet; the resolver's not-found becomes not_started.
	assert.Equal(t, tasklist.CannotStartYet, tasks[tasklist.SlugSubmitRecommendation].Status)
	assert.False(t, tasks[tasklist.SlugAssessConsiderations].Enabled, "assessment is read-only before validation")
}

func TestRequestLifecycleDrivesOwningTask(t *testing.T) {
	snap := planningSnapshot()
	req := domain.ValidationRequest{ID: "r1", Category: domain.CategoryDescriptionChange, State: domain.RequestOpen, Sequence: 1}
	snap.Requests = []domain.ValidationRequest{req}
	assert.Equal(t, tasklist.InProgress, build(t, snap)[tasklist.SlugCheckDescription].Status)

	snap.Requests[0].State = domain.RequestClosed
	assert.Equal(t, tasklist.Completed, build(t, snap)[tasklist.SlugCheckDescription].Status)

	snap.Requests[0].State = domain.RequestCancelled
	assert.Equal(t, tasklist.NotStarted, build(t, snap)[tasklist.SlugCheckDescription].Status)

	snap.Requests[0].State = domain.RequestAutoClosed
	assert.Equal(t, tasklist.Completed, build(t, snap)[tasklist.SlugCheckDescription].Status)
}

func TestResolvedRequestCompletesListTask(t *testing.T) {
	snap := planningSnapshot()
	snap.Case.Stage = domain.StageInAssessment
	snap.Items[domain.ItemCondition] = []domain.OrderedItem{{ID: "cond-1", Kind: domain.ItemCondition}}
	target := "cond-1"
	snap.Requests = []domain.ValidationRequest{{ID: "r1", Category: domain.CategoryPreCommencementCondition, State: domain.RequestOpen, Sequence: 1, TargetID: &target}}
	assert.Equal(t, tasklist.InProgress, build(t, snap)[tasklist.SlugAddConditions].Status)

	snap.Requests[0].State = domain.RequestClosed
	assert.Equal(t, tasklist.Completed, build(t, snap)[tasklist.SlugAddConditions].Status)

	snap.Requests[0].State = domain.RequestAutoClosed
	assert.Equal(t, tasklist.Completed, build(t, snap)[tasklist.SlugAddConditions].Status)

	// Heads of terms need at least one term before a resolved request counts.
	snap.Requests = []domain.ValidationRequest{{ID: "r2", Category: domain.CategoryHeadsOfTerms, State: domain.RequestClosed, Sequence: 1}}
	assert.Equal(t, tasklist.NotStarted, build(t, snap)[tasklist.SlugAddHeadsOfTerms].Status)
	snap.Items[domain.ItemTerm] = []domain.OrderedItem{{ID: "term-1", Kind: domain.ItemTerm}}
	assert.Equal(t, tasklist.Completed, build(t, snap)[tasklist.SlugAddHeadsOfTerms].Status)
}

func TestLatestRequestWins(t *testing.T) {
	snap := planningSnapshot()
	snap.Requests = []domain.ValidationRequest{
		{ID: "r2", Category: domain.CategoryFeeChange, State: domain.RequestCancelled, Sequence: 2},
		{ID: "r1", Category: domain.CategoryFeeChange, State: domain.RequestClosed, Sequence: 1},
	}
	assert.Equal(t, tasklist.NotStarted, build(t, snap)[tasklist.SlugCheckFee].Status)
}

func TestCompletionNeedsBackingRecord(t *testing.T) {
	snap := planningSnapshot()
	snap.Marks[tasklist.SlugCheckDocuments] = mark(tasklist.SlugCheckDocuments, domain.MarkCompleted)
	snap.Marks[tasklist.SlugCheckOwnershipCertificate] = mark(tasklist.SlugCheckOwnershipCertificate, domain.MarkCompleted)
	snap.Case.OwnershipCertificate = "Z"
	tasks := build(t, snap)
	assert.Equal(t, tasklist.InProgress, tasks[tasklist.SlugCheckDocuments].Status)
	assert.Equal(t, tasklist.InProgress, tasks[tasklist.SlugCheckOwnershipCertificate].Status)

	snap.Documents = []domain.Document{{ID: "d1", Active: false}, {ID: "d2", Active: true}}
	snap.Case.OwnershipCertificate = "B"
	tasks = build(t, snap)
	assert.Equal(t, tasklist.Completed, tasks[tasklist.SlugCheckDocuments].Status)
	assert.Equal(t, tasklist.Completed, tasks[tasklist.SlugCheckOwnershipCertificate].Status)
}

func TestReviewValidationRequestsWaitsForActiveRequests(t *testing.T) {
	snap := planningSnapshot()
	completeValidation(&snap)
	assert.Equal(t, tasklist.Completed, build(t, snap)[tasklist.SlugReviewValidationRequests].Status)

	snap.Requests = []domain.ValidationRequest{{ID: "r1", Category: domain.CategoryOtherChange, State: domain.RequestPending, Sequence: 1}}
	assert.Equal(t, tasklist.InProgress, build(t, snap)[tasklist.SlugReviewValidationRequests].Status)

	snap.Requests[0].PostValidation = true
	assert.Equal(t, tasklist.Completed, build(t, snap)[tasklist.SlugReviewValidationRequests].Status)
}

func TestPrerequisitesAreTransitive(t *testing.T) {
	snap := planningSnapshot()
	snap.Case.Stage = domain.StageInAssessment
	// A submitted recommendation on its own does not unblock review when the
	// assessment lists behind the draft are incomplete.
	snap.Recommendation = &domain.Recommendation{Status: domain.RecommendationAssessmentComplete, Submitted: true}
	tasks := build(t, snap)
	assert.Equal(t, tasklist.CannotStartYet, tasks[tasklist.SlugDraftRecommendation].Status)
	assert.Equal(t, tasklist.CannotStartYet, tasks[tasklist.SlugSubmitRecommendation].Status)
	assert.Equal(t, tasklist.CannotStartYet, tasks[tasklist.SlugReviewRecommendation].Status)

	snap.Items[domain.ItemConsideration] = []domain.OrderedItem{{ID: "c1"}}
	snap.Items[domain.ItemTerm] = []domain.OrderedItem{{ID: "t1"}}
	for _, slug := range []string{tasklist.SlugAssessConsiderations, tasklist.SlugAddConditions, tasklist.SlugAddHeadsOfTerms} {
		snap.Marks[slug] = mark(slug, domain.MarkCompleted)
	}
	tasks = build(t, snap)
	assert.Equal(t, tasklist.Completed, tasks[tasklist.SlugDraftRecommendation].Status)
	assert.Equal(t, tasklist.Completed, tasks[tasklist.SlugSubmitRecommendation].Status)
	assert.Equal(t, tasklist.NotStarted, tasks[tasklist.SlugReviewRecommendation].Status)
	assert.False(t, tasks[tasklist.SlugReviewRecommendation].Enabled, "review section is only editable awaiting determination")
}

func TestDisabledFeaturesAreOmittedAndSkipped(t *testing.T) {
	snap := planningSnapshot()
	snap.Case.ApplicationType = "lawfulness_certificate"
	snap.Features = map[string]bool{}
	snap.Case.Stage = domain.StageInAssessment
	tasks := build(t, snap)
	_, ok := tasks[tasklist.SlugAddConditions]
	assert.False(t, ok)
	_, ok = tasks[tasklist.SlugAssessConsiderations]
	assert.False(t, ok)
	assert.Equal(t, tasklist.NotStarted, tasks[tasklist.SlugDraftRecommendation].Status)
	assert.True(t, tasks[tasklist.SlugDraftRecommendation].Enabled)
}

func TestListTasks(t *testing.T) {
	snap := planningSnapshot()
	snap.Case.Stage = domain.StageInAssessment
	snap.Marks[tasklist.SlugAddHeadsOfTerms] = mark(tasklist.SlugAddHeadsOfTerms, domain.MarkCompleted)
	assert.Equal(t, tasklist.InProgress, build(t, snap)[tasklist.SlugAddHeadsOfTerms].Status, "needs a term")

	snap.Items[domain.ItemTerm] = []domain.OrderedItem{{ID: "t1"}}
	snap.Requests = []domain.ValidationRequest{{ID: "r1", Category: domain.CategoryHeadsOfTerms, State: domain.RequestOpen, Sequence: 1}}
	assert.Equal(t, tasklist.InProgress, build(t, snap)[tasklist.SlugAddHeadsOfTerms].Status, "request outstanding")

	snap.Requests[0].State = domain.RequestClosed
	assert.Equal(t, tasklist.Completed, build(t, snap)[tasklist.SlugAddHeadsOfTerms].Status)

	assert.Equal(t, tasklist.NotStarted, build(t, snap)[tasklist.SlugAddInformatives].Status)
	snap.Items[domain.ItemInformative] = []domain.OrderedItem{{ID: "i1"}}
	assert.Equal(t, tasklist.InProgress, build(t, snap)[tasklist.SlugAddInformatives].Status)
}

func TestResolverErrorsOtherThanNotFoundPropagate(t *testing.T) {
	reg := tasklist.NewRegistry()
	boom := errors.New("boom")
	reg.MustRegister("a", func(tasklist.Snapshot) (tasklist.Status, error) { return "", tasklist.ErrRecordNotFound })
	reg.MustRegister("b", func(tasklist.Snapshot) (tasklist.Status, error) { return "", boom })
	def := tasklist.Definition{CaseType: "x", Tasks: []tasklist.TaskDef{{Slug: "a"}}}
	tasks, err := tasklist.Build(def, reg, tasklist.Snapshot{})
	require.NoError(t, err)
	assert.Equal(t, tasklist.NotStarted, tasks[0].Status)

	def.Tasks = append(def.Tasks, tasklist.TaskDef{Slug: "b"})
	_, err = tasklist.Build(def, reg, tasklist.Snapshot{})
	require.ErrorIs(t, err, boom)

	require.Error(t, reg.Register("a", func(tasklist.Snapshot) (tasklist.Status, error) { return tasklist.Completed, nil }))
}

func TestEnforcementTaskList(t *testing.T) {
	snap := tasklist.Snapshot{
		Case:  domain.Case{Reference: "ENF-1", CaseType: domain.CaseTypeEnforcement, Stage: domain.StageNotStarted},
		Marks: map[string]domain.TaskMark{},
	}
	tasks := build(t, snap)
	assert.Equal(t, tasklist.CannotStartYet, tasks[tasklist.SlugSiteVisit].Status)

	snap.Marks[tasklist.SlugCheckBreachReport] = mark(tasklist.SlugCheckBreachReport, domain.MarkCompleted)
	snap.Marks[tasklist.SlugSiteVisit] = mark(tasklist.SlugSiteVisit, domain.MarkInProgress)
	tasks = build(t, snap)
	assert.Equal(t, tasklist.InProgress, tasks[tasklist.SlugSiteVisit].Status)
	assert.Equal(t, tasklist.CannotStartYet, tasks[tasklist.SlugServeNotice].Status)
	assert.Equal(t, tasklist.NotStarted, tasks[tasklist.SlugCloseCase].Status)
}

func TestFirstIncomplete(t *testing.T) {
	tasks := []tasklist.Task{
		{Slug: "a", Status: tasklist.Completed, Section: tasklist.SectionValidation, Mandatory: true},
		{Slug: "b", Status: tasklist.InProgress, Section: tasklist.SectionValidation, Mandatory: true},
		{Slug: "c", Status: tasklist.NotStarted, Section: tasklist.SectionValidation},
	}
	got, ok := tasklist.FirstIncomplete(tasks, tasklist.MandatoryIn(tasks, tasklist.SectionValidation)...)
	require.True(t, ok)
	assert.Equal(t, "b", got.Slug)

	_, ok = tasklist.FirstIncomplete(tasks, "a", "missing")
	assert.False(t, ok)
	assert.Equal(t, 1, tasklist.Counts(tasks)[tasklist.Completed])
}

func TestOwningTask(t *testing.T) {
	assert.Equal(t, tasklist.SlugCheckDescription, tasklist.OwningTask(domain.CategoryDescriptionChange))
	assert.Equal(t, tasklist.SlugAddConditions, tasklist.OwningTask(domain.CategoryPreCommencementCondition))
	for _, c := range domain.Categories {
		assert.NotEmpty(t, tasklist.OwningTask(c), c)
	}
}
