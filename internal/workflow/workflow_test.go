package workflow_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"bops/internal/domain"
	"bops/internal/workflow"
)

func TestPlanningApplicationTable(t *testing.T) {
	pa := domain.CaseTypePlanningApplication
	cases := []struct {
		from  domain.Stage
		event domain.Event
		to    domain.Stage
		ok    bool
	}{
		{domain.StageNotStarted, domain.EventValidate, domain.StageInAssessment, true},
		{domain.StageNotStarted, domain.EventInvalidate, domain.StageInvalidated, true},
		{domain.StageInvalidated, domain.EventValidate, domain.StageInAssessment, true},
		{domain.StageInAssessment, domain.EventSubmit, domain.StageAwaitingDetermination, true},
		{domain.StageAwaitingDetermination, domain.EventRequestCorrection, domain.StageToBeReviewed, true},
		{domain.StageToBeReviewed, domain.EventSubmit, domain.StageAwaitingDetermination, true},
		{domain.StageAwaitingDetermination, domain.EventDetermine, domain.StageDetermined, true},
		{domain.StageInAssessment, domain.EventWithdraw, domain.StageWithdrawn, true},
		{domain.StageInvalidated, domain.EventReturn, domain.StageReturned, true},
		{domain.StageInAssessment, domain.EventReturn, "", false},
		{domain.StageNotStarted, domain.EventDetermine, "", false},
		{domain.StageInAssessment, domain.EventStartInvestigation, "", false},
	}
	for _, tc := range cases {
		to, ok := workflow.Next(pa, tc.from, tc.event)
		assert.Equal(t, tc.ok, ok, "%s --%s-->", tc.from, tc.event)
		assert.Equal(t, tc.to, to, "%s --%s-->", tc.from, tc.event)
	}
}

func TestTerminalStagesRejectEverything(t *testing.T) {
	events := []domain.Event{
		domain.EventValidate, domain.EventInvalidate, domain.EventSubmit, domain.EventRequestCorrection,
		domain.EventDetermine, domain.EventWithdraw, domain.EventReturn, domain.EventStartInvestigation,
		domain.EventServeNotice, domain.EventClose,
	}
	for _, ct := range []domain.CaseType{domain.CaseTypePlanningApplication, domain.CaseTypePreApplication, domain.CaseTypeEnforcement} {
		for _, s := range []domain.Stage{domain.StageDetermined, domain.StageWithdrawn, domain.StageReturned, domain.StageClosed} {
			assert.True(t, workflow.Terminal(s))
			assert.Empty(t, workflow.Events(ct, s))
			for _, ev := range events {
				_, ok := workflow.Next(ct, s, ev)
				assert.False(t, ok, "%s %s %s", ct, s, ev)
			}
		}
	}
}

func TestEnforcementTable(t *testing.T) {
	enf := domain.CaseTypeEnforcement
	assert.Equal(t, []domain.Event{domain.EventClose, domain.EventStartInvestigation}, workflow.Events(enf, domain.StageNotStarted))
	to, ok := workflow.Next(enf, domain.StageUnderInvestigation, domain.EventServeNotice)
	assert.True(t, ok)
	assert.Equal(t, domain.StageNoticeServed, to)
	_, ok = workflow.Next(enf, domain.StageNotStarted, domain.EventWithdraw)
	assert.False(t, ok)
}

func TestPreApplicationCannotBeInvalidated(t *testing.T) {
	_, ok := workflow.Next(domain.CaseTypePreApplication, domain.StageNotStarted, domain.EventInvalidate)
	assert.False(t, ok)
	to, ok := workflow.Next(domain.CaseTypePreApplication, domain.StageNotStarted, domain.EventWithdraw)
	assert.True(t, ok)
	assert.Equal(t, domain.StageWithdrawn, to)
}

func TestRequestStateTable(t *testing.T) {
	to, ok := workflow.NextRequestState(domain.RequestPending, workflow.RequestSend)
	assert.True(t, ok)
	assert.Equal(t, domain.RequestOpen, to)

	to, ok = workflow.NextRequestState(domain.RequestOpen, workflow.RequestAutoClose)
	assert.True(t, ok)
	assert.Equal(t, domain.RequestAutoClosed, to)

	_, ok = workflow.NextRequestState(domain.RequestPending, workflow.RequestRespond)
	assert.False(t, ok)
	for _, s := range []domain.RequestState{domain.RequestClosed, domain.RequestCancelled, domain.RequestAutoClosed} {
		for _, ev := range []workflow.RequestEvent{workflow.RequestSend, workflow.RequestRespond, workflow.RequestCancel, workflow.RequestAutoClose} {
			_, ok := workflow.NextRequestState(s, ev)
			assert.False(t, ok, "%s %s", s, ev)
		}
	}
}

func TestPhases(t *testing.T) {
	assert.False(t, workflow.PastValidation(domain.StageInvalidated))
	assert.True(t, workflow.PastValidation(domain.StageInAssessment))
	assert.True(t, workflow.InReview(domain.StageToBeReviewed))
	assert.False(t, workflow.InReview(domain.StageInAssessment))
}
