// Package workflow holds the literal transition tables for case stages and
// validation request states. The (state, event) strings are part of the API.
package workflow

import (
	"sort"

	"bops/internal/domain"
)

type transition struct {
	from  domain.Stage
	event domain.Event
}

var (
	planningNonTerminal = []domain.Stage{
		domain.StageNotStarted,
		domain.StageInvalidated,
		domain.StageInAssessment,
		domain.StageAwaitingDetermination,
		domain.StageToBeReviewed,
	}

	stageTables = map[domain.CaseType]map[transition]domain.Stage{
		domain.CaseTypePlanningApplication: withEvent(planningNonTerminal, domain.EventWithdraw, domain.StageWithdrawn, map[transition]domain.Stage{
			{domain.StageNotStarted, domain.EventValidate}:                     domain.StageInAssessment,
			{domain.StageNotStarted, domain.EventInvalidate}:                   domain.StageInvalidated,
			{domain.StageNotStarted, domain.EventReturn}:                       domain.StageReturned,
			{domain.StageInvalidated, domain.EventValidate}:                    domain.StageInAssessment,
			{domain.StageInvalidated, domain.EventReturn}:                      domain.StageReturned,
			{domain.StageInAssessment, domain.EventSubmit}:                     domain.StageAwaitingDetermination,
			{domain.StageAwaitingDetermination, domain.EventRequestCorrection}: domain.StageToBeReviewed,
			{domain.StageAwaitingDetermination, domain.EventDetermine}:         domain.StageDetermined,
			{domain.StageToBeReviewed, domain.EventSubmit}:                     domain.StageAwaitingDetermination,
		}),
		domain.CaseTypePreApplication: withEvent(planningNonTerminal, domain.EventWithdraw, domain.StageWithdrawn, map[transition]domain.Stage{
			{domain.StageNotStarted, domain.EventValidate}:                     domain.StageInAssessment,
			{domain.StageInAssessment, domain.EventSubmit}:                     domain.StageAwaitingDetermination,
			{domain.StageAwaitingDetermination, domain.EventRequestCorrection}: domain.StageToBeReviewed,
			{domain.StageAwaitingDetermination, domain.EventDetermine}:         domain.StageDetermined,
			{domain.StageToBeReviewed, domain.EventSubmit}:                     domain.StageAwaitingDetermination,
		}),
		domain.CaseTypeEnforcement: {
			{domain.StageNotStarted, domain.EventStartInvestigation}:  domain.StageUnderInvestigation,
			{domain.StageUnderInvestigation, domain.EventServeNotice}: domain.StageNoticeServed,
			{domain.StageNotStarted, domain.EventClose}:               domain.StageClosed,
			{domain.StageUnderInvestigation, domain.EventClose}:       domain.StageClosed,
			{domain.StageNoticeServed, domain.EventClose}:             domain.StageClosed,
		},
	}

	terminal = map[domain.Stage]bool{
		domain.StageDetermined: true,
		domain.StageWithdrawn:  true,
		domain.StageReturned:   true,
		domain.StageClosed:     true,
	}
)

// withEvent adds from -> to for event on every listed stage that the table
// does not already route elsewhere. Pre-application cases never sit in
// invalidated, so the extra row is unreachable there.
func withEvent(from []domain.Stage, event domain.Event, to domain.Stage, table map[transition]domain.Stage) map[transition]domain.Stage {
	for _, s := range from {
		k := transition{s, event}
		if _, ok := table[k]; !ok {
			table[k] = to
		}
	}
	return table
}

// Next returns the stage reached by applying event, or false when the
// (stage, event) pair is not in the case type's table.
func Next(ct domain.CaseType, from domain.Stage, event domain.Event) (domain.Stage, bool) {
	if terminal[from] {
		return "", false
	}
	to, ok := stageTables[ct][transition{from, event}]
	return to, ok
}

// Terminal reports whether a stage accepts no further events.
func Terminal(s domain.Stage) bool {
	return terminal[s]
}

// Events lists the events accepted from a stage, sorted by name.
func Events(ct domain.CaseType, from domain.Stage) []domain.Event {
	if terminal[from] {
		return nil
	}
	var out []domain.Event
	for k := range stageTables[ct] {
		if k.from == from {
			out = append(out, k.event)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// KnownCaseType reports whether ct has a transition table.
func KnownCaseType(ct domain.CaseType) bool {
	_, ok := stageTables[ct]
	return ok
}

// PastValidation reports whether a case has left the validation phase.
func PastValidation(s domain.Stage) bool {
	return s != domain.StageNotStarted && s != domain.StageInvalidated
}

// InReview reports whether the case sits with a reviewer.
func InReview(s domain.Stage) bool {
	return s == domain.StageAwaitingDetermination || s == domain.StageToBeReviewed
}

type RequestEvent string

const (
	RequestSend      RequestEvent = "send"
	RequestRespond   RequestEvent = "respond"
	RequestCancel    RequestEvent = "cancel"
	RequestAutoClose RequestEvent = "auto_close"
)

type requestTransition struct {
	from  domain.RequestState
	event RequestEvent
}

var requestTable = map[requestTransition]domain.RequestState{
	{domain.RequestPending, RequestSend}:   domain.RequestOpen,
	{domain.RequestPending, RequestCancel}: domain.RequestCancelled,
	{domain.RequestOpen, RequestRespond}:   domain.RequestClosed,
	{domain.RequestOpen, RequestCancel}:    domain.RequestCancelled,
	{domain.RequestOpen, RequestAutoClose}: domain.RequestAutoClosed,
}

// NextRequestState returns the request state reached by event.
func NextRequestState(from domain.RequestState, event RequestEvent) (domain.RequestState, bool) {
	to, ok := requestTable[requestTransition{from, event}]
	return to, ok
}
