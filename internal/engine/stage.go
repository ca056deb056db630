package engine

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"bops/internal/audit"
	"bops/internal/config"
	"bops/internal/domain"
	"bops/internal/engine/auth"
	"bops/internal/metrics"
	"bops/internal/notify"
	"bops/internal/repo"
	"bops/internal/review"
	"bops/internal/tasklist"
	"bops/internal/workflow"
)

type TransitionOptions struct {
	CaseID  string
	Event   domain.Event
	ActorID string
	// ExpectedVersion, when set, must equal the case's lock version.
	ExpectedVersion int
	Comment         string
}

// eventRoles lists who may fire each event.
var eventRoles = map[domain.Event]auth.Role{
	domain.EventValidate:           auth.RoleAssessor,
	domain.EventInvalidate:         auth.RoleAssessor,
	domain.EventSubmit:             auth.RoleAssessor,
	domain.EventRequestCorrection:  auth.RoleReviewer,
	domain.EventDetermine:          auth.RoleReviewer,
	domain.EventWithdraw:           auth.RoleAssessor,
	domain.EventReturn:             auth.RoleAssessor,
	domain.EventStartInvestigation: auth.RoleAssessor,
	domain.EventServeNotice:        auth.RoleAssessor,
	domain.EventClose:              auth.RoleAssessor,
}

var eventTemplates = map[domain.Event]string{
	domain.EventValidate:   notify.TemplateCaseValidated,
	domain.EventInvalidate: notify.TemplateCaseInvalidated,
	domain.EventDetermine:  notify.TemplateCaseDetermined,
	domain.EventWithdraw:   notify.TemplateCaseWithdrawn,
	domain.EventReturn:     notify.TemplateCaseReturned,
}

// Transition fires a stage event on a case.
func (e Engine) Transition(ctx context.Context, opts TransitionOptions) (domain.Case, error) {
	c, err := inTx(ctx, e.DB, func(tx *sql.Tx) (domain.Case, error) {
		c, err := e.lockCase(ctx, tx, opts.CaseID, opts.ExpectedVersion)
		if err != nil {
			return domain.Case{}, err
		}
		role, ok := eventRoles[opts.Event]
		if !ok {
			return domain.Case{}, InvalidTransitionError{From: string(c.Stage), Event: string(opts.Event)}
		}
		if _, err := e.require(ctx, tx, c, opts.ActorID, role); err != nil {
			return domain.Case{}, err
		}
		cfg, err := e.configFor(ctx, c.TenantID)
		if err != nil {
			return domain.Case{}, err
		}
		return e.transitionTx(ctx, tx, c, cfg, opts.Event, opts.ActorID, opts.Comment)
	})
	metrics.StageTransitions.WithLabelValues(caseTypeLabel(c), string(opts.Event), metrics.Result(err)).Inc()
	if err == nil {
		e.logger().Info("case transition",
			zap.String("case", c.Reference),
			zap.String("event", string(opts.Event)),
			zap.String("stage", string(c.Stage)),
			zap.String("actor", opts.ActorID))
	}
	return c, err
}

func caseTypeLabel(c domain.Case) string {
	if c.CaseType == "" {
		return "unknown"
	}
	return string(c.CaseType)
}

// transitionTx checks the event against the stage table and preconditions,
// writes the new stage and runs the side effects, all inside tx.
func (e Engine) transitionTx(ctx context.Context, tx *sql.Tx, c domain.Case, cfg *config.Config, ev domain.Event, actorID, comment string) (domain.Case, error) {
	from := c.Stage
	to, ok := workflow.Next(c.CaseType, from, ev)
	if !ok {
		return domain.Case{}, InvalidTransitionError{From: string(from), Event: string(ev)}
	}
	if err := e.checkPreconditions(ctx, tx, c, cfg, ev); err != nil {
		return domain.Case{}, err
	}
	var sent []domain.ValidationRequest
	if ev == domain.EventInvalidate {
		var err error
		if sent, err = e.sendPendingTx(ctx, tx, c, cfg, actorID); err != nil {
			return domain.Case{}, err
		}
	}

	now := e.stamp()
	c.Stage = to
	switch ev {
	case domain.EventValidate:
		c.ValidatedAt = strPtr(now)
	case domain.EventInvalidate:
		c.InvalidatedAt = strPtr(now)
	case domain.EventDetermine:
		c.DeterminedAt = strPtr(now)
	}
	err := e.withAudit(ctx, tx, func() (audit.Entry, error) {
		var err error
		if c, err = e.saveCase(ctx, tx, c); err != nil {
			return audit.Entry{}, err
		}
		payload := audit.Payload{"from": from, "to": to}
		if len(sent) > 0 {
			ids := make([]string, 0, len(sent))
			for _, r := range sent {
				ids = append(ids, r.ID)
			}
			payload["sent_requests"] = ids
		}
		return audit.Entry{CaseID: c.ID, ActorID: actorID, ActivityType: "case_" + string(ev), Comment: comment, Payload: payload}, nil
	})
	if err != nil {
		return domain.Case{}, err
	}

	if ev == domain.EventRequestCorrection {
		rec, err := e.Repo.GetRecommendationTx(ctx, tx, c.ID)
		if err != nil {
			return domain.Case{}, SideEffectError{Effect: "recommendation", Err: err}
		}
		rec = review.ReturnToAssessor(rec)
		rec.UpdatedAt = now
		if err := e.Repo.UpsertRecommendationTx(ctx, tx, rec); err != nil {
			return domain.Case{}, SideEffectError{Effect: "recommendation", Err: err}
		}
	}
	if template, ok := eventTemplates[ev]; ok {
		if err := e.notifyApplicant(ctx, tx, c, actorID, template, map[string]string{"stage": string(to)}); err != nil {
			return domain.Case{}, err
		}
	}
	return c, nil
}

// checkPreconditions reports the first task or record that blocks ev.
func (e Engine) checkPreconditions(ctx context.Context, tx *sql.Tx, c domain.Case, cfg *config.Config, ev domain.Event) error {
	switch ev {
	case domain.EventValidate:
		return e.requireSection(ctx, tx, c, cfg, tasklist.SectionValidation)
	case domain.EventSubmit:
		return e.requireSection(ctx, tx, c, cfg, tasklist.SectionAssessment)
	case domain.EventStartInvestigation:
		return e.requireTasks(ctx, tx, c, cfg, tasklist.SlugCheckBreachReport)
	case domain.EventServeNotice:
		return e.requireTasks(ctx, tx, c, cfg, tasklist.SlugSiteVisit)
	case domain.EventInvalidate:
		requests, err := e.Repo.ListRequestsTx(ctx, tx, repo.RequestFilters{CaseID: c.ID})
		if err != nil {
			return err
		}
		for _, r := range requests {
			if r.State.Active() {
				return nil
			}
		}
		return PreconditionNotMetError{Slug: tasklist.SlugReviewValidationRequests, Reason: "no validation request to send"}
	case domain.EventRequestCorrection:
		rec, err := e.recommendationTx(ctx, tx, c.ID)
		if err != nil {
			return err
		}
		if rec == nil || rec.Challenged == nil || !*rec.Challenged {
			return PreconditionNotMetError{Slug: tasklist.SlugReviewRecommendation, Reason: "recommendation has not been challenged"}
		}
	case domain.EventDetermine:
		if err := e.requireTasks(ctx, tx, c, cfg, tasklist.SlugReviewRecommendation); err != nil {
			return err
		}
		rec, err := e.recommendationTx(ctx, tx, c.ID)
		if err != nil {
			return err
		}
		if !review.EligibleForPublish(c.Stage, rec) {
			return PreconditionNotMetError{Slug: tasklist.SlugReviewRecommendation, Reason: "recommendation is not agreed"}
		}
	}
	return nil
}

func (e Engine) requireSection(ctx context.Context, tx *sql.Tx, c domain.Case, cfg *config.Config, section tasklist.Section) error {
	tasks, err := e.tasksTx(ctx, tx, c, cfg)
	if err != nil {
		return err
	}
	if t, ok := tasklist.Progress(tasks, section); ok {
		return PreconditionNotMetError{Slug: t.Slug, Reason: "task is " + string(t.Status)}
	}
	return nil
}

func (e Engine) requireTasks(ctx context.Context, tx *sql.Tx, c domain.Case, cfg *config.Config, slugs ...string) error {
	tasks, err := e.tasksTx(ctx, tx, c, cfg)
	if err != nil {
		return err
	}
	if t, ok := tasklist.FirstIncomplete(tasks, slugs...); ok {
		return PreconditionNotMetError{Slug: t.Slug, Reason: "task is " + string(t.Status)}
	}
	return nil
}

func (e Engine) recommendationTx(ctx context.Context, tx *sql.Tx, caseID string) (*domain.Recommendation, error) {
	rec, err := e.Repo.GetRecommendationTx(ctx, tx, caseID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// AvailableEvents lists the events the stage table allows for a case.
func (e Engine) AvailableEvents(ctx context.Context, caseID string) ([]domain.Event, error) {
	c, err := e.Repo.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.ArchivedAt != nil {
		return nil, nil
	}
	return workflow.Events(c.CaseType, c.Stage), nil
}
