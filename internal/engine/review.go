package engine

import (
	"context"
	"database/sql"
	"errors"

	"bops/internal/audit"
	"bops/internal/domain"
	"bops/internal/engine/auth"
	"bops/internal/repo"
	"bops/internal/review"
	"bops/internal/tasklist"
	"bops/internal/workflow"
)

type RecommendationOptions struct {
	CaseID   string
	Decision string
	Comment  string
	// Draft keeps the recommendation in progress.
	Draft   bool
	ActorID string
}

// SaveRecommendation writes the assessing officer's recommendation.
func (e Engine) SaveRecommendation(ctx context.Context, opts RecommendationOptions) (domain.Recommendation, error) {
	if opts.Decision != "" && opts.Decision != "granted" && opts.Decision != "refused" {
		return domain.Recommendation{}, invalidPayload("decision must be granted or refused")
	}
	if !opts.Draft && opts.Decision == "" {
		return domain.Recommendation{}, invalidPayload("a completed recommendation needs a decision")
	}
	return inTx(ctx, e.DB, func(tx *sql.Tx) (domain.Recommendation, error) {
		c, err := e.lockCase(ctx, tx, opts.CaseID, 0)
		if err != nil {
			return domain.Recommendation{}, err
		}
		if _, err := e.require(ctx, tx, c, opts.ActorID, auth.RoleAssessor); err != nil {
			return domain.Recommendation{}, err
		}
		if c.Stage != domain.StageInAssessment && c.Stage != domain.StageToBeReviewed {
			return domain.Recommendation{}, InvalidTransitionError{From: string(c.Stage), Event: "save_recommendation"}
		}
		existing, err := e.recommendationTx(ctx, tx, c.ID)
		if err != nil {
			return domain.Recommendation{}, err
		}
		now := e.stamp()
		rec := domain.Recommendation{CaseID: c.ID, CreatedAt: now}
		if existing != nil {
			rec = *existing
		}
		if rec.Submitted {
			return domain.Recommendation{}, InvalidTransitionError{From: "submitted", Event: "save_recommendation"}
		}
		rec.Status = domain.RecommendationAssessmentComplete
		if opts.Draft {
			rec.Status = domain.RecommendationAssessmentInProgress
		}
		rec.Decision = opts.Decision
		rec.AssessorComment = opts.Comment
		rec.AssessorID = opts.ActorID
		rec.UpdatedAt = now
		err = e.withAudit(ctx, tx, func() (audit.Entry, error) {
			if err := e.Repo.UpsertRecommendationTx(ctx, tx, rec); err != nil {
				return audit.Entry{}, err
			}
			_, err := e.saveCase(ctx, tx, c)
			return audit.Entry{CaseID: c.ID, ActorID: opts.ActorID, ActivityType: "recommendation_saved",
				Payload: audit.Payload{"status": rec.Status, "decision": rec.Decision}}, err
		})
		return rec, err
	})
}

// SubmitRecommendation hands a completed recommendation to the reviewer and
// fires the submit event in the same transaction.
func (e Engine) SubmitRecommendation(ctx context.Context, caseID, actorID string, expectedVersion int) (domain.Case, error) {
	return inTx(ctx, e.DB, func(tx *sql.Tx) (domain.Case, error) {
		c, err := e.lockCase(ctx, tx, caseID, expectedVersion)
		if err != nil {
			return domain.Case{}, err
		}
		if _, err := e.require(ctx, tx, c, actorID, auth.RoleAssessor); err != nil {
			return domain.Case{}, err
		}
		if _, ok := workflow.Next(c.CaseType, c.Stage, domain.EventSubmit); !ok {
			return domain.Case{}, InvalidTransitionError{From: string(c.Stage), Event: string(domain.EventSubmit)}
		}
		rec, err := e.recommendationTx(ctx, tx, c.ID)
		if err != nil {
			return domain.Case{}, err
		}
		if rec == nil || rec.Status != domain.RecommendationAssessmentComplete {
			return domain.Case{}, PreconditionNotMetError{Slug: tasklist.SlugDraftRecommendation, Reason: "recommendation is not complete"}
		}
		rec.Submitted = true
		rec.UpdatedAt = e.stamp()
		err = e.withAudit(ctx, tx, func() (audit.Entry, error) {
			return audit.Entry{CaseID: c.ID, ActorID: actorID, ActivityType: "recommendation_submitted",
				Payload: audit.Payload{"decision": rec.Decision}}, e.Repo.UpsertRecommendationTx(ctx, tx, *rec)
		})
		if err != nil {
			return domain.Case{}, err
		}
		cfg, err := e.configFor(ctx, c.TenantID)
		if err != nil {
			return domain.Case{}, err
		}
		return e.transitionTx(ctx, tx, c, cfg, domain.EventSubmit, actorID, "")
	})
}

// StartReview moves a submitted recommendation to the reviewer.
func (e Engine) StartReview(ctx context.Context, caseID, actorID string) (domain.Recommendation, error) {
	return e.updateReview(ctx, caseID, actorID, "review_started", func(c domain.Case, rec domain.Recommendation) (domain.Recommendation, bool, error) {
		if !review.CanStartReview(c.Stage, rec) {
			return rec, false, InvalidTransitionError{From: string(rec.Status), Event: "start_review"}
		}
		if rec.Status == domain.RecommendationReviewInProgress {
			return rec, false, nil
		}
		rec.Status = domain.RecommendationReviewInProgress
		rec.ReviewerID = strPtr(actorID)
		return rec, true, nil
	})
}

type ChallengeOptions struct {
	CaseID     string
	Challenged bool
	Comment    string
	ActorID    string
}

// RecordChallenge stores whether the reviewer agrees with the
// recommendation. Repeating the recorded verdict changes nothing.
func (e Engine) RecordChallenge(ctx context.Context, opts ChallengeOptions) (domain.Recommendation, error) {
	activity := "recommendation_agreed"
	if opts.Challenged {
		activity = "recommendation_challenged"
	}
	return e.updateReview(ctx, opts.CaseID, opts.ActorID, activity, func(c domain.Case, rec domain.Recommendation) (domain.Recommendation, bool, error) {
		if !workflow.InReview(c.Stage) {
			return rec, false, InvalidTransitionError{From: string(c.Stage), Event: "record_challenge"}
		}
		out, changed, err := review.ApplyChallenge(rec, opts.Challenged, opts.Comment, opts.ActorID)
		if errors.Is(err, review.ErrNotInReview) {
			return rec, false, InvalidTransitionError{From: string(rec.Status), Event: "record_challenge"}
		}
		return out, changed, err
	})
}

// CompleteReview closes the review once the reviewer has decided.
func (e Engine) CompleteReview(ctx context.Context, caseID, actorID string) (domain.Recommendation, error) {
	return e.updateReview(ctx, caseID, actorID, "review_completed", func(c domain.Case, rec domain.Recommendation) (domain.Recommendation, bool, error) {
		if !workflow.InReview(c.Stage) {
			return rec, false, InvalidTransitionError{From: string(c.Stage), Event: "complete_review"}
		}
		if rec.Status == domain.RecommendationReviewComplete {
			return rec, false, nil
		}
		out, err := review.Complete(rec)
		switch {
		case errors.Is(err, review.ErrUndecided):
			return rec, false, PreconditionNotMetError{Slug: tasklist.SlugReviewRecommendation, Reason: err.Error()}
		case errors.Is(err, review.ErrNotInReview):
			return rec, false, InvalidTransitionError{From: string(rec.Status), Event: "complete_review"}
		}
		return out, true, err
	})
}

// updateReview runs a reviewer step. change reports whether anything
// changed; unchanged steps write neither the recommendation nor an audit.
func (e Engine) updateReview(ctx context.Context, caseID, actorID, activity string, change func(domain.Case, domain.Recommendation) (domain.Recommendation, bool, error)) (domain.Recommendation, error) {
	return inTx(ctx, e.DB, func(tx *sql.Tx) (domain.Recommendation, error) {
		c, err := e.lockCase(ctx, tx, caseID, 0)
		if err != nil {
			return domain.Recommendation{}, err
		}
		if _, err := e.require(ctx, tx, c, actorID, auth.RoleReviewer); err != nil {
			return domain.Recommendation{}, err
		}
		rec, err := e.recommendationTx(ctx, tx, c.ID)
		if err != nil {
			return domain.Recommendation{}, err
		}
		if rec == nil {
			return domain.Recommendation{}, PreconditionNotMetError{Slug: tasklist.SlugSubmitRecommendation, Reason: "no recommendation"}
		}
		out, changed, err := change(c, *rec)
		if err != nil || !changed {
			return out, err
		}
		out.UpdatedAt = e.stamp()
		err = e.withAudit(ctx, tx, func() (audit.Entry, error) {
			if err := e.Repo.UpsertRecommendationTx(ctx, tx, out); err != nil {
				return audit.Entry{}, err
			}
			_, err := e.saveCase(ctx, tx, c)
			payload := audit.Payload{"status": out.Status}
			if out.Challenged != nil {
				payload["challenged"] = *out.Challenged
			}
			return audit.Entry{CaseID: c.ID, ActorID: actorID, ActivityType: activity, Comment: out.ReviewerComment, Payload: payload}, err
		})
		return out, err
	})
}

func (e Engine) GetRecommendation(ctx context.Context, caseID string) (domain.Recommendation, error) {
	return e.Repo.GetRecommendation(ctx, caseID)
}

// EligibleForPublish reports whether the case may be determined now.
func (e Engine) EligibleForPublish(ctx context.Context, caseID string) (bool, error) {
	c, err := e.Repo.GetCase(ctx, caseID)
	if err != nil {
		return false, err
	}
	rec, err := e.Repo.GetRecommendation(ctx, caseID)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return review.EligibleForPublish(c.Stage, &rec), nil
}
