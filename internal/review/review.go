// Package review holds the sign-off rules between an assessing officer and a
// reviewer.
package review

import (
	"errors"

	"bops/internal/domain"
)

var (
	// ErrNotInReview is returned when a challenge is recorded outside the
	// review statuses.
	ErrNotInReview = errors.New("recommendation is not under review")
	// ErrUndecided is returned when a review is completed before the
	// reviewer has agreed or challenged.
	ErrUndecided = errors.New("reviewer has not agreed or challenged the recommendation")
)

// InReview reports whether the recommendation sits with the reviewer.
func InReview(rec domain.Recommendation) bool {
	return rec.Status == domain.RecommendationReviewInProgress || rec.Status == domain.RecommendationReviewComplete
}

// EligibleForPublish reports whether a decision may be issued: the review is
// complete, the reviewer agreed, and the case sits in the post-review stage.
func EligibleForPublish(stage domain.Stage, rec *domain.Recommendation) bool {
	if rec == nil || stage != domain.StageAwaitingDetermination {
		return false
	}
	return rec.Status == domain.RecommendationReviewComplete && rec.Challenged != nil && !*rec.Challenged
}

// ApplyChallenge records the reviewer's verdict. Recording the same value
// again changes nothing; changing a recorded verdict puts the review back in
// progress.
func ApplyChallenge(rec domain.Recommendation, challenged bool, comment, reviewerID string) (domain.Recommendation, bool, error) {
	if !InReview(rec) {
		return rec, false, ErrNotInReview
	}
	if rec.Challenged != nil && *rec.Challenged == challenged {
		return rec, false, nil
	}
	if rec.Challenged != nil {
		rec.Status = domain.RecommendationReviewInProgress
	}
	v := challenged
	rec.Challenged = &v
	if comment != "" {
		rec.ReviewerComment = comment
	}
	if reviewerID != "" {
		rec.ReviewerID = &reviewerID
	}
	return rec, true, nil
}

// Complete marks the review as complete.
func Complete(rec domain.Recommendation) (domain.Recommendation, error) {
	if !InReview(rec) {
		return rec, ErrNotInReview
	}
	if rec.Challenged == nil {
		return rec, ErrUndecided
	}
	rec.Status = domain.RecommendationReviewComplete
	return rec, nil
}

// ReturnToAssessor resets a challenged recommendation so the officer can rework it.
func ReturnToAssessor(rec domain.Recommendation) domain.Recommendation {
	rec.Status = domain.RecommendationAssessmentInProgress
	rec.Submitted = false
	rec.Challenged = nil
	return rec
}

// CanStartReview reports whether the reviewer may pick the recommendation up.
func CanStartReview(stage domain.Stage, rec domain.Recommendation) bool {
	return rec.Submitted && stage == domain.StageAwaitingDetermination &&
		(rec.Status == domain.RecommendationAssessmentComplete || rec.Status == domain.RecommendationReviewInProgress)
}
