package review_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bops/internal/domain"
	"bops/internal/review"
)

func ptr(b bool) *bool { return &b }

func TestEligibleForPublishGrid(t *testing.T) {
	statuses := []domain.RecommendationStatus{
		domain.RecommendationAssessmentInProgress,
		domain.RecommendationAssessmentComplete,
		domain.RecommendationReviewInProgress,
		domain.RecommendationReviewComplete,
	}
	challenges := []*bool{nil, ptr(true), ptr(false)}
	for _, st := range statuses {
		for _, ch := range challenges {
			rec := &domain.Recommendation{Status: st, Challenged: ch}
			want := st == domain.RecommendationReviewComplete && ch != nil && !*ch
			assert.Equal(t, want, review.EligibleForPublish(domain.StageAwaitingDetermination, rec), "status=%s challenged=%v", st, ch)
			assert.False(t, review.EligibleForPublish(domain.StageToBeReviewed, rec))
			assert.False(t, review.EligibleForPublish(domain.StageInAssessment, rec))
		}
	}
	assert.False(t, review.EligibleForPublish(domain.StageAwaitingDetermination, nil))
}

func TestApplyChallenge(t *testing.T) {
	rec := domain.Recommendation{Status: domain.RecommendationAssessmentComplete}
	_, _, err := review.ApplyChallenge(rec, true, "", "rev")
	require.ErrorIs(t, err, review.ErrNotInReview)

	rec.Status = domain.RecommendationReviewInProgress
	rec, changed, err := review.ApplyChallenge(rec, false, "agreed", "rev")
	require.NoError(t, err)
	assert.True(t, changed)
	require.NotNil(t, rec.Challenged)
	assert.False(t, *rec.Challenged)
	assert.Equal(t, "agreed", rec.ReviewerComment)

	rec, err = review.Complete(rec)
	require.NoError(t, err)
	assert.Equal(t, domain.RecommendationReviewComplete, rec.Status)

	again, changed, err := review.ApplyChallenge(rec, false, "", "rev")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, rec, again)

	flipped, changed, err := review.ApplyChallenge(rec, true, "conditions missing", "rev")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, *flipped.Challenged)
	assert.Equal(t, domain.RecommendationReviewInProgress, flipped.Status)
}

func TestCompleteNeedsVerdict(t *testing.T) {
	_, err := review.Complete(domain.Recommendation{Status: domain.RecommendationReviewInProgress})
	require.ErrorIs(t, err, review.ErrUndecided)
}

func TestReturnToAssessor(t *testing.T) {
	rec := review.ReturnToAssessor(domain.Recommendation{Status: domain.RecommendationReviewComplete, Submitted: true, Challenged: ptr(true)})
	assert.Equal(t, domain.RecommendationAssessmentInProgress, rec.Status)
	assert.False(t, rec.Submitted)
	assert.Nil(t, rec.Challenged)
}

func TestCanStartReview(t *testing.T) {
	rec := domain.Recommendation{Status: domain.RecommendationAssessmentComplete, Submitted: true}
	assert.True(t, review.CanStartReview(domain.StageAwaitingDetermination, rec))
	assert.False(t, review.CanStartReview(domain.StageInAssessment, rec))
	assert.False(t, review.CanStartReview(domain.StageToBeReviewed, rec))
	rec.Submitted = false
	assert.False(t, review.CanStartReview(domain.StageAwaitingDetermination, rec))
}
