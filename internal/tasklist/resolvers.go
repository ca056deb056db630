package tasklist

import "bops/internal/domain"

const (
	SlugCheckDocuments            = "check-documents"
	SlugCheckRedLineBoundary      = "check-red-line-boundary"
	SlugCheckDescription          = "check-description"
	SlugCheckFee                  = "check-fee"
	SlugCheckOwnershipCertificate = "check-ownership-certificate"
	SlugOtherValidationIssues     = "other-validation-issues"
	SlugReviewValidationRequests  = "review-validation-requests"
	SlugAssessConsiderations      = "assess-considerations"
	SlugAddConditions             = "add-conditions"
	SlugAddInformatives           = "add-informatives"
	SlugAddHeadsOfTerms           = "add-heads-of-terms"
	SlugExtendExpiryDate          = "extend-expiry-date"
	SlugDraftRecommendation       = "make-draft-recommendation"
	SlugSubmitRecommendation      = "submit-recommendation"
	SlugReviewRecommendation      = "review-recommendation"
	SlugPublishDecision           = "publish-decision"
	SlugCheckBreachReport         = "check-breach-report"
	SlugSiteVisit                 = "site-visit"
	SlugServeNotice               = "serve-notice"
	SlugCloseCase                 = "close-case"
)

// categoryFor ties request-backed tasks to the request category they own.
var categoryFor = map[string]domain.RequestCategory{
	SlugCheckDocuments:            domain.CategoryAdditionalDocument,
	SlugCheckRedLineBoundary:      domain.CategoryRedLineBoundaryChange,
	SlugCheckDescription:          domain.CategoryDescriptionChange,
	SlugCheckFee:                  domain.CategoryFeeChange,
	SlugCheckOwnershipCertificate: domain.CategoryOwnershipCertificate,
	SlugOtherValidationIssues:     domain.CategoryOtherChange,
	SlugAddConditions:             domain.CategoryPreCommencementCondition,
	SlugAddHeadsOfTerms:           domain.CategoryHeadsOfTerms,
	SlugExtendExpiryDate:          domain.CategoryTimeExtension,
}

// OwningTask returns the slug of the task a request category belongs to.
func OwningTask(category domain.RequestCategory) string {
	for slug, c := range categoryFor {
		if c == category {
			return slug
		}
	}
	return ""
}

var validCertificates = map[string]bool{"A": true, "B": true, "C": true, "D": true}

func hasActiveDocument(s Snapshot) bool { return s.ActiveDocuments() > 0 }

func hasValidCertificate(s Snapshot) bool { return validCertificates[s.Case.OwnershipCertificate] }

func resolved(st domain.RequestState) bool {
	return st == domain.RequestClosed || st == domain.RequestAutoClosed
}

// requestCheck covers validation checks that an officer either confirms
// directly or resolves through a request to the applicant. satisfied, when
// set, is the record the task needs before it can report completed.
func requestCheck(slug string, category domain.RequestCategory, satisfied func(Snapshot) bool) Resolver {
	return func(s Snapshot) (Status, error) {
		ok := satisfied == nil || satisfied(s)
		latest, hasRequest := s.LatestRequest(category)
		if hasRequest && latest.State.Active() {
			return InProgress, nil
		}
		if hasRequest && resolved(latest.State) && ok {
			return Completed, nil
		}
		mark, marked := s.Mark(slug)
		if marked && mark.Status == domain.MarkCompleted && ok {
			return Completed, nil
		}
		if marked || (hasRequest && resolved(latest.State)) {
			return InProgress, nil
		}
		return NotStarted, nil
	}
}

func reviewValidationRequests(s Snapshot) (Status, error) {
	for _, r := range s.Requests {
		if r.State.Active() && !r.PostValidation {
			return InProgress, nil
		}
	}
	return Completed, nil
}

// listTask covers the assessment lists. needsItems requires at least one
// entry before the officer's completed mark or a resolved request counts.
func listTask(slug string, kind domain.ItemKind, category domain.RequestCategory, needsItems bool) Resolver {
	return func(s Snapshot) (Status, error) {
		items := len(s.Items[kind])
		ok := !needsItems || items > 0
		if category != "" {
			if latest, found := s.LatestRequest(category); found {
				if latest.State.Active() {
					return InProgress, nil
				}
				if resolved(latest.State) && ok {
					return Completed, nil
				}
			}
		}
		mark, marked := s.Mark(slug)
		if marked && mark.Status == domain.MarkCompleted && ok {
			return Completed, nil
		}
		if marked || items > 0 {
			return InProgress, nil
		}
		return NotStarted, nil
	}
}

func extendExpiryDate(s Snapshot) (Status, error) {
	latest, ok := s.LatestRequest(domain.CategoryTimeExtension)
	switch {
	case !ok:
		return NotStarted, nil
	case latest.State.Active():
		return InProgress, nil
	case resolved(latest.State):
		return Completed, nil
	}
	return NotStarted, nil
}

func draftRecommendation(s Snapshot) (Status, error) {
	if s.Recommendation == nil {
		return "", ErrRecordNotFound
	}
	if s.Recommendation.Status == domain.RecommendationAssessmentInProgress {
		return InProgress, nil
	}
	return Completed, nil
}

func submitRecommendation(s Snapshot) (Status, error) {
	if s.Recommendation == nil {
		return "", ErrRecordNotFound
	}
	if s.Recommendation.Submitted {
		return Completed, nil
	}
	return NotStarted, nil
}

func reviewRecommendation(s Snapshot) (Status, error) {
	rec := s.Recommendation
	if rec == nil {
		return "", ErrRecordNotFound
	}
	if !rec.Submitted {
		return NotStarted, nil
	}
	switch rec.Status {
	case domain.RecommendationReviewInProgress:
		return InProgress, nil
	case domain.RecommendationReviewComplete:
		return Completed, nil
	}
	return NotStarted, nil
}

func publishDecision(s Snapshot) (Status, error) {
	if s.Case.Stage == domain.StageDetermined {
		return Completed, nil
	}
	return NotStarted, nil
}

func markOnly(slug string) Resolver {
	return func(s Snapshot) (Status, error) {
		mark, ok := s.Mark(slug)
		if !ok {
			return NotStarted, nil
		}
		if mark.Status == domain.MarkCompleted {
			return Completed, nil
		}
		return InProgress, nil
	}
}

func serveNotice(s Snapshot) (Status, error) {
	if s.Case.Stage == domain.StageNoticeServed {
		return Completed, nil
	}
	if _, ok := s.Mark(SlugServeNotice); ok {
		return InProgress, nil
	}
	return NotStarted, nil
}

func closeCase(s Snapshot) (Status, error) {
	if s.Case.Stage == domain.StageClosed {
		return Completed, nil
	}
	return NotStarted, nil
}
