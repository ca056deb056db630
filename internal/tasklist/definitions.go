package tasklist

import (
	"fmt"

	"bops/internal/domain"
)

var validationChecks = []string{
	SlugCheckDocuments,
	SlugCheckRedLineBoundary,
	SlugCheckDescription,
	SlugCheckFee,
	SlugCheckOwnershipCertificate,
}

var definitions = map[domain.CaseType]Definition{
	domain.CaseTypePlanningApplication: {
		CaseType: domain.CaseTypePlanningApplication,
		Tasks: []TaskDef{
			{Slug: SlugCheckDocuments, Title: "Check and request documents", Section: SectionValidation, Mandatory: true},
			{Slug: SlugCheckRedLineBoundary, Title: "Check red line boundary", Section: SectionValidation, Mandatory: true},
			{Slug: SlugCheckDescription, Title: "Check description", Section: SectionValidation, Mandatory: true},
			{Slug: SlugCheckFee, Title: "Check fee", Section: SectionValidation, Mandatory: true},
			{Slug: SlugCheckOwnershipCertificate, Title: "Check ownership certificate", Section: SectionValidation, Mandatory: true},
			{Slug: SlugOtherValidationIssues, Title: "Other validation issues", Section: SectionValidation},
			{Slug: SlugReviewValidationRequests, Title: "Review validation requests", Section: SectionValidation, Mandatory: true, Prerequisites: validationChecks},
			{Slug: SlugAssessConsiderations, Title: "Assess against policies and guidance", Section: SectionAssessment, Mandatory: true, Feature: "considerations"},
			{Slug: SlugAddConditions, Title: "Add conditions", Section: SectionAssessment, Mandatory: true, Feature: "conditions"},
			{Slug: SlugAddInformatives, Title: "Add informatives", Section: SectionAssessment, Feature: "informatives"},
			{Slug: SlugAddHeadsOfTerms, Title: "Add heads of terms", Section: SectionAssessment, Mandatory: true, Feature: "heads_of_terms"},
			{Slug: SlugExtendExpiryDate, Title: "Extend expiry date", Section: SectionAssessment},
			{Slug: SlugDraftRecommendation, Title: "Make draft recommendation", Section: SectionAssessment, Mandatory: true,
				Prerequisites: []string{SlugAssessConsiderations, SlugAddConditions, SlugAddHeadsOfTerms}},
			{Slug: SlugSubmitRecommendation, Title: "Review and submit recommendation", Section: SectionAssessment, Mandatory: true,
				Prerequisites: []string{SlugDraftRecommendation}},
			{Slug: SlugReviewRecommendation, Title: "Review recommendation", Section: SectionReview, Mandatory: true,
				Prerequisites: []string{SlugSubmitRecommendation}},
			{Slug: SlugPublishDecision, Title: "Publish determination", Section: SectionReview,
				Prerequisites: []string{SlugReviewRecommendation}},
		},
	},
	domain.CaseTypePreApplication: {
		CaseType: domain.CaseTypePreApplication,
		Tasks: []TaskDef{
			{Slug: SlugCheckDocuments, Title: "Check and request documents", Section: SectionValidation, Mandatory: true},
			{Slug: SlugCheckDescription, Title: "Check description", Section: SectionValidation, Mandatory: true},
			{Slug: SlugReviewValidationRequests, Title: "Review validation requests", Section: SectionValidation, Mandatory: true,
				Prerequisites: []string{SlugCheckDocuments, SlugCheckDescription}},
			{Slug: SlugAssessConsiderations, Title: "Assess against policies and guidance", Section: SectionAssessment, Mandatory: true, Feature: "considerations"},
			{Slug: SlugDraftRecommendation, Title: "Write advice report", Section: SectionAssessment, Mandatory: true,
				Prerequisites: []string{SlugAssessConsiderations}},
			{Slug: SlugSubmitRecommendation, Title: "Submit advice report", Section: SectionAssessment, Mandatory: true,
				Prerequisites: []string{SlugDraftRecommendation}},
			{Slug: SlugReviewRecommendation, Title: "Review advice report", Section: SectionReview, Mandatory: true,
				Prerequisites: []string{SlugSubmitRecommendation}},
			{Slug: SlugPublishDecision, Title: "Send advice report", Section: SectionReview,
				Prerequisites: []string{SlugReviewRecommendation}},
		},
	},
	domain.CaseTypeEnforcement: {
		CaseType: domain.CaseTypeEnforcement,
		Tasks: []TaskDef{
			{Slug: SlugCheckBreachReport, Title: "Check breach report", Section: SectionInvestigation, Mandatory: true},
			{Slug: SlugSiteVisit, Title: "Record site visit", Section: SectionInvestigation, Mandatory: true,
				Prerequisites: []string{SlugCheckBreachReport}},
			{Slug: SlugServeNotice, Title: "Serve enforcement notice", Section: SectionInvestigation,
				Prerequisites: []string{SlugSiteVisit}},
			{Slug: SlugCloseCase, Title: "Close case", Section: SectionInvestigation,
				Prerequisites: []string{SlugCheckBreachReport}},
		},
	},
}

// For returns the task definition of a case type.
func For(ct domain.CaseType) (Definition, error) {
	def, ok := definitions[ct]
	if !ok {
		return Definition{}, fmt.Errorf("no task list defined for case type %s", ct)
	}
	return def, nil
}

// Has reports whether slug is declared for the case type.
func (d Definition) Has(slug string) bool {
	for _, t := range d.Tasks {
		if t.Slug == slug {
			return true
		}
	}
	return false
}
