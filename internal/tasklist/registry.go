package tasklist

import (
	"fmt"
	"sort"

	"bops/internal/domain"
)

// Resolver computes a task's status from a snapshot. It must not have side
// effects.
type Resolver func(Snapshot) (Status, error)

// Registry maps task slugs to their resolvers.
type Registry struct {
	resolvers map[string]Resolver
}

func NewRegistry() *Registry {
	return &Registry{resolvers: map[string]Resolver{}}
}

// Register installs a resolver. Returns an error if the slug already exists.
func (r *Registry) Register(slug string, fn Resolver) error {
	if slug == "" {
		return fmt.Errorf("tasklist: slug is required")
	}
	if fn == nil {
		return fmt.Errorf("tasklist: resolver is required for %s", slug)
	}
	if _, exists := r.resolvers[slug]; exists {
		return fmt.Errorf("tasklist: %s already registered", slug)
	}
	r.resolvers[slug] = fn
	return nil
}

// MustRegister panics if registration fails.
func (r *Registry) MustRegister(slug string, fn Resolver) {
	if err := r.Register(slug, fn); err != nil {
		panic(err)
	}
}

func (r *Registry) Resolve(slug string) (Resolver, bool) {
	fn, ok := r.resolvers[slug]
	return fn, ok
}

// Slugs returns the registered slugs sorted.
func (r *Registry) Slugs() []string {
	out := make([]string, 0, len(r.resolvers))
	for slug := range r.resolvers {
		out = append(out, slug)
	}
	sort.Strings(out)
	return out
}

// DefaultRegistry wires every slug used by the built-in definitions.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(SlugCheckDocuments, requestCheck(SlugCheckDocuments, categoryFor[SlugCheckDocuments], hasActiveDocument))
	r.MustRegister(SlugCheckRedLineBoundary, requestCheck(SlugCheckRedLineBoundary, categoryFor[SlugCheckRedLineBoundary], nil))
	r.MustRegister(SlugCheckDescription, requestCheck(SlugCheckDescription, categoryFor[SlugCheckDescription], nil))
	r.MustRegister(SlugCheckFee, requestCheck(SlugCheckFee, categoryFor[SlugCheckFee], nil))
	r.MustRegister(SlugCheckOwnershipCertificate, requestCheck(SlugCheckOwnershipCertificate, categoryFor[SlugCheckOwnershipCertificate], hasValidCertificate))
	r.MustRegister(SlugOtherValidationIssues, requestCheck(SlugOtherValidationIssues, categoryFor[SlugOtherValidationIssues], nil))
	r.MustRegister(SlugReviewValidationRequests, reviewValidationRequests)
	r.MustRegister(SlugAssessConsiderations, listTask(SlugAssessConsiderations, domain.ItemConsideration, "", true))
	r.MustRegister(SlugAddConditions, listTask(SlugAddConditions, domain.ItemCondition, domain.CategoryPreCommencementCondition, false))
	r.MustRegister(SlugAddInformatives, listTask(SlugAddInformatives, domain.ItemInformative, "", false))
	r.MustRegister(SlugAddHeadsOfTerms, listTask(SlugAddHeadsOfTerms, domain.ItemTerm, domain.CategoryHeadsOfTerms, true))
	r.MustRegister(SlugExtendExpiryDate, extendExpiryDate)
	r.MustRegister(SlugDraftRecommendation, draftRecommendation)
	r.MustRegister(SlugSubmitRecommendation, submitRecommendation)
	r.MustRegister(SlugReviewRecommendation, reviewRecommendation)
	r.MustRegister(SlugPublishDecision, publishDecision)
	r.MustRegister(SlugCheckBreachReport, markOnly(SlugCheckBreachReport))
	r.MustRegister(SlugSiteVisit, markOnly(SlugSiteVisit))
	r.MustRegister(SlugServeNotice, serveNotice)
	r.MustRegister(SlugCloseCase, closeCase)
	return r
}
