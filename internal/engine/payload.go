package engine

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"bops/internal/domain"
)

// Response is the applicant's answer to a request. Change requests are
// approved or rejected; information requests carry a free-text answer.
type Response struct {
	Approved        *bool    `json:"approved,omitempty"`
	RejectionReason string   `json:"rejection_reason,omitempty"`
	Message         string   `json:"message,omitempty"`
	CertificateType string   `json:"certificate_type,omitempty"`
	DocumentIDs     []string `json:"document_ids,omitempty"`
	Deemed          bool     `json:"deemed,omitempty"`
}

type categoryRule struct {
	// proposed validates the officer's proposal. nil accepts anything,
	// including no proposal.
	proposed func(domain.ValidationRequest) error
	// response validates the applicant's answer.
	response func(Response) error
	// target is the item kind a request must point at, if any.
	target domain.ItemKind
	// apply changes the case once the request is approved.
	apply func(c *domain.Case, proposed json.RawMessage, r Response)
}

var categoryRules = map[domain.RequestCategory]categoryRule{
	domain.CategoryDescriptionChange: {
		proposed: func(v domain.ValidationRequest) error {
			var p struct {
				Description string `json:"description"`
			}
			if err := decodeProposed(v.Proposed, &p); err != nil {
				return err
			}
			if strings.TrimSpace(p.Description) == "" {
				return invalidPayload("description_change needs a proposed description")
			}
			return nil
		},
		response: approval,
		apply: func(c *domain.Case, proposed json.RawMessage, _ Response) {
			var p struct {
				Description string `json:"description"`
			}
			if json.Unmarshal(proposed, &p) == nil && p.Description != "" {
				c.Description = p.Description
			}
		},
	},
	domain.CategoryRedLineBoundaryChange: {
		proposed: func(v domain.ValidationRequest) error {
			var p struct {
				Boundary json.RawMessage `json:"boundary"`
			}
			if err := decodeProposed(v.Proposed, &p); err != nil {
				return err
			}
			if len(bytes.TrimSpace(p.Boundary)) == 0 || string(p.Boundary) == "null" {
				return invalidPayload("red_line_boundary_change needs a proposed boundary")
			}
			return requireReason(v)
		},
		response: approval,
	},
	domain.CategoryAdditionalDocument: {
		proposed: func(v domain.ValidationRequest) error {
			var p struct {
				DocumentType string `json:"document_type"`
			}
			if err := decodeProposed(v.Proposed, &p); err != nil {
				return err
			}
			if p.DocumentType == "" {
				return invalidPayload("additional_document needs a document_type")
			}
			return requireReason(v)
		},
		response: func(r Response) error {
			if len(r.DocumentIDs) == 0 && !r.Deemed {
				return invalidPayload("additional_document response needs document_ids")
			}
			return nil
		},
	},
	domain.CategoryOwnershipCertificate: {
		proposed: requireReason,
		response: func(r Response) error {
			if err := approval(r); err != nil {
				return err
			}
			if *r.Approved && !validCertificate(r.CertificateType) {
				return invalidPayload("ownership_certificate response needs certificate_type A, B, C or D")
			}
			return nil
		},
		apply: func(c *domain.Case, _ json.RawMessage, r Response) {
			if r.CertificateType != "" {
				c.OwnershipCertificate = r.CertificateType
			}
		},
	},
	domain.CategoryPreCommencementCondition: {
		response: approval,
		target:   domain.ItemCondition,
	},
	domain.CategoryHeadsOfTerms: {
		response: approval,
		target:   domain.ItemTerm,
	},
	domain.CategoryTimeExtension: {
		proposed: func(v domain.ValidationRequest) error {
			var p struct {
				ExpiryDate string `json:"proposed_expiry_date"`
			}
			if err := decodeProposed(v.Proposed, &p); err != nil {
				return err
			}
			if _, err := time.Parse(time.DateOnly, p.ExpiryDate); err != nil {
				return invalidPayload("time_extension needs proposed_expiry_date as YYYY-MM-DD")
			}
			return requireReason(v)
		},
		response: approval,
	},
	domain.CategoryFeeChange: {
		proposed: requireReason,
		response: message,
	},
	domain.CategoryOtherChange: {
		proposed: requireReason,
		response: message,
	},
}

func decodeProposed(raw json.RawMessage, into any) error {
	if len(raw) == 0 {
		return invalidPayload("proposed change is required")
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return invalidPayload("proposed change is not valid JSON: %v", err)
	}
	return nil
}

func requireReason(v domain.ValidationRequest) error {
	if strings.TrimSpace(v.Reason) == "" {
		return invalidPayload("%s needs a reason", v.Category)
	}
	return nil
}

func approval(r Response) error {
	if r.Approved == nil {
		if r.Deemed {
			return nil
		}
		return invalidPayload("response must approve or reject the change")
	}
	if !*r.Approved && strings.TrimSpace(r.RejectionReason) == "" {
		return invalidPayload("a rejected change needs a rejection_reason")
	}
	return nil
}

func message(r Response) error {
	if strings.TrimSpace(r.Message) == "" && !r.Deemed {
		return invalidPayload("response needs a message")
	}
	return nil
}

// ValidateProposal checks a draft request against its category's rules.
func ValidateProposal(v domain.ValidationRequest) error {
	rule, ok := categoryRules[v.Category]
	if !ok {
		return invalidPayload("unknown request category %q", v.Category)
	}
	if len(v.Proposed) > 0 && !json.Valid(v.Proposed) {
		return invalidPayload("proposed change is not valid JSON")
	}
	if rule.proposed == nil {
		return nil
	}
	return rule.proposed(v)
}

// ParseResponse decodes and validates an applicant's answer.
func ParseResponse(category domain.RequestCategory, raw json.RawMessage) (Response, error) {
	var r Response
	if len(raw) == 0 {
		return r, invalidPayload("response is required")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&r); err != nil {
		return r, invalidPayload("response: %v", err)
	}
	r.CertificateType = strings.ToUpper(strings.TrimSpace(r.CertificateType))
	rule, ok := categoryRules[category]
	if !ok {
		return r, invalidPayload("unknown request category %q", category)
	}
	if rule.response != nil {
		if err := rule.response(r); err != nil {
			return r, err
		}
	}
	return r, nil
}

// deemedResponse is recorded when an open request passes its deadline
// unanswered.
func deemedResponse() Response {
	yes := true
	return Response{Approved: &yes, Deemed: true}
}

// applyResponse makes the case changes an approved response implies.
func applyResponse(c *domain.Case, v domain.ValidationRequest, r Response) {
	rule := categoryRules[v.Category]
	if rule.apply == nil {
		return
	}
	if r.Approved != nil && !*r.Approved {
		return
	}
	rule.apply(c, v.Proposed, r)
}
