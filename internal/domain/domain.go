package domain

import "encoding/json"

type CaseType string

const (
	CaseTypePlanningApplication CaseType = "planning_application"
	CaseTypePreApplication      CaseType = "pre_application"
	CaseTypeEnforcement         CaseType = "enforcement"
)

type Stage string

const (
	StageNotStarted            Stage = "not_started"
	StageInvalidated           Stage = "invalidated"
	StageInAssessment          Stage = "in_assessment"
	StageAwaitingDetermination Stage = "awaiting_determination"
	StageToBeReviewed          Stage = "to_be_reviewed"
	StageDetermined            Stage = "determined"
	StageWithdrawn             Stage = "withdrawn"
	StageReturned              Stage = "returned"
	StageUnderInvestigation    Stage = "under_investigation"
	StageNoticeServed          Stage = "notice_served"
	StageClosed                Stage = "closed"
)

type Event string

const (
	EventValidate           Event = "validate"
	EventInvalidate         Event = "invalidate"
	EventSubmit             Event = "submit"
	EventRequestCorrection  Event = "request_correction"
	EventDetermine          Event = "determine"
	EventWithdraw           Event = "withdraw"
	EventReturn             Event = "return"
	EventStartInvestigation Event = "start_investigation"
	EventServeNotice        Event = "serve_notice"
	EventClose              Event = "close"
)

type Tenant struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Case struct {
	ID                   string   `json:"id"`
	TenantID             string   `json:"tenant_id"`
	Reference            string   `json:"reference"`
	CaseType             CaseType `json:"case_type" enum:"planning_application,pre_application,enforcement"`
	ApplicationType      string   `json:"application_type,omitempty"`
	Stage                Stage    `json:"stage"`
	Description          string   `json:"description,omitempty"`
	ApplicantName        string   `json:"applicant_name,omitempty"`
	ApplicantEmail       string   `json:"applicant_email,omitempty"`
	ApplicantPhone       string   `json:"applicant_phone,omitempty"`
	AgentEmail           string   `json:"agent_email,omitempty"`
	OwnershipCertificate string   `json:"ownership_certificate,omitempty"`
	AssignedUserID       *string  `json:"assigned_user_id,omitempty"`
	ReceivedAt           string   `json:"received_at" format:"date-time"`
	ValidatedAt          *string  `json:"validated_at,omitempty" format:"date-time"`
	InvalidatedAt        *string  `json:"invalidated_at,omitempty" format:"date-time"`
	DeterminedAt         *string  `json:"determined_at,omitempty" format:"date-time"`
	ArchivedAt           *string  `json:"archived_at,omitempty" format:"date-time"`
	LockVersion          int      `json:"lock_version"`
	CreatedAt            string   `json:"created_at" format:"date-time"`
	UpdatedAt            string   `json:"updated_at" format:"date-time"`
}

// HasContact reports whether the case has anyone a notification can reach.
func (c Case) HasContact() bool {
	return c.ApplicantEmail != "" || c.AgentEmail != "" || c.ApplicantPhone != ""
}

type RequestCategory string

const (
	CategoryDescriptionChange        RequestCategory = "description_change"
	CategoryAdditionalDocument       RequestCategory = "additional_document"
	CategoryRedLineBoundaryChange    RequestCategory = "red_line_boundary_change"
	CategoryOwnershipCertificate     RequestCategory = "ownership_certificate"
	CategoryPreCommencementCondition RequestCategory = "pre_commencement_condition"
	CategoryFeeChange                RequestCategory = "fee_change"
	CategoryTimeExtension            RequestCategory = "time_extension"
	CategoryHeadsOfTerms             RequestCategory = "heads_of_terms"
	CategoryOtherChange              RequestCategory = "other_change"
)

// Categories lists every request category in display order.
var Categories = []RequestCategory{
	CategoryDescriptionChange,
	CategoryAdditionalDocument,
	CategoryRedLineBoundaryChange,
	CategoryOwnershipCertificate,
	CategoryPreCommencementCondition,
	CategoryFeeChange,
	CategoryTimeExtension,
	CategoryHeadsOfTerms,
	CategoryOtherChange,
}

func (c RequestCategory) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

type RequestState string

const (
	RequestPending    RequestState = "pending"
	RequestOpen       RequestState = "open"
	RequestClosed     RequestState = "closed"
	RequestCancelled  RequestState = "cancelled"
	RequestAutoClosed RequestState = "auto_closed"
)

// Active reports whether the request still blocks a new one of the same category.
func (s RequestState) Active() bool {
	return s == RequestPending || s == RequestOpen
}

func (s RequestState) Terminal() bool {
	return s == RequestClosed || s == RequestCancelled || s == RequestAutoClosed
}

type ValidationRequest struct {
	ID             string          `json:"id"`
	CaseID         string          `json:"case_id"`
	Category       RequestCategory `json:"category"`
	State          RequestState    `json:"state" enum:"pending,open,closed,cancelled,auto_closed"`
	Sequence       int             `json:"sequence"`
	Reason         string          `json:"reason,omitempty"`
	Proposed       json.RawMessage `json:"proposed,omitempty"`
	TargetID       *string         `json:"target_id,omitempty"`
	PostValidation bool            `json:"post_validation"`
	Response       json.RawMessage `json:"response,omitempty"`
	CancelReason   string          `json:"cancel_reason,omitempty"`
	CreatedBy      string          `json:"created_by"`
	RespondedBy    *string         `json:"responded_by,omitempty"`
	CancelledBy    *string         `json:"cancelled_by,omitempty"`
	Deadline       *string         `json:"deadline,omitempty" format:"date"`
	SentAt         *string         `json:"sent_at,omitempty" format:"date-time"`
	RespondedAt    *string         `json:"responded_at,omitempty" format:"date-time"`
	CancelledAt    *string         `json:"cancelled_at,omitempty" format:"date-time"`
	ClosedAt       *string         `json:"closed_at,omitempty" format:"date-time"`
	SupersededBy   *string         `json:"superseded_by,omitempty"`
	CreatedAt      string          `json:"created_at" format:"date-time"`
	UpdatedAt      string          `json:"updated_at" format:"date-time"`
}

type ItemKind string

const (
	ItemCondition     ItemKind = "condition"
	ItemConsideration ItemKind = "consideration"
	ItemTerm          ItemKind = "term"
	ItemInformative   ItemKind = "informative"
)

func (k ItemKind) Valid() bool {
	switch k {
	case ItemCondition, ItemConsideration, ItemTerm, ItemInformative:
		return true
	}
	return false
}

// OrderedItem is one positioned entry of a case's conditions, considerations, terms or informatives.
type OrderedItem struct {
	ID             string   `json:"id"`
	CaseID         string   `json:"case_id"`
	Kind           ItemKind `json:"kind" enum:"condition,consideration,term,informative"`
	Title          string   `json:"title"`
	Text           string   `json:"text,omitempty"`
	Position       int      `json:"position"`
	ReviewerEdited bool     `json:"reviewer_edited"`
	CreatedBy      string   `json:"created_by"`
	UpdatedBy      string   `json:"updated_by"`
	CreatedAt      string   `json:"created_at" format:"date-time"`
	UpdatedAt      string   `json:"updated_at" format:"date-time"`
}

type RecommendationStatus string

const (
	RecommendationAssessmentInProgress RecommendationStatus = "assessment_in_progress"
	RecommendationAssessmentComplete   RecommendationStatus = "assessment_complete"
	RecommendationReviewInProgress     RecommendationStatus = "review_in_progress"
	RecommendationReviewComplete       RecommendationStatus = "review_complete"
)

type Recommendation struct {
	CaseID          string               `json:"case_id"`
	Status          RecommendationStatus `json:"status"`
	Decision        string               `json:"decision,omitempty" enum:"granted,refused"`
	Challenged      *bool                `json:"challenged,omitempty"`
	Submitted       bool                 `json:"submitted"`
	AssessorID      string               `json:"assessor_id"`
	AssessorComment string               `json:"assessor_comment,omitempty"`
	ReviewerID      *string              `json:"reviewer_id,omitempty"`
	ReviewerComment string               `json:"reviewer_comment,omitempty"`
	CreatedAt       string               `json:"created_at" format:"date-time"`
	UpdatedAt       string               `json:"updated_at" format:"date-time"`
}

type Audit struct {
	ID           int64  `json:"id"`
	CaseID       string `json:"case_id"`
	ActorID      string `json:"actor_id"`
	ActivityType string `json:"activity_type"`
	Comment      string `json:"comment,omitempty"`
	Payload      string `json:"payload_json"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type Document struct {
	ID          string   `json:"id"`
	CaseID      string   `json:"case_id"`
	Name        string   `json:"name"`
	ContentType string   `json:"content_type,omitempty"`
	StorageKey  string   `json:"storage_key"`
	Tags        []string `json:"tags,omitempty"`
	Active      bool     `json:"active"`
	CreatedBy   string   `json:"created_by"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
}

type TaskMarkStatus string

const (
	MarkInProgress TaskMarkStatus = "in_progress"
	MarkCompleted  TaskMarkStatus = "completed"
)

// TaskMark records an officer's explicit progress on a task slug.
type TaskMark struct {
	CaseID    string         `json:"case_id"`
	Slug      string         `json:"slug"`
	Status    TaskMarkStatus `json:"status"`
	ActorID   string         `json:"actor_id"`
	UpdatedAt string         `json:"updated_at" format:"date-time"`
}

type User struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenant_id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role" enum:"assessor,reviewer,administrator"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
