package server

import (
	"encoding/json"
	"fmt"

	"bops/internal/domain"
	"bops/internal/notify"
	"bops/internal/tasklist"
)

// Request payloads

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type CreateUserRequest struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role" enum:"assessor,reviewer,administrator"`
}

type CreateCaseRequest struct {
	Reference            string `json:"reference,omitempty"`
	CaseType             string `json:"case_type" enum:"planning_application,pre_application,enforcement"`
	ApplicationType      string `json:"application_type,omitempty"`
	Description          string `json:"description,omitempty"`
	ApplicantName        string `json:"applicant_name,omitempty"`
	ApplicantEmail       string `json:"applicant_email,omitempty" format:"email"`
	ApplicantPhone       string `json:"applicant_phone,omitempty"`
	AgentEmail           string `json:"agent_email,omitempty" format:"email"`
	OwnershipCertificate string `json:"ownership_certificate,omitempty"`
	AssignedUserID       string `json:"assigned_user_id,omitempty"`
}

type TransitionRequest struct {
	Event           string `json:"event" enum:"validate,invalidate,submit,request_correction,determine,withdraw,return,start_investigation,serve_notice,close"`
	ExpectedVersion int    `json:"expected_version,omitempty" doc:"lock_version the caller last saw; omitted skips the check"`
	Comment         string `json:"comment,omitempty"`
}

type MarkTaskRequest struct {
	Status string `json:"status" enum:"not_started,in_progress,completed"`
}

type AttachDocumentRequest struct {
	Name        string   `json:"name"`
	ContentType string   `json:"content_type,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Content     []byte   `json:"content,omitempty" doc:"base64 file content"`
}

type CreateRequestRequest struct {
	Category string         `json:"category" enum:"description_change,additional_document,red_line_boundary_change,ownership_certificate,pre_commencement_condition,fee_change,time_extension,heads_of_terms,other_change"`
	Reason   string         `json:"reason,omitempty"`
	Proposed map[string]any `json:"proposed,omitempty"`
	TargetID string         `json:"target_id,omitempty"`
	Send     bool           `json:"send,omitempty"`
}

type RespondRequestRequest struct {
	Response map[string]any `json:"response"`
}

type CancelRequestRequest struct {
	Reason string `json:"reason"`
}

type CreateItemRequest struct {
	Kind     string `json:"kind" enum:"condition,consideration,term,informative"`
	Title    string `json:"title"`
	Text     string `json:"text,omitempty"`
	Position int    `json:"position,omitempty" minimum:"0"`
}

type EditItemRequest struct {
	Title string `json:"title"`
	Text  string `json:"text,omitempty"`
}

type MoveItemRequest struct {
	Position int `json:"position" minimum:"1"`
}

type RecommendationRequest struct {
	Decision string `json:"decision,omitempty" enum:"granted,refused"`
	Comment  string `json:"comment,omitempty"`
	Draft    bool   `json:"draft,omitempty"`
}

type ChallengeRequest struct {
	Challenged bool   `json:"challenged"`
	Comment    string `json:"comment,omitempty"`
}

type VersionRequest struct {
	ExpectedVersion int `json:"expected_version,omitempty"`
}

// Outputs

type UserOutput struct {
	Body domain.User `json:"body"`
}

type CaseOutput struct {
	Body domain.Case `json:"body"`
}

type TasksOutput struct {
	Body []tasklist.Task `json:"body"`
}

type RequestOutput struct {
	Body domain.ValidationRequest `json:"body"`
}

type ItemOutput struct {
	Body domain.OrderedItem `json:"body"`
}

type ItemsOutput struct {
	Body []domain.OrderedItem `json:"body"`
}

type RecommendationOutput struct {
	Body domain.Recommendation `json:"body"`
}

type NotificationResponse struct {
	ID         string            `json:"id"`
	Template   string            `json:"template"`
	Channel    string            `json:"channel"`
	Recipient  string            `json:"recipient"`
	Status     string            `json:"status" enum:"queued,delivered,failed"`
	Attempts   int               `json:"attempts"`
	LastError  string            `json:"last_error,omitempty"`
	ActorID    string            `json:"actor_id"`
	Values     map[string]string `json:"personalisation,omitempty"`
	DeliveryID string            `json:"delivery_id,omitempty"`
	CreatedAt  string            `json:"created_at" format:"date-time"`
}

func notificationResponse(j notify.Job) NotificationResponse {
	return NotificationResponse{
		ID:         j.ID,
		Template:   j.Message.Template,
		Channel:    string(j.Message.Channel),
		Recipient:  j.Message.Recipient,
		Status:     string(j.Status),
		Attempts:   j.Attempts,
		LastError:  j.LastError,
		ActorID:    j.ActorID,
		Values:     j.Message.Personalisation,
		DeliveryID: j.DeliveryID,
		CreatedAt:  j.CreatedAt,
	}
}

// rawJSON re-encodes a free-form body field for the engine's strict decoders.
func rawJSON(field string, v map[string]any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", field, err)
	}
	return b, nil
}
