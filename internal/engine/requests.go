package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bops/internal/audit"
	"bops/internal/config"
	"bops/internal/domain"
	"bops/internal/engine/auth"
	"bops/internal/metrics"
	"bops/internal/notify"
	"bops/internal/repo"
	"bops/internal/tasklist"
	"bops/internal/workflow"
)

type RequestCreateOptions struct {
	CaseID   string
	Category domain.RequestCategory
	Reason   string
	Proposed json.RawMessage
	TargetID string
	ActorID  string
	// SendNow sends the request to the applicant in the same transaction.
	SendNow bool
}

// CreateRequest drafts a validation or change request. The draft stays
// pending until sent, and counts as the category's one active request.
func (e Engine) CreateRequest(ctx context.Context, opts RequestCreateOptions) (domain.ValidationRequest, error) {
	if !opts.Category.Valid() {
		return domain.ValidationRequest{}, invalidPayload("unknown request category %q", opts.Category)
	}
	v, err := inTx(ctx, e.DB, func(tx *sql.Tx) (domain.ValidationRequest, error) {
		c, err := e.lockCase(ctx, tx, opts.CaseID, 0)
		if err != nil {
			return domain.ValidationRequest{}, err
		}
		if _, err := e.require(ctx, tx, c, opts.ActorID, auth.RoleAssessor); err != nil {
			return domain.ValidationRequest{}, err
		}
		if workflow.Terminal(c.Stage) {
			return domain.ValidationRequest{}, InvalidTransitionError{From: string(c.Stage), Event: "create_request"}
		}
		if c.CaseType == domain.CaseTypeEnforcement {
			return domain.ValidationRequest{}, invalidPayload("enforcement cases do not take validation requests")
		}
		now := e.stamp()
		v := domain.ValidationRequest{
			ID:             uuid.NewString(),
			CaseID:         c.ID,
			Category:       opts.Category,
			State:          domain.RequestPending,
			Reason:         opts.Reason,
			Proposed:       opts.Proposed,
			PostValidation: workflow.PastValidation(c.Stage),
			CreatedBy:      opts.ActorID,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if opts.TargetID != "" {
			v.TargetID = strPtr(opts.TargetID)
		}
		if err := ValidateProposal(v); err != nil {
			return domain.ValidationRequest{}, err
		}
		if err := e.checkTarget(ctx, tx, c, v); err != nil {
			return domain.ValidationRequest{}, err
		}
		if _, err := e.Repo.ActiveRequestTx(ctx, tx, c.ID, v.Category); err == nil {
			return domain.ValidationRequest{}, DuplicateOpenRequestError{CaseID: c.ID, Category: v.Category}
		} else if !errors.Is(err, repo.ErrNotFound) {
			return domain.ValidationRequest{}, err
		}
		previous, err := e.Repo.LatestRequestTx(ctx, tx, c.ID, v.Category)
		hasPrevious := err == nil
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return domain.ValidationRequest{}, err
		}
		if v.Sequence, err = e.Repo.NextRequestSequenceTx(ctx, tx, c.ID, v.Category); err != nil {
			return domain.ValidationRequest{}, err
		}
		err = e.withAudit(ctx, tx, func() (audit.Entry, error) {
			if err := e.Repo.InsertRequestTx(ctx, tx, v); err != nil {
				if repo.IsUniqueViolation(err) {
					return audit.Entry{}, DuplicateOpenRequestError{CaseID: c.ID, Category: v.Category}
				}
				return audit.Entry{}, fmt.Errorf("insert request: %w", err)
			}
			if hasPrevious {
				previous.SupersededBy = strPtr(v.ID)
				previous.UpdatedAt = now
				if err := e.Repo.UpdateRequestTx(ctx, tx, previous); err != nil {
					return audit.Entry{}, err
				}
			}
			var err error
			c, err = e.saveCase(ctx, tx, c)
			return requestEntry(v, opts.ActorID, "created", audit.Payload{"sequence": v.Sequence}), err
		})
		if err != nil {
			return domain.ValidationRequest{}, err
		}
		if opts.SendNow {
			cfg, err := e.configFor(ctx, c.TenantID)
			if err != nil {
				return domain.ValidationRequest{}, err
			}
			if v, err = e.sendTx(ctx, tx, c, cfg, v, opts.ActorID); err != nil {
				return domain.ValidationRequest{}, err
			}
		}
		return v, nil
	})
	if err == nil {
		metrics.RequestEvents.WithLabelValues(string(v.Category), "create").Inc()
	}
	return v, err
}

// checkTarget makes sure requests about a condition or term point at one of
// the case's items of that kind.
func (e Engine) checkTarget(ctx context.Context, tx *sql.Tx, c domain.Case, v domain.ValidationRequest) error {
	rule := categoryRules[v.Category]
	if rule.target == "" {
		if v.TargetID != nil {
			return invalidPayload("%s requests do not take a target", v.Category)
		}
		return nil
	}
	if v.TargetID == nil {
		return invalidPayload("%s requests need a target %s", v.Category, rule.target)
	}
	it, err := e.Repo.GetItemTx(ctx, tx, *v.TargetID)
	if errors.Is(err, repo.ErrNotFound) {
		return invalidPayload("target %s not found", *v.TargetID)
	}
	if err != nil {
		return err
	}
	if it.CaseID != c.ID || it.Kind != rule.target {
		return invalidPayload("target %s is not a %s of this case", *v.TargetID, rule.target)
	}
	return nil
}

// SendRequest sends a pending request to the applicant and starts its
// response window.
func (e Engine) SendRequest(ctx context.Context, requestID, actorID string) (domain.ValidationRequest, error) {
	v, err := inTx(ctx, e.DB, func(tx *sql.Tx) (domain.ValidationRequest, error) {
		v, c, err := e.lockRequest(ctx, tx, requestID)
		if err != nil {
			return domain.ValidationRequest{}, err
		}
		if _, err := e.require(ctx, tx, c, actorID, auth.RoleAssessor); err != nil {
			return domain.ValidationRequest{}, err
		}
		cfg, err := e.configFor(ctx, c.TenantID)
		if err != nil {
			return domain.ValidationRequest{}, err
		}
		if v, err = e.sendTx(ctx, tx, c, cfg, v, actorID); err != nil {
			return domain.ValidationRequest{}, err
		}
		_, err = e.saveCase(ctx, tx, c)
		return v, err
	})
	if err == nil {
		metrics.RequestEvents.WithLabelValues(string(v.Category), string(workflow.RequestSend)).Inc()
	}
	return v, err
}

func (e Engine) sendTx(ctx context.Context, tx *sql.Tx, c domain.Case, cfg *config.Config, v domain.ValidationRequest, actorID string) (domain.ValidationRequest, error) {
	to, err := nextRequestState(v, workflow.RequestSend)
	if err != nil {
		return v, err
	}
	if !c.HasContact() {
		return v, MissingContactError{CaseID: c.ID}
	}
	cal, err := e.calendarFor(cfg)
	if err != nil {
		return v, err
	}
	now := e.now()
	days := cfg.DeadlineDays(string(v.Category))
	v.State = to
	v.SentAt = strPtr(now.UTC().Format(time.RFC3339))
	v.Deadline = strPtr(cal.BusinessDaysAfter(now, days).Format(time.DateOnly))
	v.UpdatedAt = *v.SentAt
	err = e.withAudit(ctx, tx, func() (audit.Entry, error) {
		if err := e.Repo.UpdateRequestTx(ctx, tx, v); err != nil {
			return audit.Entry{}, err
		}
		return requestEntry(v, actorID, "sent", audit.Payload{"deadline": *v.Deadline}), nil
	})
	if err != nil {
		return v, err
	}
	_, err = e.Outbox.Enqueue(ctx, tx, c, actorID, notify.TemplateRequestSent, map[string]string{
		"category":      string(v.Category),
		"reason":        v.Reason,
		"deadline":      *v.Deadline,
		"deadline_days": strconv.Itoa(days),
		"request_id":    v.ID,
	})
	if err != nil {
		return v, SideEffectError{Effect: "notify", Err: err}
	}
	return v, nil
}

// sendPendingTx sends every pending request of a case, used when the case
// is invalidated.
func (e Engine) sendPendingTx(ctx context.Context, tx *sql.Tx, c domain.Case, cfg *config.Config, actorID string) ([]domain.ValidationRequest, error) {
	pending, err := e.Repo.ListRequestsTx(ctx, tx, repo.RequestFilters{CaseID: c.ID, State: string(domain.RequestPending)})
	if err != nil {
		return nil, err
	}
	out := make([]domain.ValidationRequest, 0, len(pending))
	for _, v := range pending {
		sent, err := e.sendTx(ctx, tx, c, cfg, v, actorID)
		if err != nil {
			return nil, err
		}
		out = append(out, sent)
	}
	return out, nil
}

type RequestRespondOptions struct {
	RequestID string
	Response  json.RawMessage
	ActorID   string
}

// RespondRequest records the applicant's answer to an open request. The
// officer enters the answer on the applicant's behalf, so RespondedBy holds
// the officer's id. The case stage does not change.
func (e Engine) RespondRequest(ctx context.Context, opts RequestRespondOptions) (domain.ValidationRequest, error) {
	v, err := inTx(ctx, e.DB, func(tx *sql.Tx) (domain.ValidationRequest, error) {
		v, c, err := e.lockRequest(ctx, tx, opts.RequestID)
		if err != nil {
			return domain.ValidationRequest{}, err
		}
		if _, err := e.require(ctx, tx, c, opts.ActorID, auth.RoleAssessor); err != nil {
			return domain.ValidationRequest{}, err
		}
		if _, err := nextRequestState(v, workflow.RequestRespond); err != nil {
			return domain.ValidationRequest{}, err
		}
		r, err := ParseResponse(v.Category, opts.Response)
		if err != nil {
			return domain.ValidationRequest{}, err
		}
		return e.closeTx(ctx, tx, c, v, r, workflow.RequestRespond, opts.ActorID)
	})
	if err == nil {
		metrics.RequestEvents.WithLabelValues(string(v.Category), string(workflow.RequestRespond)).Inc()
	}
	return v, err
}

// closeTx finishes an open request with r, applies the case changes it
// implies and clears the owning task's draft mark so the task re-derives
// from the closed request.
func (e Engine) closeTx(ctx context.Context, tx *sql.Tx, c domain.Case, v domain.ValidationRequest, r Response, ev workflow.RequestEvent, actorID string) (domain.ValidationRequest, error) {
	to, err := nextRequestState(v, ev)
	if err != nil {
		return v, err
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return v, err
	}
	now := e.stamp()
	v.State = to
	v.Response = raw
	v.RespondedAt = strPtr(now)
	v.ClosedAt = strPtr(now)
	v.UpdatedAt = now
	if ev == workflow.RequestRespond {
		v.RespondedBy = strPtr(actorID)
	}
	verb := "received"
	if ev == workflow.RequestAutoClose {
		verb = "auto_closed"
	}
	err = e.withAudit(ctx, tx, func() (audit.Entry, error) {
		if err := e.Repo.UpdateRequestTx(ctx, tx, v); err != nil {
			return audit.Entry{}, err
		}
		applyResponse(&c, v, r)
		if _, err := e.saveCase(ctx, tx, c); err != nil {
			return audit.Entry{}, err
		}
		if slug := tasklist.OwningTask(v.Category); slug != "" {
			if err := e.Repo.DeleteMarkTx(ctx, tx, c.ID, slug); err != nil {
				return audit.Entry{}, err
			}
		}
		payload := audit.Payload{}
		if r.Approved != nil {
			payload["approved"] = *r.Approved
		}
		return requestEntry(v, actorID, verb, payload), nil
	})
	return v, err
}

type RequestCancelOptions struct {
	RequestID string
	Reason    string
	ActorID   string
}

// CancelRequest withdraws a pending or open request and resets the task it
// belongs to.
func (e Engine) CancelRequest(ctx context.Context, opts RequestCancelOptions) (domain.ValidationRequest, error) {
	if err := nonEmpty("cancel reason", opts.Reason); err != nil {
		return domain.ValidationRequest{}, err
	}
	v, err := inTx(ctx, e.DB, func(tx *sql.Tx) (domain.ValidationRequest, error) {
		v, c, err := e.lockRequest(ctx, tx, opts.RequestID)
		if err != nil {
			return domain.ValidationRequest{}, err
		}
		if _, err := e.require(ctx, tx, c, opts.ActorID, auth.RoleAssessor); err != nil {
			return domain.ValidationRequest{}, err
		}
		to, err := nextRequestState(v, workflow.RequestCancel)
		if err != nil {
			return domain.ValidationRequest{}, err
		}
		wasSent := v.SentAt != nil
		now := e.stamp()
		v.State = to
		v.CancelReason = opts.Reason
		v.CancelledBy = strPtr(opts.ActorID)
		v.CancelledAt = strPtr(now)
		v.UpdatedAt = now
		err = e.withAudit(ctx, tx, func() (audit.Entry, error) {
			if err := e.Repo.UpdateRequestTx(ctx, tx, v); err != nil {
				return audit.Entry{}, err
			}
			if slug := tasklist.OwningTask(v.Category); slug != "" {
				if err := e.Repo.DeleteMarkTx(ctx, tx, c.ID, slug); err != nil {
					return audit.Entry{}, err
				}
			}
			if _, err := e.saveCase(ctx, tx, c); err != nil {
				return audit.Entry{}, err
			}
			entry := requestEntry(v, opts.ActorID, "cancelled", nil)
			entry.Comment = opts.Reason
			return entry, nil
		})
		if err != nil {
			return domain.ValidationRequest{}, err
		}
		if wasSent && c.Stage != domain.StageNotStarted {
			err = e.notifyApplicant(ctx, tx, c, opts.ActorID, notify.TemplateRequestCancelled, map[string]string{
				"category":      string(v.Category),
				"cancel_reason": opts.Reason,
				"request_id":    v.ID,
			})
		}
		return v, err
	})
	if err == nil {
		metrics.RequestEvents.WithLabelValues(string(v.Category), string(workflow.RequestCancel)).Inc()
	}
	return v, err
}

// AutoCloseExpired closes every open request whose deadline date has passed
// and whose category is configured to close itself. Each request closes in
// its own transaction; a failure on one does not stop the others.
func (e Engine) AutoCloseExpired(ctx context.Context, now time.Time, actorID string) (int, error) {
	if actorID == "" {
		actorID = SystemActor
	}
	due, err := e.Repo.ListOpenRequestsDue(ctx, now.UTC().Format(time.DateOnly))
	if err != nil {
		return 0, err
	}
	closed := 0
	var errs []error
	for _, candidate := range due {
		ok, err := e.autoCloseOne(ctx, candidate.ID, actorID)
		if err != nil {
			errs = append(errs, fmt.Errorf("request %s: %w", candidate.ID, err))
			continue
		}
		if ok {
			closed++
			metrics.AutoClosed.Inc()
			metrics.RequestEvents.WithLabelValues(string(candidate.Category), string(workflow.RequestAutoClose)).Inc()
		}
	}
	if len(errs) > 0 {
		e.logger().Warn("auto-close sweep had failures", zap.Int("failed", len(errs)), zap.Int("closed", closed))
	}
	return closed, errors.Join(errs...)
}

func (e Engine) autoCloseOne(ctx context.Context, requestID, actorID string) (bool, error) {
	return inTx(ctx, e.DB, func(tx *sql.Tx) (bool, error) {
		v, c, err := e.lockRequest(ctx, tx, requestID)
		if errors.Is(err, ErrCaseArchived) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if v.State != domain.RequestOpen {
			return false, nil
		}
		cfg, err := e.configFor(ctx, c.TenantID)
		if err != nil {
			return false, err
		}
		if !cfg.AutoCloses(string(v.Category)) {
			return false, nil
		}
		if _, err := e.closeTx(ctx, tx, c, v, deemedResponse(), workflow.RequestAutoClose, actorID); err != nil {
			return false, err
		}
		return true, nil
	})
}

func (e Engine) GetRequest(ctx context.Context, id string) (domain.ValidationRequest, error) {
	return e.Repo.GetRequest(ctx, id)
}

func (e Engine) ListRequests(ctx context.Context, f repo.RequestFilters) ([]domain.ValidationRequest, error) {
	return e.Repo.ListRequests(ctx, f)
}

// lockRequest loads a request and locks its case.
func (e Engine) lockRequest(ctx context.Context, tx *sql.Tx, requestID string) (domain.ValidationRequest, domain.Case, error) {
	v, err := e.Repo.GetRequestTx(ctx, tx, requestID)
	if err != nil {
		return v, domain.Case{}, err
	}
	c, err := e.lockCase(ctx, tx, v.CaseID, 0)
	return v, c, err
}

// nextRequestState maps a refused request event to the error callers see:
// finished requests report AlreadyClosed, anything else InvalidTransition.
func nextRequestState(v domain.ValidationRequest, ev workflow.RequestEvent) (domain.RequestState, error) {
	to, ok := workflow.NextRequestState(v.State, ev)
	if ok {
		return to, nil
	}
	if v.State.Terminal() {
		return "", AlreadyClosedError{RequestID: v.ID, State: v.State}
	}
	return "", InvalidTransitionError{From: string(v.State), Event: string(ev)}
}

func requestEntry(v domain.ValidationRequest, actorID, verb string, payload audit.Payload) audit.Entry {
	if payload == nil {
		payload = audit.Payload{}
	}
	payload["request_id"] = v.ID
	payload["state"] = v.State
	return audit.Entry{
		CaseID:       v.CaseID,
		ActorID:      actorID,
		ActivityType: audit.RequestActivity(string(v.Category), verb),
		Payload:      payload,
	}
}
