package engine

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"bops/internal/audit"
	"bops/internal/domain"
	"bops/internal/engine/auth"
	"bops/internal/position"
	"bops/internal/tasklist"
)

var kindFeature = map[domain.ItemKind]string{
	domain.ItemCondition:     "conditions",
	domain.ItemConsideration: "considerations",
	domain.ItemTerm:          "heads_of_terms",
	domain.ItemInformative:   "informatives",
}

var kindTask = map[domain.ItemKind]string{
	domain.ItemCondition:     tasklist.SlugAddConditions,
	domain.ItemConsideration: tasklist.SlugAssessConsiderations,
	domain.ItemTerm:          tasklist.SlugAddHeadsOfTerms,
	domain.ItemInformative:   tasklist.SlugAddInformatives,
}

// Items may change while the officer assesses and while the reviewer checks
// the recommendation.
func itemsEditable(stage domain.Stage) bool {
	switch stage {
	case domain.StageInAssessment, domain.StageToBeReviewed, domain.StageAwaitingDetermination:
		return true
	}
	return false
}

type ItemOptions struct {
	CaseID string
	Kind   domain.ItemKind
	Title  string
	Text   string
	// Position is 1-based; zero or past the end appends.
	Position int
	ActorID  string
}

func (e Engine) AddItem(ctx context.Context, opts ItemOptions) (domain.OrderedItem, error) {
	if !opts.Kind.Valid() {
		return domain.OrderedItem{}, invalidPayload("unknown item kind %q", opts.Kind)
	}
	if err := nonEmpty("title", opts.Title); err != nil {
		return domain.OrderedItem{}, err
	}
	return inTx(ctx, e.DB, func(tx *sql.Tx) (domain.OrderedItem, error) {
		c, _, err := e.lockItems(ctx, tx, opts.CaseID, opts.ActorID, "add_item")
		if err != nil {
			return domain.OrderedItem{}, err
		}
		cfg, err := e.configFor(ctx, c.TenantID)
		if err != nil {
			return domain.OrderedItem{}, err
		}
		if !cfg.HasFeature(c.ApplicationType, kindFeature[opts.Kind]) {
			return domain.OrderedItem{}, invalidPayload("%s items are not used for %s applications", opts.Kind, c.ApplicationType)
		}
		before, err := e.collectionTx(ctx, tx, c.ID, opts.Kind)
		if err != nil {
			return domain.OrderedItem{}, err
		}
		now := e.stamp()
		it := domain.OrderedItem{
			ID:        uuid.NewString(),
			CaseID:    c.ID,
			Kind:      opts.Kind,
			Title:     opts.Title,
			Text:      opts.Text,
			CreatedBy: opts.ActorID,
			UpdatedBy: opts.ActorID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		after, err := position.Insert(before, it.ID, opts.Position)
		if err != nil {
			return domain.OrderedItem{}, err
		}
		changes := position.Diff(before, after)
		it.Position = changes[it.ID]
		delete(changes, it.ID)
		err = e.withAudit(ctx, tx, func() (audit.Entry, error) {
			if err := e.Repo.SetPositionsTx(ctx, tx, c.ID, it.Kind, changes, now); err != nil {
				return audit.Entry{}, fmt.Errorf("shift items: %w", err)
			}
			if err := e.Repo.InsertItemTx(ctx, tx, it); err != nil {
				return audit.Entry{}, fmt.Errorf("insert item: %w", err)
			}
			_, err := e.saveCase(ctx, tx, c)
			return itemEntry(it, opts.ActorID, "added"), err
		})
		return it, err
	})
}

// MoveItem places an item at a new position within its list. Out-of-range
// targets are clamped.
func (e Engine) MoveItem(ctx context.Context, itemID string, to int, actorID string) ([]domain.OrderedItem, error) {
	return inTx(ctx, e.DB, func(tx *sql.Tx) ([]domain.OrderedItem, error) {
		it, err := e.Repo.GetItemTx(ctx, tx, itemID)
		if err != nil {
			return nil, err
		}
		c, _, err := e.lockItems(ctx, tx, it.CaseID, actorID, "move_item")
		if err != nil {
			return nil, err
		}
		before, err := e.collectionTx(ctx, tx, c.ID, it.Kind)
		if err != nil {
			return nil, err
		}
		after, err := position.Move(before, it.ID, to)
		if err != nil {
			return nil, err
		}
		changes := position.Diff(before, after)
		if len(changes) == 0 {
			return e.Repo.ListItemsTx(ctx, tx, c.ID, it.Kind)
		}
		err = e.withAudit(ctx, tx, func() (audit.Entry, error) {
			if err := e.Repo.SetPositionsTx(ctx, tx, c.ID, it.Kind, changes, e.stamp()); err != nil {
				return audit.Entry{}, err
			}
			_, err := e.saveCase(ctx, tx, c)
			entry := itemEntry(it, actorID, "moved")
			entry.Payload["from"] = it.Position
			entry.Payload["to"] = changes[it.ID]
			return entry, err
		})
		if err != nil {
			return nil, err
		}
		return e.Repo.ListItemsTx(ctx, tx, c.ID, it.Kind)
	})
}

func (e Engine) RemoveItem(ctx context.Context, itemID, actorID string) ([]domain.OrderedItem, error) {
	return inTx(ctx, e.DB, func(tx *sql.Tx) ([]domain.OrderedItem, error) {
		it, err := e.Repo.GetItemTx(ctx, tx, itemID)
		if err != nil {
			return nil, err
		}
		c, _, err := e.lockItems(ctx, tx, it.CaseID, actorID, "remove_item")
		if err != nil {
			return nil, err
		}
		active, err := e.Repo.CountActiveRequestsForTargetTx(ctx, tx, it.ID)
		if err != nil {
			return nil, err
		}
		if active > 0 {
			return nil, PreconditionNotMetError{Slug: kindTask[it.Kind], Reason: fmt.Sprintf("%s %s has an active request", it.Kind, it.ID)}
		}
		before, err := e.collectionTx(ctx, tx, c.ID, it.Kind)
		if err != nil {
			return nil, err
		}
		after, err := position.Remove(before, it.ID)
		if err != nil {
			return nil, err
		}
		err = e.withAudit(ctx, tx, func() (audit.Entry, error) {
			if err := e.Repo.DeleteItemTx(ctx, tx, it.ID); err != nil {
				return audit.Entry{}, err
			}
			if err := e.Repo.SetPositionsTx(ctx, tx, c.ID, it.Kind, position.Diff(before, after), e.stamp()); err != nil {
				return audit.Entry{}, err
			}
			_, err := e.saveCase(ctx, tx, c)
			return itemEntry(it, actorID, "removed"), err
		})
		if err != nil {
			return nil, err
		}
		return e.Repo.ListItemsTx(ctx, tx, c.ID, it.Kind)
	})
}

type EditItemOptions struct {
	ItemID  string
	Title   string
	Text    string
	ActorID string
}

// EditItem changes an item's wording. A reviewer editing someone else's
// item flags it as reviewer edited.
func (e Engine) EditItem(ctx context.Context, opts EditItemOptions) (domain.OrderedItem, error) {
	return inTx(ctx, e.DB, func(tx *sql.Tx) (domain.OrderedItem, error) {
		it, err := e.Repo.GetItemTx(ctx, tx, opts.ItemID)
		if err != nil {
			return domain.OrderedItem{}, err
		}
		c, actor, err := e.lockItems(ctx, tx, it.CaseID, opts.ActorID, "edit_item")
		if err != nil {
			return domain.OrderedItem{}, err
		}
		if opts.Title != "" {
			it.Title = opts.Title
		}
		it.Text = opts.Text
		if auth.HasRole(actor, auth.RoleReviewer) && it.CreatedBy != actor.ID {
			it.ReviewerEdited = true
		}
		it.UpdatedBy = opts.ActorID
		it.UpdatedAt = e.stamp()
		err = e.withAudit(ctx, tx, func() (audit.Entry, error) {
			if err := e.Repo.UpdateItemTx(ctx, tx, it); err != nil {
				return audit.Entry{}, err
			}
			_, err := e.saveCase(ctx, tx, c)
			entry := itemEntry(it, opts.ActorID, "edited")
			entry.Payload["reviewer_edited"] = it.ReviewerEdited
			return entry, err
		})
		return it, err
	})
}

// MarkReviewerEdited flags an item as changed by the reviewer without
// touching its wording.
func (e Engine) MarkReviewerEdited(ctx context.Context, itemID, actorID string) (domain.OrderedItem, error) {
	return inTx(ctx, e.DB, func(tx *sql.Tx) (domain.OrderedItem, error) {
		it, err := e.Repo.GetItemTx(ctx, tx, itemID)
		if err != nil {
			return domain.OrderedItem{}, err
		}
		c, err := e.lockCase(ctx, tx, it.CaseID, 0)
		if err != nil {
			return domain.OrderedItem{}, err
		}
		if _, err := e.require(ctx, tx, c, actorID, auth.RoleReviewer); err != nil {
			return domain.OrderedItem{}, err
		}
		if it.ReviewerEdited {
			return it, nil
		}
		it.ReviewerEdited = true
		it.UpdatedBy = actorID
		it.UpdatedAt = e.stamp()
		err = e.withAudit(ctx, tx, func() (audit.Entry, error) {
			if err := e.Repo.UpdateItemTx(ctx, tx, it); err != nil {
				return audit.Entry{}, err
			}
			_, err := e.saveCase(ctx, tx, c)
			return itemEntry(it, actorID, "reviewer_edited"), err
		})
		return it, err
	})
}

// ListItems returns one list of a case in position order.
func (e Engine) ListItems(ctx context.Context, caseID string, kind domain.ItemKind) ([]domain.OrderedItem, error) {
	return e.Repo.ListItems(ctx, caseID, kind)
}

func (e Engine) lockItems(ctx context.Context, tx *sql.Tx, caseID, actorID, op string) (domain.Case, auth.Actor, error) {
	c, err := e.lockCase(ctx, tx, caseID, 0)
	if err != nil {
		return domain.Case{}, auth.Actor{}, err
	}
	actor, err := e.require(ctx, tx, c, actorID, auth.RoleAssessor)
	if err != nil {
		return domain.Case{}, auth.Actor{}, err
	}
	if !itemsEditable(c.Stage) {
		return domain.Case{}, auth.Actor{}, InvalidTransitionError{From: string(c.Stage), Event: op}
	}
	return c, actor, nil
}

func (e Engine) collectionTx(ctx context.Context, tx *sql.Tx, caseID string, kind domain.ItemKind) (position.Collection, error) {
	items, err := e.Repo.ListItemsTx(ctx, tx, caseID, kind)
	if err != nil {
		return nil, err
	}
	out := make(position.Collection, 0, len(items))
	for _, it := range items {
		out = append(out, position.Entry{ID: it.ID, Position: it.Position})
	}
	return out, nil
}

func itemEntry(it domain.OrderedItem, actorID, verb string) audit.Entry {
	return audit.Entry{
		CaseID:       it.CaseID,
		ActorID:      actorID,
		ActivityType: string(it.Kind) + "_" + verb,
		Payload:      audit.Payload{"item_id": it.ID, "position": it.Position},
	}
}
