// Package tasklist derives a case's task list from its current records.
// Nothing here is persisted: every call to Build recomputes statuses from a
// Snapshot, so the same snapshot always yields the same list.
package tasklist

import (
	"errors"
	"fmt"
	"sort"

	"bops/internal/domain"
)

type Status string

const (
	NotStarted     Status = "not_started"
	InProgress     Status = "in_progress"
	Completed      Status = "completed"
	CannotStartYet Status = "cannot_start_yet"
)

type Section string

const (
	SectionValidation    Section = "validation"
	SectionAssessment    Section = "assessment"
	SectionReview        Section = "review"
	SectionInvestigation Section = "investigation"
)

// ErrRecordNotFound is returned by resolvers whose backing record does not
// exist yet. Build reports such tasks as not started.
var ErrRecordNotFound = errors.New("backing record not found")

// Task is one derived entry of a case's task list.
type Task struct {
	Slug      string  `json:"slug"`
	Title     string  `json:"title"`
	Section   Section `json:"section"`
	Status    Status  `json:"status" enum:"not_started,in_progress,completed,cannot_start_yet"`
	Link      string  `json:"link,omitempty"`
	Enabled   bool    `json:"enabled"`
	Mandatory bool    `json:"mandatory"`
}

// TaskDef is the static description of a task.
type TaskDef struct {
	Slug          string
	Title         string
	Section       Section
	Mandatory     bool
	Prerequisites []string
	// Feature names the application-type flag that switches the task on.
	// Empty means always on.
	Feature string
}

// Definition is the ordered task graph for one case type.
type Definition struct {
	CaseType domain.CaseType
	Tasks    []TaskDef
}

// Snapshot is everything a resolver may look at.
type Snapshot struct {
	Case           domain.Case
	Requests       []domain.ValidationRequest
	Documents      []domain.Document
	Items          map[domain.ItemKind][]domain.OrderedItem
	Recommendation *domain.Recommendation
	Marks          map[string]domain.TaskMark
	Features       map[string]bool
}

// LatestRequest returns the most recent request of a category.
func (s Snapshot) LatestRequest(category domain.RequestCategory) (domain.ValidationRequest, bool) {
	var (
		latest domain.ValidationRequest
		found  bool
	)
	for _, r := range s.Requests {
		if r.Category != category {
			continue
		}
		if !found || r.Sequence > latest.Sequence {
			latest, found = r, true
		}
	}
	return latest, found
}

// Mark returns the officer's mark on slug, if any.
func (s Snapshot) Mark(slug string) (domain.TaskMark, bool) {
	m, ok := s.Marks[slug]
	return m, ok
}

func (s Snapshot) ActiveDocuments() int {
	n := 0
	for _, d := range s.Documents {
		if d.Active {
			n++
		}
	}
	return n
}

// Validate checks that every prerequisite is declared earlier in the list
// and that every slug has a resolver. Declaring prerequisites before their
// dependents rules out cycles.
func (d Definition) Validate(reg *Registry) error {
	seen := map[string]bool{}
	for _, t := range d.Tasks {
		if t.Slug == "" {
			return fmt.Errorf("%s: task with empty slug", d.CaseType)
		}
		if seen[t.Slug] {
			return fmt.Errorf("%s: duplicate task %s", d.CaseType, t.Slug)
		}
		for _, p := range t.Prerequisites {
			if !seen[p] {
				return fmt.Errorf("%s: task %s depends on %s which is not declared before it", d.CaseType, t.Slug, p)
			}
		}
		if reg != nil {
			if _, ok := reg.Resolve(t.Slug); !ok {
				return fmt.Errorf("%s: no resolver registered for %s", d.CaseType, t.Slug)
			}
		}
		seen[t.Slug] = true
	}
	return nil
}

// Build derives the task list for snap. Tasks whose feature is off for the
// case's application type are left out.
func Build(def Definition, reg *Registry, snap Snapshot) ([]Task, error) {
	enabled := make(map[string]TaskDef, len(def.Tasks))
	var order []TaskDef
	for _, t := range def.Tasks {
		if t.Feature != "" && !snap.Features[t.Feature] {
			continue
		}
		enabled[t.Slug] = t
		order = append(order, t)
	}

	raw := make(map[string]Status, len(order))
	for _, t := range order {
		resolve, ok := reg.Resolve(t.Slug)
		if !ok {
			return nil, fmt.Errorf("no resolver registered for %s", t.Slug)
		}
		st, err := resolve(snap)
		switch {
		case errors.Is(err, ErrRecordNotFound):
			st = NotStarted
		case err != nil:
			return nil, fmt.Errorf("resolve %s: %w", t.Slug, err)
		}
		raw[t.Slug] = st
	}

	tasks := make([]Task, 0, len(order))
	for _, t := range order {
		st := raw[t.Slug]
		if blocked(t.Slug, enabled, raw) {
			st = CannotStartYet
		}
		task := Task{
			Slug:      t.Slug,
			Title:     t.Title,
			Section:   t.Section,
			Status:    st,
			Mandatory: t.Mandatory,
		}
		if st != CannotStartYet {
			task.Link = fmt.Sprintf("/cases/%s/tasks/%s", snap.Case.Reference, t.Slug)
			task.Enabled = snap.Case.ArchivedAt == nil && editable(t.Section, snap.Case.Stage)
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// blocked walks the declared prerequisite graph from slug. Disabled
// prerequisites are skipped.
func blocked(slug string, enabled map[string]TaskDef, raw map[string]Status) bool {
	visited := map[string]bool{}
	stack := append([]string(nil), enabled[slug].Prerequisites...)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		def, ok := enabled[cur]
		if !ok {
			continue
		}
		if raw[cur] != Completed {
			return true
		}
		stack = append(stack, def.Prerequisites...)
	}
	return false
}

var editableStages = map[Section][]domain.Stage{
	SectionValidation:    {domain.StageNotStarted, domain.StageInvalidated},
	SectionAssessment:    {domain.StageInAssessment, domain.StageToBeReviewed},
	SectionReview:        {domain.StageAwaitingDetermination},
	SectionInvestigation: {domain.StageNotStarted, domain.StageUnderInvestigation, domain.StageNoticeServed},
}

func editable(section Section, stage domain.Stage) bool {
	for _, s := range editableStages[section] {
		if s == stage {
			return true
		}
	}
	return false
}

// FirstIncomplete returns the first listed slug whose task is present and
// not completed. Slugs missing from tasks (feature off) count as satisfied.
func FirstIncomplete(tasks []Task, slugs ...string) (Task, bool) {
	bySlug := make(map[string]Task, len(tasks))
	for _, t := range tasks {
		bySlug[t.Slug] = t
	}
	for _, slug := range slugs {
		t, ok := bySlug[slug]
		if ok && t.Status != Completed {
			return t, true
		}
	}
	return Task{}, false
}

// MandatoryIn lists the mandatory slugs of a section, in declaration order.
func MandatoryIn(tasks []Task, section Section) []string {
	var out []string
	for _, t := range tasks {
		if t.Section == section && t.Mandatory {
			out = append(out, t.Slug)
		}
	}
	return out
}

// Progress returns the first mandatory task of section that is not yet
// completed.
func Progress(tasks []Task, section Section) (Task, bool) {
	return FirstIncomplete(tasks, MandatoryIn(tasks, section)...)
}

// Counts tallies tasks by status.
func Counts(tasks []Task) map[Status]int {
	out := map[Status]int{}
	for _, t := range tasks {
		out[t.Status]++
	}
	return out
}

// Slugs returns all declared slugs sorted, used for validating mark input.
func (d Definition) Slugs() []string {
	out := make([]string, 0, len(d.Tasks))
	for _, t := range d.Tasks {
		out = append(out, t.Slug)
	}
	sort.Strings(out)
	return out
}
