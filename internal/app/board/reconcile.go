package board

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nuid"
	"github.com/taskmirror/project/internal/app/identity"
	"github.com/taskmirror/project/internal/app/tasks"
)

// UserDirectory resolves webhook actors to local accounts, creating them on
// first sighting.
type UserDirectory interface {
	EnsureWebhookUser(ctx context.Context, email, name string) (identity.User, error)
}

// Reconciler keeps the local task for a card consistent with the latest
// canonical event. It never deletes tasks; deletion stays an explicit CRUD
// operation.
type Reconciler struct {
	Tasks tasks.Store
	Users UserDirectory
	Now   func() time.Time
	NewID func() string
}

func NewReconciler(store tasks.Store, users UserDirectory) *Reconciler {
	return &Reconciler{
		Tasks: store,
		Users: users,
		Now:   func() time.Time { return time.Now().UTC() },
		NewID: nuid.Next,
	}
}

// Result carries the reconciled task and the resolved owner.
type Result struct {
	Task  tasks.Task
	Owner identity.User
}

// Reconcile finds or creates the task for ev and applies the event to it.
// Persistence failures are returned as-is; retry is the webhook sender's
// job, and applying the same event twice converges on the same state.
func (r *Reconciler) Reconcile(ctx context.Context, ev CardChangeEvent) (Result, error) {
	owner, err := r.Users.EnsureWebhookUser(ctx, ev.ActorEmail, ev.ActorName)
	if err != nil {
		return Result{}, fmt.Errorf("resolve actor %q: %w", ev.ActorEmail, err)
	}

	target, isNew, err := r.findTarget(ctx, owner.ID, ev)
	if err != nil {
		return Result{}, err
	}

	r.apply(&target, ev)

	if isNew {
		err = r.Tasks.Create(ctx, target)
		if errors.Is(err, tasks.ErrDuplicateExternalID) {
			// A concurrent delivery created the task between our lookup and
			// the insert. Re-read and apply as an update instead.
			existing, findErr := r.Tasks.FindByExternalID(ctx, owner.ID, ev.CardID)
			if findErr != nil {
				return Result{}, fmt.Errorf("reread after duplicate create: %w", findErr)
			}
			target = existing
			r.apply(&target, ev)
			err = r.Tasks.Update(ctx, target)
		}
	} else {
		err = r.Tasks.Update(ctx, target)
	}
	if err != nil {
		return Result{}, fmt.Errorf("persist task for card %s: %w", ev.CardID, err)
	}

	return Result{Task: target, Owner: owner}, nil
}

// findTarget resolves the local task for the event: by external id first,
// then by title among unlinked tasks (tasks that predate external-id
// tracking; the match backfills their external id), otherwise a fresh task.
func (r *Reconciler) findTarget(ctx context.Context, ownerID string, ev CardChangeEvent) (tasks.Task, bool, error) {
	target, err := r.Tasks.FindByExternalID(ctx, ownerID, ev.CardID)
	if err == nil {
		return target, false, nil
	}
	if !errors.Is(err, tasks.ErrTaskNotFound) {
		return tasks.Task{}, false, fmt.Errorf("lookup by external id: %w", err)
	}

	if ev.CardName != "" {
		target, err = r.Tasks.FindLatestByTitle(ctx, ownerID, ev.CardName)
		if err == nil {
			// The store only surfaces unlinked tasks here; a task already
			// bound to another card must never be re-bound by title.
			if target.ExternalID == "" {
				target.ExternalID = ev.CardID
				return target, false, nil
			}
		} else if !errors.Is(err, tasks.ErrTaskNotFound) {
			return tasks.Task{}, false, fmt.Errorf("lookup by title: %w", err)
		}
	}

	now := r.Now()
	return tasks.Task{
		ID:         r.NewID(),
		OwnerID:    ownerID,
		Title:      ev.CardName,
		Status:     tasks.StatusOpen,
		Priority:   tasks.PriorityP2,
		ExternalID: ev.CardID,
		CreatedAt:  now,
	}, true, nil
}

// apply mutates target according to the event. Card-content fields are only
// written for events that actually carry them; a pure move or label event
// must not stomp description or deadline.
func (r *Reconciler) apply(target *tasks.Task, ev CardChangeEvent) {
	switch ev.Kind {
	case KindLabelAdded:
		// Labels are an urgency tag orthogonal to list position; the card
		// did not move, so priority and status stand.
		target.Label = ClassifyLabel(ev.LabelName)
		target.Priority = ClampPriority(target.Priority)
		if !tasks.ValidStatus(target.Status) {
			target.Status = tasks.StatusOpen
		}
	default:
		cls := Classify(ev.ListName, target.Priority)
		target.Priority = ClampPriority(cls.Priority)
		target.Status = cls.Status
		target.Label = cls.Label
	}

	if ev.Kind == KindCardCreated || ev.Kind == KindCardUpdated {
		if ev.CardName != "" {
			target.Title = ev.CardName
		}
		target.Description = ev.CardDescription
		target.Deadline = ev.DueDate
	}
	if target.Title == "" {
		target.Title = "Untitled card"
	}

	target.UpdatedAt = r.Now()
	if target.CreatedAt.IsZero() {
		target.CreatedAt = target.UpdatedAt
	}
}
