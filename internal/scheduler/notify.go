package scheduler

import (
	"context"

	"github.com/echonote/engine/internal/store"
)

// NotificationKind enumerates the desktop notifications the scheduler
// raises. Notifications themselves (and their translated string tables) are
// out of scope per spec.md §1 — the scheduler only ever talks to the
// Notifier interface, never a concrete toast/tray implementation.
type NotificationKind string

const (
	NotificationReminder         NotificationKind = "reminder"
	NotificationAutoStartSuccess NotificationKind = "auto_start_success"
	NotificationAutoStartFailure NotificationKind = "auto_start_failure"
	NotificationAutoStartBusy    NotificationKind = "auto_start_busy"
	NotificationAutoStopDeferred NotificationKind = "auto_stop_deferred"
	NotificationAutoStopComplete NotificationKind = "auto_stop_complete"
)

// Notification is a single desktop notification the scheduler wants shown.
// Title/Detail are plain engine-side text; translating them into the
// user's locale is the UI layer's job.
type Notification struct {
	Kind    NotificationKind
	EventID string
	Title   string
	Detail  string
}

// Notifier is the collaborator contract for desktop notifications (spec.md
// §1's "Notifications... out of scope", consumed only through this
// interface).
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// StopAction is the user's reply to a stop-confirmation prompt.
type StopAction string

const (
	StopActionStop  StopAction = "stop"
	StopActionDelay StopAction = "delay"
)

// StopDecision is the UI bridge's reply, spec §4.8.1's
// {action: stop} / {action: delay, delay_minutes: k}.
type StopDecision struct {
	Action       StopAction
	DelayMinutes int
}

// ConfirmationBridge marshals a stop-confirmation prompt onto the UI thread
// and waits for the reply. The scheduler itself never blocks the UI loop;
// it hands the event to this single-slot object and waits with a bounded
// timeout (spec §4.8.1).
type ConfirmationBridge interface {
	PromptStopConfirmation(ctx context.Context, event store.CalendarEvent) (StopDecision, error)
}
