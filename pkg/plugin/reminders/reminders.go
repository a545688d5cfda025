// Package reminders lets the agent schedule messages that reach a client
// later through the notification queue.
package reminders

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/grinbot/grinbot/pkg/cron"
	"github.com/grinbot/grinbot/pkg/hooks"
	"github.com/grinbot/grinbot/pkg/logger"
	"github.com/grinbot/grinbot/pkg/plugin"
	"github.com/grinbot/grinbot/pkg/tools"
)

const Name = "reminders"

// ReminderIDKey carries the job id in the notification content.
const ReminderIDKey = "reminder_id"

// Notification converts a fired job into a queue payload.
func Notification(j cron.Job) hooks.Message {
	return notification(j.ID, j.Message)
}

func notification(id, text string) hooks.Message {
	msg := hooks.Message{Type: hooks.TypeNotification, Content: hooks.Content{Text: text, Sender: "AI"}}
	if id != "" {
		msg.Content.Extra = map[string]any{ReminderIDKey: id}
	}
	return msg
}

type Plugin struct {
	svc *cron.Service

	mu     sync.Mutex
	timers map[*time.Timer]struct{}
}

func New(svc *cron.Service) *Plugin {
	return &Plugin{svc: svc, timers: make(map[*time.Timer]struct{})}
}

func (p *Plugin) Name() string       { return Name }
func (p *Plugin) APIVersion() string { return plugin.APIVersion }

func (p *Plugin) Register(r *plugin.Registrar) error {
	if p.svc != nil {
		r.Tool(tools.Tool{
			Name: "set_reminder",
			Description: "Schedules a recurring reminder. Input is `<cron expression>; <message>`, " +
				"for example `0 9 * * 1-5; stand-up meeting`.",
			Input:   tools.TextInput,
			Handler: p.setReminder,
		})
		r.Tool(tools.Tool{
			Name:        "list_reminders",
			Description: "Lists scheduled reminders with their ids. Input is always None.",
			Input:       tools.NoInput,
			Handler:     p.listReminders,
		})
		r.Tool(tools.Tool{
			Name:        "cancel_reminder",
			Description: "Cancels a scheduled reminder. Input is the reminder id.",
			Input:       tools.TextInput,
			Handler:     p.cancelReminder,
		})
	}
	r.Tool(tools.Tool{
		Name: "set_timer",
		Description: "Sends a one-off message after a delay. Input is `<duration>; <message>`, " +
			"for example `10m; the tea is ready`.",
		Input:   tools.TextInput,
		Handler: p.setTimer,
	})
	return nil
}

func (p *Plugin) setReminder(_ context.Context, input string, _ tools.Env) (string, error) {
	expr, message, err := split(input)
	if err != nil {
		return "", err
	}
	job, err := p.svc.AddJob(expr, message)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Reminder %s scheduled, next at %s.", job.ID, job.NextRun.Format("2006-01-02 15:04")), nil
}

func (p *Plugin) listReminders(context.Context, string, tools.Env) (string, error) {
	jobs := p.svc.ListJobs()
	if len(jobs) == 0 {
		return "No reminders scheduled.", nil
	}
	var b strings.Builder
	for _, j := range jobs {
		fmt.Fprintf(&b, "- %s: %q on `%s`, next at %s\n", j.ID, j.Message, j.Schedule, j.NextRun.Format("2006-01-02 15:04"))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (p *Plugin) cancelReminder(_ context.Context, input string, _ tools.Env) (string, error) {
	id := strings.TrimSpace(input)
	ok, err := p.svc.RemoveJob(id)
	if err != nil {
		return "", err
	}
	if !ok {
		return fmt.Sprintf("No reminder with id %s.", id), nil
	}
	return fmt.Sprintf("Reminder %s cancelled.", id), nil
}

func (p *Plugin) setTimer(_ context.Context, input string, env tools.Env) (string, error) {
	raw, message, err := split(input)
	if err != nil {
		return "", err
	}
	delay, err := time.ParseDuration(raw)
	if err != nil || delay <= 0 {
		return "", fmt.Errorf("invalid duration %q", raw)
	}
	if env.Notify == nil {
		return "", fmt.Errorf("notifications are not available")
	}

	notify := env.Notify
	var timer *time.Timer
	p.mu.Lock()
	timer = time.AfterFunc(delay, func() {
		p.mu.Lock()
		delete(p.timers, timer)
		p.mu.Unlock()
		notify.Push(notification("", message))
		logger.DebugCF("reminders", "Timer fired", map[string]any{"delay": delay.String()})
	})
	p.timers[timer] = struct{}{}
	p.mu.Unlock()

	return fmt.Sprintf("Timer set for %s.", delay), nil
}

// Close stops pending timers.
func (p *Plugin) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for t := range p.timers {
		t.Stop()
	}
	clear(p.timers)
}

// Pending counts timers that have not fired.
func (p *Plugin) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.timers)
}

func split(input string) (string, string, error) {
	head, message, ok := strings.Cut(input, ";")
	head, message = strings.TrimSpace(head), strings.TrimSpace(message)
	if !ok || head == "" || message == "" {
		return "", "", fmt.Errorf("input must look like `<when>; <message>`, got %q", input)
	}
	return head, message, nil
}
