package reminders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grinbot/grinbot/pkg/cron"
	"github.com/grinbot/grinbot/pkg/failure"
	"github.com/grinbot/grinbot/pkg/hooks"
	"github.com/grinbot/grinbot/pkg/plugin"
	"github.com/grinbot/grinbot/pkg/tools"
)

type recorder struct {
	mu    sync.Mutex
	items []any
	got   chan struct{}
}

func newRecorder() *recorder { return &recorder{got: make(chan struct{}, 8)} }

func (r *recorder) Push(payload any) {
	r.mu.Lock()
	r.items = append(r.items, payload)
	r.mu.Unlock()
	r.got <- struct{}{}
}

func load(t *testing.T, p *Plugin) *tools.Table {
	t.Helper()
	m := plugin.NewManager()
	require.NoError(t, m.Load(context.Background(), p))
	return m.Snapshot().Tools
}

func run(t *testing.T, table *tools.Table, name, input string, env tools.Env) (string, error) {
	t.Helper()
	tool, ok := table.Lookup(name)
	require.True(t, ok, name)
	return tools.Execute(context.Background(), tool, input, env, time.Second)
}

func TestReminders_Lifecycle(t *testing.T) {
	svc := cron.NewCronService("", nil)
	table := load(t, New(svc))

	out, err := run(t, table, "set_reminder", "0 9 * * 1-5; stand-up", tools.Env{})
	require.NoError(t, err)
	assert.Contains(t, out, "scheduled")

	jobs := svc.ListJobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "stand-up", jobs[0].Message)

	out, err = run(t, table, "list_reminders", "", tools.Env{})
	require.NoError(t, err)
	assert.Contains(t, out, jobs[0].ID)

	out, err = run(t, table, "cancel_reminder", jobs[0].ID, tools.Env{})
	require.NoError(t, err)
	assert.Contains(t, out, "cancelled")
	assert.Empty(t, svc.ListJobs())
}

func TestReminders_BadInputIsToolError(t *testing.T) {
	table := load(t, New(cron.NewCronService("", nil)))

	for _, in := range []string{"no separator", "; missing schedule", "61 * * * *; bad minute"} {
		_, err := run(t, table, "set_reminder", in, tools.Env{})
		assert.True(t, errors.Is(err, failure.ToolExecution), in)
	}
}

func TestReminders_FiredJobBecomesNotification(t *testing.T) {
	rec := newRecorder()
	svc := cron.NewCronService("", func(j cron.Job) { rec.Push(Notification(j)) })
	job, err := svc.AddJob("* * * * *", "drink water")
	require.NoError(t, err)

	svc.Tick(job.NextRun)
	require.Len(t, rec.items, 1)
	msg := rec.items[0].(hooks.Message)
	assert.Equal(t, hooks.TypeNotification, msg.Type)
	assert.Equal(t, "drink water", msg.Content.Text)
	assert.Equal(t, job.ID, msg.Content.Extra[ReminderIDKey])
}

func TestTimer_PushesThroughNotifier(t *testing.T) {
	p := New(nil)
	table := load(t, p)
	_, hasCron := table.Lookup("set_reminder")
	assert.False(t, hasCron)

	rec := newRecorder()
	out, err := run(t, table, "set_timer", "20ms; tea is ready", tools.Env{Notify: rec})
	require.NoError(t, err)
	assert.Equal(t, "Timer set for 20ms.", out)

	select {
	case <-rec.got:
	case <-time.After(5 * time.Second):
		t.Fatal("timer did not fire")
	}
	rec.mu.Lock()
	assert.Equal(t, "tea is ready", rec.items[0].(hooks.Message).Content.Text)
	rec.mu.Unlock()
	assert.Eventually(t, func() bool { return p.Pending() == 0 }, time.Second, 5*time.Millisecond)
}

func TestTimer_Close(t *testing.T) {
	p := New(nil)
	table := load(t, p)
	rec := newRecorder()
	_, err := run(t, table, "set_timer", "1h; later", tools.Env{Notify: rec})
	require.NoError(t, err)
	assert.Equal(t, 1, p.Pending())
	p.Close()
	assert.Zero(t, p.Pending())
}
