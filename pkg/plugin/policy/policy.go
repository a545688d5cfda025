package policy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/grinbot/grinbot/pkg/hooks"
	"github.com/grinbot/grinbot/pkg/memory"
	"github.com/grinbot/grinbot/pkg/plugin"
)

const Name = "policy"

// BlockedReplyText replaces an outbound reply that matched a deny pattern.
const BlockedReplyText = "This reply was withheld by policy."

// Config controls the policy plugin behavior.
type Config struct {
	BlockedTools         []string
	RedactPrefixes       []string
	DenyOutboundPatterns []string
}

// Stats provides basic evidence that hook paths were executed.
type Stats struct {
	BeforeToolCalls   int
	BlockedToolCalls  int
	MessageSends      int
	RedactedMessages  int
	BlockedMessages   int
	AfterToolCalls    int
	FailedToolCalls   int
	TotalToolDuration time.Duration
}

// Plugin enforces runtime policy at tool-call and outbound-message points
// and collects audit counters.
type Plugin struct {
	blockedTools map[string]struct{}
	prefixes     []string
	denyPatterns []string

	mu    sync.Mutex
	stats Stats
}

func New(cfg Config) *Plugin {
	blocked := make(map[string]struct{}, len(cfg.BlockedTools))
	for _, t := range cfg.BlockedTools {
		t = normalizeLower(t)
		if t == "" {
			continue
		}
		blocked[t] = struct{}{}
	}

	return &Plugin{
		blockedTools: blocked,
		prefixes:     nonEmpty(cfg.RedactPrefixes),
		denyPatterns: nonEmpty(cfg.DenyOutboundPatterns),
	}
}

func (p *Plugin) Name() string       { return Name }
func (p *Plugin) APIVersion() string { return plugin.APIVersion }

func (p *Plugin) Snapshot() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *Plugin) Register(r *plugin.Registrar) error {
	plugin.Hook(r, hooks.BeforeToolCall, "tool-policy", 100,
		func(_ context.Context, call hooks.ToolCall, _ *memory.WorkingMemory) (hooks.ToolCall, error) {
			p.update(func(s *Stats) { s.BeforeToolCalls++ })
			if _, blocked := p.blockedTools[normalizeLower(call.Name)]; blocked {
				call.Cancel = true
				call.CancelReason = fmt.Sprintf("%s is blocked by policy.", call.Name)
				p.update(func(s *Stats) { s.BlockedToolCalls++ })
			}
			return call, nil
		})

	plugin.Hook(r, hooks.BeforeSendsMessage, "redact-and-guard", 50,
		func(_ context.Context, msg hooks.Message, _ *memory.WorkingMemory) (hooks.Message, error) {
			p.update(func(s *Stats) { s.MessageSends++ })

			for _, pattern := range p.denyPatterns {
				if strings.Contains(msg.Content.Text, pattern) {
					msg.Content.Text = BlockedReplyText
					msg.Content.Why = nil
					p.update(func(s *Stats) { s.BlockedMessages++ })
					return msg, nil
				}
			}

			text := msg.Content.Text
			for _, prefix := range p.prefixes {
				text = strings.ReplaceAll(text, prefix, "[redacted]-")
			}
			if text != msg.Content.Text {
				msg.Content.Text = text
				p.update(func(s *Stats) { s.RedactedMessages++ })
			}
			return msg, nil
		})

	plugin.Hook(r, hooks.AfterToolCall, "after-tool-audit", 0,
		func(_ context.Context, res hooks.ToolResult, _ *memory.WorkingMemory) (hooks.ToolResult, error) {
			p.update(func(s *Stats) {
				s.AfterToolCalls++
				s.TotalToolDuration += res.Duration
				if res.Err != nil {
					s.FailedToolCalls++
				}
			})
			return res, nil
		})

	return nil
}

func (p *Plugin) update(fn func(*Stats)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.stats)
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}

func normalizeLower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
