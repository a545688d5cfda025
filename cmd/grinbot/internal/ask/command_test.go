package ask

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/chzyer/readline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grinbot/grinbot/pkg/hooks"
	"github.com/grinbot/grinbot/pkg/memory"
)

func TestNewAskCommand(t *testing.T) {
	cmd := NewAskCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "ask", cmd.Name())
	assert.NotNil(t, cmd.RunE)
	for _, flag := range []string{"debug", "json", "prefix"} {
		assert.NotNil(t, cmd.Flags().Lookup(flag), flag)
	}
	assert.NoError(t, cmd.Args(cmd, nil))
}

func TestBuildMessage(t *testing.T) {
	msg, err := buildMessage("hi", "")
	require.NoError(t, err)
	assert.Equal(t, "hi", msg.Text)
	assert.False(t, msg.Get("prompt_settings.prefix").Exists())

	msg, err = buildMessage("hi", "You are a pirate.")
	require.NoError(t, err)
	assert.Equal(t, "You are a pirate.", msg.Get("prompt_settings.prefix").String())
}

func TestPrintReply(t *testing.T) {
	reply := hooks.ChatMessage("hello", "AI")

	var text bytes.Buffer
	require.NoError(t, printReply(&text, reply, false))
	assert.Contains(t, text.String(), "hello")

	var js bytes.Buffer
	require.NoError(t, printReply(&js, reply, true))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(js.Bytes(), &decoded))
	assert.Equal(t, "chat", decoded["type"])
}

type scripted struct {
	lines  []string
	end    error
	closed bool
}

func (s *scripted) Readline() (string, error) {
	if len(s.lines) == 0 {
		return "", s.end
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	return line, nil
}

func (s *scripted) Close() error {
	s.closed = true
	return nil
}

func echo(_ context.Context, msg memory.UserMessage) (hooks.Message, error) {
	if msg.Text == "fail" {
		return hooks.Message{}, errors.New("model down")
	}
	return hooks.ChatMessage("re: "+msg.Text, "AI"), nil
}

func TestChatLoop(t *testing.T) {
	tests := []struct {
		name string
		in   *scripted
		want []string
		skip []string
	}{
		{
			name: "exit command",
			in:   &scripted{lines: []string{"hello", "  ", "exit", "never"}, end: io.EOF},
			want: []string{"re: hello", "Goodbye!"},
			skip: []string{"re: never"},
		},
		{
			name: "eof",
			in:   &scripted{lines: []string{"one"}, end: io.EOF},
			want: []string{"re: one", "Goodbye!"},
		},
		{
			name: "interrupt",
			in:   &scripted{end: readline.ErrInterrupt},
			want: []string{"Goodbye!"},
		},
		{
			name: "failed turn continues",
			in:   &scripted{lines: []string{"fail", "two"}, end: io.EOF},
			want: []string{"Error: model down", "re: two"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			require.NoError(t, chatLoop(context.Background(), &out, tt.in, echo, "", false))
			for _, w := range tt.want {
				assert.Contains(t, out.String(), w)
			}
			for _, s := range tt.skip {
				assert.NotContains(t, out.String(), s)
			}
			assert.True(t, tt.in.closed)
		})
	}
}

func TestChatLoop_ReadError(t *testing.T) {
	in := &scripted{end: errors.New("tty gone")}
	err := chatLoop(context.Background(), io.Discard, in, echo, "", false)
	assert.ErrorContains(t, err, "tty gone")
}
