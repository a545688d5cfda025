package ask

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/grinbot/grinbot/cmd/grinbot/internal"
	"github.com/grinbot/grinbot/pkg/hooks"
	"github.com/grinbot/grinbot/pkg/memory"
)

func NewAskCommand() *cobra.Command {
	var (
		debug  bool
		asJSON bool
		prefix string
	)

	cmd := &cobra.Command{
		Use:   "ask [message]",
		Short: "Send a message through the agent, or chat interactively without one",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return askCmd(cmd.OutOrStdout(), strings.Join(args, " "), prefix, asJSON, debug)
		},
	}

	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full reply message as JSON")
	cmd.Flags().StringVar(&prefix, "prefix", "", "Override the persona prompt prefix")

	return cmd
}

func askCmd(w io.Writer, text, prefix string, asJSON, debug bool) error {
	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if err := internal.SetupLogging(cfg, debug); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rt, err := internal.NewRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	if strings.TrimSpace(text) == "" {
		return interactive(ctx, w, rt.Respond, prefix, asJSON)
	}

	msg, err := buildMessage(text, prefix)
	if err != nil {
		return err
	}

	reply, err := rt.Respond(ctx, msg)
	if err != nil {
		return err
	}
	return printReply(w, reply, asJSON)
}

type respondFunc func(context.Context, memory.UserMessage) (hooks.Message, error)

type lineReader interface {
	Readline() (string, error)
	Close() error
}

func interactive(ctx context.Context, w io.Writer, respond respondFunc, prefix string, asJSON bool) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          internal.Logo + " You: ",
		HistoryFile:     filepath.Join(os.TempDir(), ".grinbot_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("initialize readline: %w", err)
	}
	return chatLoop(ctx, w, rl, respond, prefix, asJSON)
}

// chatLoop sends every non-empty line until exit, EOF or interrupt. Failed
// turns are printed and the loop continues.
func chatLoop(ctx context.Context, w io.Writer, rl lineReader, respond respondFunc, prefix string, asJSON bool) error {
	defer rl.Close()
	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				fmt.Fprintln(w, "Goodbye!")
				return nil
			}
			return err
		}

		input := strings.TrimSpace(line)
		switch input {
		case "":
			continue
		case "exit", "quit":
			fmt.Fprintln(w, "Goodbye!")
			return nil
		}

		msg, err := buildMessage(input, prefix)
		if err != nil {
			return err
		}
		reply, err := respond(ctx, msg)
		if err != nil {
			fmt.Fprintf(w, "Error: %v\n", err)
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		if err := printReply(w, reply, asJSON); err != nil {
			return err
		}
	}
}

func buildMessage(text, prefix string) (memory.UserMessage, error) {
	msg := memory.UserMessage{Text: text}
	if prefix == "" {
		return msg, nil
	}
	return msg.With("prompt_settings.prefix", prefix)
}

func printReply(w io.Writer, reply hooks.Message, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(reply)
	}
	_, err := fmt.Fprintf(w, "%s %s\n", internal.Logo, reply.Content.Text)
	return err
}
