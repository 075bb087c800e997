package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/xbot/internal/bus"
	"github.com/nextlevelbuilder/xbot/internal/channels"
)

// cliChannel is the stdin/stdout concrete UnifiedContext adapter this
// module ships: it satisfies channels.Channel the way a real platform
// adapter (Telegram, Discord, …) would, reading one line per message
// and printing replies handed back through Send. Grounded on
// channels.BaseChannel's allow-list gate and HandleMessage plumbing,
// and on the teacher's cmd/agent_chat_standalone.go REPL loop shape.
type cliChannel struct {
	*channels.BaseChannel
	userID string
	chatID string
}

func newCLIChannel(msgBus *bus.MessageBus, userID string) *cliChannel {
	return &cliChannel{
		BaseChannel: channels.NewBaseChannel("cli", msgBus, nil),
		userID:      userID,
		chatID:      "local",
	}
}

func (c *cliChannel) Start(ctx context.Context) error {
	c.SetRunning(true)
	go c.readLoop(ctx)
	return nil
}

func (c *cliChannel) Stop(ctx context.Context) error {
	c.SetRunning(false)
	return nil
}

func (c *cliChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	fmt.Printf("\n%s\n\n", msg.Text)
	return nil
}

func (c *cliChannel) readLoop(ctx context.Context) {
	fmt.Fprintln(os.Stderr, "xbot — interactive chat (Ctrl+C to quit)")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "\ngoodbye")
			return
		default:
		}

		fmt.Fprint(os.Stderr, "you: ")
		if !scanner.Scan() {
			return
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		c.HandleMessage(bus.UnifiedMessage{
			ID:     uuid.NewString(),
			UserID: c.userID,
			ChatID: c.chatID,
			Type:   bus.MessageText,
			Text:   text,
		})
	}
}
