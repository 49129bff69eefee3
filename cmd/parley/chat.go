// ABOUTME: Interactive chat loop: readline-style input, slash commands, and
// ABOUTME: incremental reveal of streamed agent responses.

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/parley-sh/parley/internal/conversation"
	"github.com/parley-sh/parley/internal/directory"
	"github.com/parley-sh/parley/internal/session"
)

// revealInterval paces how often freshly streamed content is flushed to the
// terminal.
const revealInterval = 80 * time.Millisecond

var (
	promptColor = color.New(color.FgCyan)
	agentColor  = color.New(color.FgGreen)
	errorColor  = color.New(color.FgRed)
	dimColor    = color.New(color.Faint)
)

// runChat drives the interactive loop until EOF, /quit, or signal.
func runChat(ctx context.Context, app *app) error {
	fmt.Printf("parley connected to %s\n", app.cfg.Gateway.BaseURL)
	fmt.Println("Type a message and press Enter. /help for commands. Ctrl+C to quit.")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	var selected directory.Descriptor

	for {
		printPrompt(selected)

		input, err := readLine(ctx, scanner)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				fmt.Println("\nGoodbye!")
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			quit, err := handleCommand(ctx, app, &selected, input)
			if err != nil {
				errorColor.Printf("[error] %v\n", err)
			}
			if quit {
				fmt.Println("Goodbye!")
				return nil
			}
			fmt.Println()
			continue
		}

		if selected.ID == "" {
			dimColor.Println("No agent selected. Use /agents to list and /use <id> to pick one.")
			fmt.Println()
			continue
		}

		if err := sendTurn(ctx, app, selected, input); err != nil {
			errorColor.Printf("[error] %v\n", err)
		}
		fmt.Println()
	}
}

// readLine reads one line of input with context awareness so a signal
// interrupts the blocking stdin read.
func readLine(ctx context.Context, scanner *bufio.Scanner) (string, error) {
	inputCh := make(chan string, 1)
	errCh := make(chan error, 1)

	go func() {
		if scanner.Scan() {
			inputCh <- scanner.Text()
			return
		}
		if err := scanner.Err(); err != nil {
			errCh <- err
		} else {
			errCh <- io.EOF
		}
	}()

	select {
	case <-ctx.Done():
		return "", context.Canceled
	case err := <-errCh:
		return "", err
	case input := <-inputCh:
		return input, nil
	}
}

func printPrompt(selected directory.Descriptor) {
	if selected.ID != "" {
		promptColor.Printf("[%s]> ", selected.ID)
	} else {
		promptColor.Print("> ")
	}
}

// handleCommand dispatches one slash command. Returns true to quit.
func handleCommand(ctx context.Context, app *app, selected *directory.Descriptor, input string) (bool, error) {
	cmd, args, _ := strings.Cut(input, " ")
	args = strings.TrimSpace(args)

	switch cmd {
	case "/quit", "/exit", "/q":
		return true, nil

	case "/help":
		printHelp()

	case "/agents":
		agents, err := app.dir.Refresh(ctx)
		if err != nil {
			return false, err
		}
		printAgents(agents)

	case "/use":
		if args == "" {
			*selected = directory.Descriptor{}
			fmt.Println("Cleared agent selection")
			return false, nil
		}
		agent, ok := app.dir.Find(ctx, args)
		if !ok {
			return false, fmt.Errorf("unknown agent %q (try /agents)", args)
		}
		*selected = agent
		fmt.Printf("Now using %s\n", agent.Name)

	case "/new":
		app.ctrl.NewConversation()
		fmt.Println("Started a new conversation")

	case "/list":
		printConversations(app.store)

	case "/open":
		conv, err := conversationByArg(app.store, args)
		if err != nil {
			return false, err
		}
		app.ctrl.OpenConversation(conv.ID)
		printHistory(conv)

	case "/delete":
		conv, err := conversationByArg(app.store, args)
		if err != nil {
			return false, err
		}
		app.ctrl.DeleteConversation(conv.ID)
		fmt.Printf("Deleted %q\n", conv.Title)

	case "/cancel":
		app.ctrl.CancelActive()
		fmt.Println("Cancelled")

	default:
		return false, fmt.Errorf("unknown command %s (try /help)", cmd)
	}
	return false, nil
}

func printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  /agents        List available agents")
	fmt.Println("  /use <id>      Select an agent for messages")
	fmt.Println("  /use           Clear agent selection")
	fmt.Println("  /new           Start a fresh conversation")
	fmt.Println("  /list          List saved conversations")
	fmt.Println("  /open <n>      Open conversation n from /list")
	fmt.Println("  /delete <n>    Delete conversation n from /list")
	fmt.Println("  /cancel        Cancel the in-flight turn")
	fmt.Println("  /help          Show this help")
	fmt.Println("  /quit          Exit")
}

// sendTurn starts one turn and reveals the agent's response as it arrives.
func sendTurn(ctx context.Context, app *app, agent directory.Descriptor, text string) error {
	done, err := app.ctrl.Send(ctx, text, agent)
	if err != nil {
		if errors.Is(err, session.ErrTurnInFlight) {
			return fmt.Errorf("still waiting on the previous turn (/cancel to stop it)")
		}
		return err
	}
	return revealTurn(ctx, app, done)
}

// revealTurn paces streamed content onto the terminal by polling the store
// for growth of the agent message, then finalizes the message once both the
// turn and the reveal are complete.
func revealTurn(ctx context.Context, app *app, done <-chan struct{}) error {
	ticker := time.NewTicker(revealInterval)
	defer ticker.Stop()

	var printed int
	turnDone := false

	for {
		select {
		case <-ctx.Done():
			app.ctrl.CancelActive()
			fmt.Println()
			return nil
		case <-done:
			turnDone = true
			done = nil
		case <-ticker.C:
		}

		convID, msg := lastAgentMessage(app.store)
		if msg == nil {
			if turnDone {
				return nil
			}
			continue
		}

		if len(msg.DisplayText) > printed {
			agentColor.Print(msg.DisplayText[printed:])
			printed = len(msg.DisplayText)
		}

		if turnDone {
			// Flush any remainder the last tick missed.
			if len(msg.DisplayText) > printed {
				agentColor.Print(msg.DisplayText[printed:])
			}
			fmt.Println()
			if msg.Status == conversation.StatusError {
				dimColor.Println("(turn failed; see message above)")
			}
			app.ctrl.FinalizeMessage(convID, msg.ID)
			return nil
		}
	}
}

// lastAgentMessage returns the trailing agent message of the active
// conversation, tracking renames by re-reading the active pointer.
func lastAgentMessage(store *conversation.Store) (string, *conversation.Message) {
	conv, ok := store.Get(store.ActiveID())
	if !ok {
		return "", nil
	}
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		if conv.Messages[i].Role == conversation.RoleAgent {
			return conv.ID, &conv.Messages[i]
		}
	}
	return "", nil
}

// printConversations lists saved conversations, newest first.
func printConversations(store *conversation.Store) {
	convs := store.List()
	if len(convs) == 0 {
		fmt.Println("No saved conversations")
		return
	}
	active := store.ActiveID()
	for i, c := range convs {
		marker := " "
		if c.ID == active {
			marker = "*"
		}
		fmt.Printf("%s %2d. %s", marker, i+1, c.Title)
		dimColor.Printf("  (%d messages, %s)\n", len(c.Messages), c.UpdatedAt.Format("2006-01-02 15:04"))
	}
}

// printHistory replays a conversation's messages.
func printHistory(conv conversation.Conversation) {
	fmt.Printf("Opened %q\n", conv.Title)
	fmt.Println(strings.Repeat("-", 60))
	for _, m := range conv.Messages {
		switch m.Role {
		case conversation.RoleUser:
			promptColor.Print("you: ")
			fmt.Println(m.DisplayText)
		case conversation.RoleAgent:
			name := m.AgentName
			if name == "" {
				name = "agent"
			}
			agentColor.Printf("%s: ", name)
			fmt.Println(m.DisplayText)
		}
	}
	fmt.Println(strings.Repeat("-", 60))
}

// conversationByArg resolves a /list ordinal to a conversation.
func conversationByArg(store *conversation.Store, arg string) (conversation.Conversation, error) {
	if arg == "" {
		return conversation.Conversation{}, fmt.Errorf("expected a conversation number (see /list)")
	}
	n, err := strconv.Atoi(arg)
	if err != nil {
		return conversation.Conversation{}, fmt.Errorf("expected a conversation number, got %q", arg)
	}
	convs := store.List()
	if n < 1 || n > len(convs) {
		return conversation.Conversation{}, fmt.Errorf("no conversation %d (have %d)", n, len(convs))
	}
	return convs[n-1], nil
}
