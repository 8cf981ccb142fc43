package cli

import (
	"fmt"
	"strings"

	"github.com/c-bata/go-prompt"
	"github.com/spf13/cobra"
)

// Prompter asks the user for one line of input.
type Prompter interface {
	Ask(label string, suggestions []prompt.Suggest) string
}

type terminalPrompter struct{}

func (terminalPrompter) Ask(label string, suggestions []prompt.Suggest) string {
	completer := func(d prompt.Document) []prompt.Suggest {
		return prompt.FilterHasPrefix(suggestions, d.GetWordBeforeCursor(), true)
	}
	return strings.TrimSpace(prompt.Input(label, completer))
}

var menuChoices = []prompt.Suggest{
	{Text: "1", Description: "Start server"},
	{Text: "2", Description: "Start client"},
	{Text: "3", Description: "Exit"},
}

func (a *App) runMenu(cmd *cobra.Command) error {
	line := strings.Repeat("=", 50)
	fmt.Fprintln(a.out, line)
	fmt.Fprintln(a.out, "🎯 ROOMCHAT")
	fmt.Fprintln(a.out, line)
	fmt.Fprintln(a.out, "1. 🖥️  Start SERVER")
	fmt.Fprintln(a.out, "2. 👤 Start CLIENT")
	fmt.Fprintln(a.out, "3. ❌ Exit")
	fmt.Fprintln(a.out, line)

	switch strings.ToLower(a.prompter.Ask("Choose (1-3): ", menuChoices)) {
	case "1", "server":
		return a.runServe(cmd.Context())
	case "2", "client":
		return a.runClient(cmd.Context(), "", "")
	case "3", "exit":
		fmt.Fprintln(a.out, "👋 Goodbye!")
		return nil
	default:
		fmt.Fprintln(a.out, "❌ Invalid choice!")
		return nil
	}
}
