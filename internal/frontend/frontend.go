// Package frontend provides the chat-facing adapters: prompting a human for
// text and rendering turns as they happen.
package frontend

import (
	"context"
	"errors"

	"github.com/thebtf/roundtable/pkg/models"
)

// ErrNoInput is returned when a prompter has no more input to give.
var ErrNoInput = errors.New("no input available")

// Prompter asks the human a question and returns the raw reply.
type Prompter interface {
	Ask(ctx context.Context, prompt string) (string, error)
}

// Renderer displays turns and status notices.
type Renderer interface {
	Render(turn models.Turn)
	Notify(message string)
}

// Prompts shown to the human.
const (
	PromptUsername           = "Please enter a username:"
	PromptUsernameEmpty      = "Username cannot be empty. Please enter a valid username:"
	PromptProjectName        = "Please enter a name for your new project:"
	PromptProjectDescription = "Please provide a brief description of the project:"
	PromptFeedback           = "Please provide feedback on this interaction:"

	MessageWelcome  = "Welcome to the AI-powered engineering assistant! What project would you like to start?"
	MessageThankYou = "Thank you for your feedback!"
)

// Discard is a Renderer that drops everything.
var Discard Renderer = discard{}

type discard struct{}

func (discard) Render(models.Turn) {}
func (discard) Notify(string)      {}
