package adapters

import "errors"

var (
	// ErrCommandFailed indicates a platform command could not be published.
	ErrCommandFailed = errors.New("adapters: command failed")

	// ErrInvalidCommand indicates a command was rejected before publishing.
	ErrInvalidCommand = errors.New("adapters: invalid command")

	// ErrPromptNotFound indicates no pending prompt has the given ID.
	ErrPromptNotFound = errors.New("adapters: prompt not found")

	// ErrInvalidAnswer indicates an answer does not fit the prompt's kind.
	ErrInvalidAnswer = errors.New("adapters: invalid prompt answer")
)
