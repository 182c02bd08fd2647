package adapters

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sinapsi/sinapsi-core/internal/engine"
)

// Prompt kinds.
const (
	PromptConfirm = "confirm"
	PromptString  = "string"
)

// PendingPrompt is a question waiting for the user.
type PendingPrompt struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
	engine.Prompt
}

// Answer is the user's reply. Confirmed answers a confirm prompt; Value
// answers a string prompt. Cancel dismisses either kind.
type Answer struct {
	Confirmed *bool   `json:"confirmed,omitempty"`
	Value     *string `json:"value,omitempty"`
	Cancel    bool    `json:"cancel,omitempty"`
}

type pendingEntry struct {
	prompt  PendingPrompt
	confirm func(bool)
	ask     func(string, bool)
}

// PromptBroker is an engine.DialogAdapter that parks prompts until a client
// answers them through the API or WebSocket.
//
// Answers are applied on the answering goroutine, so a resumed run executes
// on it until it ends or suspends again.
type PromptBroker struct {
	mu      sync.Mutex
	pending map[string]*pendingEntry
	onRaise func(PendingPrompt)
	onClose func(id string)
	now     func() time.Time
}

// NewPromptBroker creates an empty broker.
func NewPromptBroker() *PromptBroker {
	return &PromptBroker{pending: make(map[string]*pendingEntry), now: time.Now}
}

// OnChange sets callbacks for raised and closed prompts. Either may be nil.
func (b *PromptBroker) OnChange(raised func(PendingPrompt), closed func(id string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onRaise = raised
	b.onClose = closed
}

// Confirm implements engine.DialogAdapter.
func (b *PromptBroker) Confirm(_ context.Context, p engine.Prompt, answer func(confirmed bool)) {
	b.raise(&pendingEntry{prompt: b.newPrompt(PromptConfirm, p), confirm: answer})
}

// AskString implements engine.DialogAdapter.
func (b *PromptBroker) AskString(_ context.Context, p engine.Prompt, answer func(value string, ok bool)) {
	b.raise(&pendingEntry{prompt: b.newPrompt(PromptString, p), ask: answer})
}

func (b *PromptBroker) newPrompt(kind string, p engine.Prompt) PendingPrompt {
	return PendingPrompt{ID: uuid.NewString(), Kind: kind, CreatedAt: b.now().UTC(), Prompt: p}
}

func (b *PromptBroker) raise(e *pendingEntry) {
	b.mu.Lock()
	b.pending[e.prompt.ID] = e
	hook := b.onRaise
	b.mu.Unlock()

	if hook != nil {
		hook(e.prompt)
	}
}

// Pending lists waiting prompts, oldest first.
func (b *PromptBroker) Pending() []PendingPrompt {
	b.mu.Lock()
	out := make([]PendingPrompt, 0, len(b.pending))
	for _, e := range b.pending {
		out = append(out, e.prompt)
	}
	b.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Answer delivers a reply. The prompt is removed before its callback runs,
// so each prompt is answered at most once.
//
// Returns:
//   - error: ErrPromptNotFound or ErrInvalidAnswer
func (b *PromptBroker) Answer(id string, a Answer) error {
	b.mu.Lock()
	e, ok := b.pending[id]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPromptNotFound, id)
	}
	if err := validateAnswer(e.prompt.Kind, a); err != nil {
		b.mu.Unlock()
		return err
	}
	delete(b.pending, id)
	hook := b.onClose
	b.mu.Unlock()

	if hook != nil {
		hook(id)
	}

	switch e.prompt.Kind {
	case PromptConfirm:
		e.confirm(!a.Cancel && *a.Confirmed)
	case PromptString:
		if a.Cancel {
			e.ask("", false)
		} else {
			e.ask(*a.Value, true)
		}
	}
	return nil
}

func validateAnswer(kind string, a Answer) error {
	if a.Cancel {
		return nil
	}
	switch kind {
	case PromptConfirm:
		if a.Confirmed == nil {
			return fmt.Errorf("%w: confirm prompt needs confirmed", ErrInvalidAnswer)
		}
	case PromptString:
		if a.Value == nil {
			return fmt.Errorf("%w: string prompt needs value", ErrInvalidAnswer)
		}
	}
	return nil
}
