package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Capability keys understood by the built-in components.
const (
	CapabilityDialogs      = "dialogs"
	CapabilitySMS          = "sms"
	CapabilityWifi         = "wifi"
	CapabilityNotification = "notification"
	CapabilityLog          = "log"
)

// Prompt is a request for user input raised by a running macro.
type Prompt struct {
	ExecutionID string `json:"execution_id"`
	MacroID     int    `json:"macro_id"`
	MacroName   string `json:"macro_name"`
	Title       string `json:"title"`
	Message     string `json:"message"`
}

// DialogAdapter asks the user something. The callback may run on any
// goroutine, before or after the call returns.
type DialogAdapter interface {
	Confirm(ctx context.Context, p Prompt, answer func(confirmed bool))
	AskString(ctx context.Context, p Prompt, answer func(value string, ok bool))
}

// SMSAdapter sends text messages.
type SMSAdapter interface {
	Send(ctx context.Context, number, message string) error
}

// WifiAdapter switches the device's Wi-Fi radio.
type WifiAdapter interface {
	SetEnabled(ctx context.Context, on bool) error
}

// NotificationAdapter shows a notification to the user.
type NotificationAdapter interface {
	Notify(ctx context.Context, title, message string) error
}

// LogAdapter is the macro log sink.
type LogAdapter interface {
	Log(tag, message string)
}

// SystemFacade is the capability surface components run against. Adapters
// are registered under string keys so components never touch platform APIs.
//
// Thread Safety: all methods are safe for concurrent use.
type SystemFacade struct {
	mu           sync.RWMutex
	capabilities map[string]any
	requirements map[string]bool
}

// NewSystemFacade creates a facade with no capabilities.
func NewSystemFacade() *SystemFacade {
	return &SystemFacade{
		capabilities: make(map[string]any),
		requirements: make(map[string]bool),
	}
}

// AddCapability registers an adapter, replacing any previous one for key.
func (s *SystemFacade) AddCapability(key string, adapter any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capabilities[key] = adapter
}

// HasCapability reports whether an adapter is registered under key.
func (s *SystemFacade) HasCapability(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.capabilities[key]
	return ok
}

// Capability returns the adapter registered under key.
func (s *SystemFacade) Capability(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.capabilities[key]
	return a, ok
}

// Capabilities returns the registered keys in sorted order.
func (s *SystemFacade) Capabilities() []string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.capabilities))
	for k := range s.capabilities {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// SetRequirement overrides whether the device satisfies a requirement key.
// Components that need the key are offered only when it is satisfied.
func (s *SystemFacade) SetRequirement(key string, satisfied bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requirements[key] = satisfied
}

// Requirement reports whether a requirement key is satisfied. Without an
// explicit SetRequirement it falls back to HasCapability.
func (s *SystemFacade) Requirement(key string) bool {
	s.mu.RLock()
	v, ok := s.requirements[key]
	s.mu.RUnlock()
	if ok {
		return v
	}
	return s.HasCapability(key)
}

func capabilityAs[T any](s *SystemFacade, key string) (T, error) {
	var zero T
	a, ok := s.Capability(key)
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrCapabilityMissing, key)
	}
	typed, ok := a.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s adapter has type %T", ErrCapabilityMissing, key, a)
	}
	return typed, nil
}

// Dialogs returns the dialog adapter.
func (s *SystemFacade) Dialogs() (DialogAdapter, error) {
	return capabilityAs[DialogAdapter](s, CapabilityDialogs)
}

// SMS returns the SMS adapter.
func (s *SystemFacade) SMS() (SMSAdapter, error) {
	return capabilityAs[SMSAdapter](s, CapabilitySMS)
}

// Wifi returns the Wi-Fi adapter.
func (s *SystemFacade) Wifi() (WifiAdapter, error) {
	return capabilityAs[WifiAdapter](s, CapabilityWifi)
}

// Notifications returns the notification adapter.
func (s *SystemFacade) Notifications() (NotificationAdapter, error) {
	return capabilityAs[NotificationAdapter](s, CapabilityNotification)
}

// Log returns the macro log sink.
func (s *SystemFacade) Log() (LogAdapter, error) {
	return capabilityAs[LogAdapter](s, CapabilityLog)
}
