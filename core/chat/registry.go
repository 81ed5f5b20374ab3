// Package chat implements the conversation state machine: a registry of
// named states, a per-turn machine rehydrated from the persisted payload,
// and the dispatch engine that drives one turn per inbound event.
package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/locano/channelbot/core/messenger"
)

// StateName identifies a conversation state. Names travel inside callback
// payloads, so renaming one invalidates buttons already rendered to users.
type StateName string

const (
	StateRoot               StateName = "Root"
	StateIdle               StateName = "Idle"
	StateMyChannels         StateName = "MyChannels"
	StateMySubscriptions    StateName = "MySubscriptions"
	StateBrowseChannels     StateName = "BrowseChannels"
	StateEnterChannelCode   StateName = "EnterChannelCode"
	StateCreateChannel      StateName = "CreateChannel"
	StateSetChannelDesc     StateName = "SetChannelDesc"
	StateChannelCreated     StateName = "ChannelCreated"
	StateSetChannelPic      StateName = "SetChannelPic"
	StatePostChannelCreated StateName = "PostChannelCreated"
	StateListMyChannels     StateName = "ListMyChannels"
	StateDeleteChannel      StateName = "DeleteChannel"
	StateMakeAnnouncement   StateName = "MakeAnnouncement"
	StateCreateAnncTitle    StateName = "CreateAnncTitle"
	StateCreateAnncText     StateName = "CreateAnncText"
	StateAnncReady          StateName = "AnncReady"
)

// Pseudo-action ids that are not state transitions. The confirmation pair
// keeps the "PseudoChatState" suffix carried over from the payloads of
// earlier bot generations still live in user threads.
const (
	ActionYes = "YesPseudoChatState"
	ActionNo  = "NoPseudoChatState"
)

// ErrStateNotRegistered marks a transition to a state missing from the
// registry. This is a deployment defect, never a user-input problem, and is
// surfaced rather than swallowed.
var ErrStateNotRegistered = errors.New("chat: state not registered")

// CTA is one tappable choice a state offers. Target names the state the
// choice leads to; Action overrides the payload action id when the choice is
// handled by the state itself instead of causing a plain transition.
type CTA struct {
	Title  SID
	Target StateName
	Action string
}

// ActionID is the action carried in the CTA's payload.
func (c CTA) ActionID() string {
	if c.Action != "" {
		return c.Action
	}
	return string(c.Target)
}

// InitiatorFunc renders the state's arrival prompt. Initiators must be safe
// to call repeatedly; re-sending the prompt is their only side effect.
type InitiatorFunc func(ctx context.Context, m *Machine) error

// ActionFunc handles one recognized action id. It reports whether it claimed
// the action; unclaimed actions fall through to CTA matching and then to the
// default fallback.
type ActionFunc func(ctx context.Context, m *Machine, action string, ev messenger.Event) (bool, error)

// InputFunc handles free text or attachments arriving while the state is
// registered for user input. The action id is the one recorded at
// registration time.
type InputFunc func(ctx context.Context, m *Machine, action string, ev messenger.Event) error

// StateSpec describes one registered state. Prompt plus CTAs cover the
// common render; Initiator overrides it for states that need dynamic
// content. OnInput being non-nil is what makes a state await free text.
type StateSpec struct {
	Prompt    SID
	CTAs      []CTA
	Initiator InitiatorFunc
	OnAction  ActionFunc
	OnInput   InputFunc
	// Helper handles a secondary always-available affordance, matched
	// before the main action path when the payload action equals
	// HelperAction.
	Helper       ActionFunc
	HelperAction string
}

// Registry is the immutable state table built once at startup.
type Registry struct {
	states map[StateName]StateSpec
}

// NewRegistry copies the given table. Every state must render something:
// a spec with neither Prompt nor Initiator is rejected at construction.
func NewRegistry(states map[StateName]StateSpec) (*Registry, error) {
	cp := make(map[StateName]StateSpec, len(states))
	for name, spec := range states {
		if spec.Prompt == "" && spec.Initiator == nil {
			return nil, fmt.Errorf("state %s: no prompt and no initiator", name)
		}
		for _, cta := range spec.CTAs {
			if cta.Target == "" && cta.Action == "" {
				return nil, fmt.Errorf("state %s: CTA %q has no target and no action", name, cta.Title)
			}
		}
		cp[name] = spec
	}
	return &Registry{states: cp}, nil
}

// Lookup resolves a state or fails with ErrStateNotRegistered.
func (r *Registry) Lookup(name StateName) (StateSpec, error) {
	spec, ok := r.states[name]
	if !ok {
		return StateSpec{}, fmt.Errorf("%w: %s", ErrStateNotRegistered, name)
	}
	return spec, nil
}

// Has reports whether the name is registered.
func (r *Registry) Has(name StateName) bool {
	_, ok := r.states[name]
	return ok
}
