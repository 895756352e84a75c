package audio

import (
	"context"

	"alarmd/internal/alarm"
)

// Options configure a playable resource at creation time.
type Options struct {
	// Loop keeps the sound repeating until stopped. Built-in alarm sounds
	// loop; user recordings play once.
	Loop   bool
	Volume float64
}

// Status is a snapshot of a playable resource.
type Status struct {
	Loaded  bool
	Playing bool
}

// Playable is one created audio resource. Created in a not-yet-playing
// loaded (or loading) state; Play starts it, Unload releases it.
type Playable interface {
	Play(ctx context.Context) error
	Stop(ctx context.Context) error
	Unload(ctx context.Context) error
	Status(ctx context.Context) (Status, error)
}

// Player is the platform audio collaborator.
type Player interface {
	Create(ctx context.Context, sound alarm.Sound, opts Options) (Playable, error)
}
