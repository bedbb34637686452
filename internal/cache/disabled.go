package cache

import (
	"context"
	"time"
)

// Disabled is the cache implementation used when caching is turned off.
// Every read is a miss and every write is a no-op, so callers behave
// exactly as if the cache were empty.
type Disabled struct{}

func NewDisabled() Disabled { return Disabled{} }

func (Disabled) Get(context.Context, string) (string, bool) { return "", false }

func (Disabled) Set(context.Context, string, string, time.Duration) {}

func (Disabled) Increment(context.Context, string, int64) int64 { return 0 }

func (Disabled) AddToSortedSet(context.Context, string, string, float64) {}

func (Disabled) TopOfSortedSet(context.Context, string, int) []ScoredMember {
	return nil
}

func (Disabled) PushActivity(context.Context, string, string) {}

func (Disabled) Publish(context.Context, string, string) {}

func (Disabled) Delete(context.Context, ...string) {}

func (Disabled) DeletePattern(context.Context, string) {}

func (Disabled) Ping(context.Context) error { return nil }
