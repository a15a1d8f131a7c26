package progress

import "context"

// Store persists run state between invocations, keyed by run token.
type Store interface {
	// Save writes the run, replacing any earlier record for its token.
	Save(ctx context.Context, state *State) error

	// Load returns the run for token, or nil if none is stored.
	Load(ctx context.Context, token string) (*State, error)

	// Clear removes the run for token. Clearing an absent run is not an error.
	Clear(ctx context.Context, token string) error

	// Active returns the tokens of every stored run.
	Active(ctx context.Context) ([]string, error)
}
