package shared

import "context"

type contextKey string

const actorContextKey contextKey = "actor"

// Actor identifies who performs a mutating call. Authentication lives
// outside this engine; callers thread an explicit actor through every
// mutation instead of relying on ambient session state.
type Actor struct {
	ID       int64
	Elevated bool
}

// ContextWithActor stores the actor in the context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey, actor)
}

// ActorFromContext retrieves the actor, if present.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey).(Actor)
	return actor, ok
}
