package embedding

import "context"

// Model is a loaded embedding model. Implementations map each input text to
// one vector, in input order.
type Model interface {
	Encode(ctx context.Context, texts []string) ([][]float32, error)
}

// Reentrant is implemented by models whose Encode may be called concurrently.
// Models that don't implement it are serialized by the Provider.
type Reentrant interface {
	Reentrant() bool
}

// Loader instantiates the model described by spec.
type Loader func(ctx context.Context, spec Spec) (Model, error)

// Role selects which instruction prefix the Provider applies before encoding.
type Role string

const (
	RoleQuery   Role = "query"
	RolePassage Role = "passage"
)

// Spec describes the model a Provider loads and how text is prepared for it.
type Spec struct {
	ID               string
	FP16             bool
	QueryInstruction string
	PassagePrefix    string
	Role             Role
}

// Prefix returns the string prepended to every text for the configured role.
func (s Spec) Prefix() string {
	if s.Role == RoleQuery {
		return s.QueryInstruction
	}
	return s.PassagePrefix
}
