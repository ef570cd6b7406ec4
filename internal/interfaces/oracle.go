package interfaces

import "context"

// Oracle is an opaque text-completion backend. Callers own prompt
// construction and response parsing.
type Oracle interface {
	Call(ctx context.Context, system, user string) (string, error)
}
