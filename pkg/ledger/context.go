package ledger

import "context"

// Registry holds one Ledger per LedgerType and is threaded through
// request contexts the same way observability threads its active
// span, so callers deep in a service don't need a Ledger field
// wired through every constructor.
type Registry struct {
	ledgers map[LedgerType]*Ledger
}

// NewRegistry creates a ledger for each of the given types.
func NewRegistry(types ...LedgerType) *Registry {
	r := &Registry{ledgers: make(map[LedgerType]*Ledger, len(types))}
	for _, t := range types {
		r.ledgers[t] = NewLedger(t)
	}
	return r
}

// Get returns the ledger for lt, or nil if the registry wasn't built
// with that type.
func (r *Registry) Get(lt LedgerType) *Ledger {
	if r == nil {
		return nil
	}
	return r.ledgers[lt]
}

type registryKey struct{}

// WithRegistry attaches r to ctx.
func WithRegistry(ctx context.Context, r *Registry) context.Context {
	return context.WithValue(ctx, registryKey{}, r)
}

func registryFromContext(ctx context.Context) *Registry {
	r, _ := ctx.Value(registryKey{}).(*Registry)
	return r
}

// Append records an entry in ctx's registry under ledger type lt. It
// is a no-op if ctx carries no registry or the registry has no ledger
// of that type, so call sites don't need to special-case tests that
// never set one up.
func Append(ctx context.Context, lt LedgerType, entryType, author string, data map[string]interface{}) {
	l := registryFromContext(ctx).Get(lt)
	if l == nil {
		return
	}
	_, _ = l.Append(entryType, author, data)
}
