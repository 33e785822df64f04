package wallet

import (
	"reflect"
	"sync"
	"time"
)

// Inputs is the current wallet connection state. A zero duration selects the default.
type Inputs struct {
	Wallet Wallet
	RPCURL string

	Signer   TxSigner
	Provider Provider

	ReceiptTimeout time.Duration
	PollInterval   time.Duration
}

// Select picks a backend without performing I/O: a direct wallet with an RPC URL wins,
// then a signer with a provider, otherwise the result is not ready.
func Select(in Inputs) Actions {
	if present(in.Wallet) && in.RPCURL != "" {
		d, err := NewDirect(in.Wallet, in.RPCURL, in.ReceiptTimeout, in.PollInterval)
		if err != nil {
			return notReady{reason: err}
		}
		return d
	}
	if present(in.Signer) && present(in.Provider) {
		l, err := NewLegacy(in.Signer, in.Provider, in.ReceiptTimeout, in.PollInterval)
		if err != nil {
			return notReady{reason: err}
		}
		return l
	}
	return notReady{}
}

// Resolver memoizes Select so callers observe the same Actions value until the
// inputs change.
type Resolver struct {
	mu      sync.Mutex
	last    Inputs
	actions Actions
}

func (r *Resolver) Resolve(in Inputs) Actions {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.actions != nil && sameInputs(r.last, in) {
		return r.actions
	}
	r.last = in
	r.actions = Select(in)
	return r.actions
}

func sameInputs(a, b Inputs) bool {
	return a.RPCURL == b.RPCURL &&
		a.ReceiptTimeout == b.ReceiptTimeout &&
		a.PollInterval == b.PollInterval &&
		sameRef(a.Wallet, b.Wallet) &&
		sameRef(a.Signer, b.Signer) &&
		sameRef(a.Provider, b.Provider)
}

// sameRef compares interface values without panicking on uncomparable dynamic types;
// those never compare equal.
func sameRef(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	return a == b
}

func present(v any) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return !rv.IsNil()
	}
	return true
}
