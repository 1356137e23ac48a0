package core

import (
	"fmt"
	"strings"
)

// Verb is the operation requested for a package
type Verb string

const (
	VerbInstall   Verb = "install"
	VerbUninstall Verb = "uninstall"
)

// Valid reports whether v is a known verb
func (v Verb) Valid() bool {
	return v == VerbInstall || v == VerbUninstall
}

// MarshalText implements encoding.TextMarshaler
func (v Verb) MarshalText() ([]byte, error) {
	if !v.Valid() {
		return nil, fmt.Errorf("invalid verb: %q", string(v))
	}
	return []byte(v), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (v *Verb) UnmarshalText(text []byte) error {
	parsed := Verb(strings.ToLower(string(text)))
	if !parsed.Valid() {
		return fmt.Errorf("invalid verb: %q", string(text))
	}
	*v = parsed
	return nil
}

// Scope is the installation target of a package action
type Scope string

const (
	ScopeSystem Scope = "system"
	ScopeUser   Scope = "user"
)

// Valid reports whether s is a known scope
func (s Scope) Valid() bool {
	return s == ScopeSystem || s == ScopeUser
}

// MarshalText implements encoding.TextMarshaler
func (s Scope) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid scope: %q", string(s))
	}
	return []byte(s), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *Scope) UnmarshalText(text []byte) error {
	parsed := Scope(strings.ToLower(string(text)))
	if !parsed.Valid() {
		return fmt.Errorf("invalid scope: %q", string(text))
	}
	*s = parsed
	return nil
}

// PackageAction is one item of a transaction request
type PackageAction struct {
	Key    PackageKey `json:"key" cbor:"key"`
	Action Verb       `json:"action" cbor:"action"`
	Target Scope      `json:"target" cbor:"target"`
}

// Install builds an install action for key in the given scope
func Install(key PackageKey, target Scope) PackageAction {
	return PackageAction{Key: key, Action: VerbInstall, Target: target}
}

// Uninstall builds an uninstall action for key in the given scope
func Uninstall(key PackageKey, target Scope) PackageAction {
	return PackageAction{Key: key, Action: VerbUninstall, Target: target}
}

// Validate checks that the action is well formed
func (a PackageAction) Validate() error {
	if a.Key.IsZero() {
		return fmt.Errorf("package action has empty key")
	}
	if !a.Action.Valid() {
		return fmt.Errorf("package action %s: invalid verb %q", a.Key, a.Action)
	}
	if !a.Target.Valid() {
		return fmt.Errorf("package action %s: invalid target %q", a.Key, a.Target)
	}
	return nil
}

func (a PackageAction) String() string {
	return fmt.Sprintf("%s %s (%s)", a.Action, a.Key, a.Target)
}

// ResolvedAction is a PackageAction enriched by the package engine once a
// transaction has been accepted. Name and Version are authoritative.
type ResolvedAction struct {
	PackageAction
	Name    string `json:"name" cbor:"name"`
	Version string `json:"version" cbor:"version"`
}

// TransactionID identifies a live transaction. IDs are unique among live
// transactions and may be reused once a transaction has terminated.
type TransactionID uint32

// RequiresPrivilege reports whether any action targets the system scope
func RequiresPrivilege(actions []PackageAction) bool {
	for _, a := range actions {
		if a.Target == ScopeSystem {
			return true
		}
	}
	return false
}

// Exit codes
const (
	ExitSuccess           = 0
	ExitGeneral           = 1
	ExitInvalidArgs       = 2
	ExitTransactionFailed = 3
	ExitHelperUnavailable = 4
	ExitDatabase          = 5
	ExitPermission        = 6
	ExitInterrupted       = 130
)
