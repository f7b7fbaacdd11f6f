package roster

import "errors"

// Sentinel errors surfaced by the engine, matching the error kinds named
// in the error handling design: InvalidStanza, NotInRoster, and Pending.
// Wrap with fmt.Errorf("%w: ...") at call sites that have more context to
// add; callers use errors.Is to check kind.
var (
	// ErrInvalidStanza is returned by Fetch when the roster reply lacks a
	// <query xmlns='jabber:iq:roster'/> child. A malformed push is answered
	// with an IQ error instead and never surfaces this value.
	ErrInvalidStanza = errors.New("roster: invalid stanza")

	// ErrNotInRoster is returned by a mutation referring to a contact the
	// engine does not currently hold.
	ErrNotInRoster = errors.New("roster: contact not in roster")

	// ErrPending is returned by Fetch when a previous fetch has not yet
	// completed.
	ErrPending = errors.New("roster: fetch already in progress")

	// ErrCancelled names the cancellation error kind. The engine itself
	// does not produce it: a cancelled operation completes with whatever
	// error the Porter's IQCallback reports for the cancelled context, and
	// a server-side effect already triggered is not undone.
	ErrCancelled = errors.New("roster: operation cancelled")
)
