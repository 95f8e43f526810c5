package sync

import "github.com/matheus3301/crmsync/internal/store"

// Delta is the set of records one stream must transmit in a single attempt.
type Delta struct {
	Stream   store.Stream
	Contacts []store.ContactChange
	Calls    []store.CallLog

	// Snapshot is the full device contact state, committed as the new
	// snapshot once the contacts delta is acknowledged.
	Snapshot []store.Contact
}

// Len returns the number of records in the delta.
func (d Delta) Len() int {
	if d.Stream == store.StreamCalls {
		return len(d.Calls)
	}
	return len(d.Contacts)
}

// Empty reports whether there is nothing to transmit.
func (d Delta) Empty() bool {
	return d.Len() == 0
}

// MaxTimestamp returns the newest call timestamp in the delta, or 0.
func (d Delta) MaxTimestamp() int64 {
	var newest int64
	for _, c := range d.Calls {
		if c.Timestamp > newest {
			newest = c.Timestamp
		}
	}
	return newest
}

// Counts tallies contact changes by status.
func (d Delta) Counts() map[store.SyncStatus]int {
	out := make(map[store.SyncStatus]int)
	for _, c := range d.Contacts {
		out[c.Status]++
	}
	return out
}
