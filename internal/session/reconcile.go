package session

import "github.com/rmezapi/prototipo-cassa-gpt/internal/gateway"

// Reconciliation primitives. Each takes the previous list and a delta and
// returns the merged list; applying the same delta twice is a no-op.
//
// Identity of a message is its server id once both sides know one: two
// entries with distinct server ids are distinct messages even when their text
// repeats. The (speaker, text) fallback exists only to pair an entry that has
// no server id yet (a provisional send, a locally appended system note) with
// its server counterpart.

func sameIdentity(have Message, incoming gateway.Message) bool {
	if incoming.ID != "" && have.ID == incoming.ID {
		return true
	}
	if incoming.ID != "" && have.serverID {
		return false
	}
	return have.Speaker == incoming.Speaker && have.Text == incoming.Text
}

// confirmMessage merges a confirmed message into list. A provisional
// counterpart is promoted in place, adopting the incoming id when one is
// present. serverIssued records whether incoming ids came from the backend;
// only those pin an entry's identity for later merges. A message already
// present is left untouched.
func confirmMessage(list []Message, incoming gateway.Message, serverIssued bool) []Message {
	for i, have := range list {
		if !sameIdentity(have, incoming) {
			continue
		}
		if have.State == Confirmed && (incoming.ID == "" || !serverIssued || have.serverID) {
			return list
		}
		merged := have
		merged.State = Confirmed
		if incoming.ID != "" {
			merged.ID = incoming.ID
			merged.serverID = serverIssued
		}
		if have.State == Provisional {
			if !incoming.CreatedAt.IsZero() {
				merged.CreatedAt = incoming.CreatedAt
			}
			if len(incoming.Sources) > 0 {
				merged.Sources = incoming.Sources
			}
		}
		out := make([]Message, len(list))
		copy(out, list)
		out[i] = merged
		return out
	}
	return append(append([]Message(nil), list...), Message{
		Message:  incoming,
		State:    Confirmed,
		serverID: serverIssued && incoming.ID != "",
	})
}

// appendProvisional adds a locally created placeholder entry.
func appendProvisional(list []Message, m gateway.Message) []Message {
	return append(append([]Message(nil), list...), Message{Message: m, State: Provisional})
}

// dropProvisional removes the provisional entry with the given client id, if
// it is still provisional. Confirmed entries are never removed.
func dropProvisional(list []Message, id string) []Message {
	out := make([]Message, 0, len(list))
	for _, m := range list {
		if m.State == Provisional && m.ID == id {
			continue
		}
		out = append(out, m)
	}
	return out
}

// mergeFile adds a session file reference unless one with the same doc id is
// already present.
func mergeFile(files []gateway.FileRef, ref gateway.FileRef) []gateway.FileRef {
	for _, f := range files {
		if f.DocID == ref.DocID {
			return files
		}
	}
	return append(append([]gateway.FileRef(nil), files...), ref)
}
