// Package lane keeps conversation views: text notes ordered by creation time,
// an optional central note pinned first, and an index from event id to
// position used to route replies.
package lane

import (
	"nostr-lanes/internal/nostr"
	"nostr-lanes/internal/types"
)

// OpKind says what happened to the sequence.
type OpKind int

const (
	OpInsert OpKind = iota // a note was inserted at Position
	OpReply                // the note at Position got a reply
	OpUpdate               // the note at Position changed in place
)

func (k OpKind) String() string {
	switch k {
	case OpInsert:
		return "insert"
	case OpReply:
		return "reply"
	case OpUpdate:
		return "update"
	}
	return "unknown"
}

// Op is one change to a lane, for whoever renders it.
type Op struct {
	Kind     OpKind
	Position int
	ID       string // id of the note at Position
}

// Lane is not safe for concurrent use; View serializes access to one.
type Lane struct {
	name    string
	central string
	notes   []*Note
	index   map[string]int
}

// New creates an empty lane. central is the id of the note pinned first, or "".
func New(name, central string) *Lane {
	return &Lane{
		name:    name,
		central: central,
		index:   make(map[string]int),
	}
}

func (l *Lane) Name() string    { return l.name }
func (l *Lane) Central() string { return l.central }
func (l *Lane) Len() int        { return len(l.notes) }

// Position returns where the note with id sits.
func (l *Lane) Position(id string) (int, bool) {
	pos, ok := l.index[id]
	return pos, ok
}

// Notes returns a copy of the sequence.
func (l *Lane) Notes() []Note {
	out := make([]Note, len(l.notes))
	for i, n := range l.notes {
		out[i] = n.clone()
	}
	return out
}

// Submit handles a text note: a reply is routed to its parent if the parent
// is here, and the note is inserted unless it already is.
func (l *Lane) Submit(tn types.TextNote) []Op {
	var ops []Op
	id := tn.Event.ID

	if parent, ok := nostr.RepliesTo(&tn.Event); ok && parent != id {
		if pos, ok := l.index[parent]; ok && l.notes[pos].addReply(id) {
			ops = append(ops, Op{Kind: OpReply, Position: pos, ID: parent})
		}
	}

	if _, ok := l.index[id]; ok {
		return ops
	}

	central := l.central != "" && id == l.central
	pos := l.insertionPoint(central, tn.Event.CreatedAt)
	l.insertAt(pos, newNote(tn, central))
	return append(ops, Op{Kind: OpInsert, Position: pos, ID: id})
}

// insertionPoint is 0 for the central note, else the position of the first
// note created strictly later, else the end. A pinned central note is skipped.
func (l *Lane) insertionPoint(central bool, createdAt int64) int {
	if central {
		return 0
	}
	start := 0
	if len(l.notes) > 0 && l.notes[0].Central {
		start = 1
	}
	for i := start; i < len(l.notes); i++ {
		if l.notes[i].Event.CreatedAt > createdAt {
			return i
		}
	}
	return len(l.notes)
}

func (l *Lane) insertAt(pos int, n *Note) {
	l.notes = append(l.notes, nil)
	copy(l.notes[pos+1:], l.notes[pos:])
	l.notes[pos] = n

	// everything from pos on moved by one
	for i := pos; i < len(l.notes); i++ {
		l.index[l.notes[i].Event.ID] = i
	}
}

func (l *Lane) broadcast(apply func(*Note) bool) []Op {
	var ops []Op
	for i, n := range l.notes {
		if apply(n) {
			ops = append(ops, Op{Kind: OpUpdate, Position: i, ID: n.Event.ID})
		}
	}
	return ops
}

// BroadcastProfile offers a new profile to every note; notes by that author take it.
func (l *Lane) BroadcastProfile(persona types.Persona) []Op {
	return l.broadcast(func(n *Note) bool { return n.applyProfile(persona) })
}

// BroadcastAvatar offers a freshly cached avatar file of pubkey.
func (l *Lane) BroadcastAvatar(pubkey, path string) []Op {
	return l.broadcast(func(n *Note) bool { return n.applyAvatar(pubkey, path) })
}

// BroadcastReaction offers a reaction; the reacted-to note records it.
func (l *Lane) BroadcastReaction(eventID, content string) []Op {
	return l.broadcast(func(n *Note) bool { return n.applyReaction(eventID, content) })
}

// BroadcastVerification marks notes by pubkey as NIP-05 verified.
func (l *Lane) BroadcastVerification(pubkey string) []Op {
	return l.broadcast(func(n *Note) bool { return n.applyVerification(pubkey) })
}

// Apply routes a pipeline record to the matching operation.
func (l *Lane) Apply(rec types.Record) []Op {
	switch r := rec.(type) {
	case types.TextNote:
		return l.Submit(r)
	case types.Reaction:
		return l.BroadcastReaction(r.EventID, r.Content)
	case types.MetadataUpdate:
		ops := l.BroadcastProfile(r.Persona)
		if r.Avatar != "" {
			ops = append(ops, l.BroadcastAvatar(r.Persona.PubKey, r.Avatar)...)
		}
		if r.Persona.Nip05Verified {
			ops = append(ops, l.BroadcastVerification(r.Persona.PubKey)...)
		}
		return ops
	}
	return nil
}
