package types

// Record is an enriched, display-ready unit emitted by the notification pipeline.
// Implemented by TextNote, Reaction and MetadataUpdate.
type Record interface {
	record()
}

// TextNote is a kind 1 event together with what we know about it.
type TextNote struct {
	Event  Event
	Relays []string // every relay known to have delivered Event.ID
	Author *Persona // nil when the author has not been seen yet
	Avatar string   // local path of the cached avatar, "" if none
}

// Reaction is a kind 7 event reduced to its target and content.
type Reaction struct {
	EventID string
	Content string
}

// MetadataUpdate carries a freshly received profile.
type MetadataUpdate struct {
	Persona Persona
	Avatar  string // local path of the cached avatar, "" if none
}

func (TextNote) record()       {}
func (Reaction) record()       {}
func (MetadataUpdate) record() {}
