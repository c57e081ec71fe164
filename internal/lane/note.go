package lane

import (
	"nostr-lanes/internal/nostr"
	"nostr-lanes/internal/types"
)

// Note is one text note in a lane with everything learned about it since.
type Note struct {
	Event     types.Event
	Relays    []string
	Author    *types.Persona
	Avatar    string // local avatar file, "" if none
	Client    string // from the client tag
	Central   bool
	Verified  bool     // author's NIP-05 claim checked out
	Replies   []string // ids of replies seen so far, in arrival order
	Reactions []string // reaction contents, in arrival order
}

func newNote(tn types.TextNote, central bool) *Note {
	client, _ := nostr.Client(&tn.Event)
	n := &Note{
		Event:   tn.Event,
		Relays:  tn.Relays,
		Avatar:  tn.Avatar,
		Client:  client,
		Central: central,
	}
	if tn.Author != nil {
		author := *tn.Author
		n.Author = &author
		n.Verified = author.Nip05Verified
	}
	return n
}

// The apply methods report whether the note changed.

func (n *Note) addReply(id string) bool {
	for _, r := range n.Replies {
		if r == id {
			return false
		}
	}
	n.Replies = append(n.Replies, id)
	return true
}

func (n *Note) applyProfile(persona types.Persona) bool {
	if n.Event.PubKey != persona.PubKey {
		return false
	}
	n.Author = &persona
	n.Verified = persona.Nip05Verified
	return true
}

func (n *Note) applyAvatar(pubkey, path string) bool {
	if n.Event.PubKey != pubkey || n.Avatar == path {
		return false
	}
	n.Avatar = path
	return true
}

func (n *Note) applyReaction(eventID, content string) bool {
	if n.Event.ID != eventID {
		return false
	}
	n.Reactions = append(n.Reactions, content)
	return true
}

func (n *Note) applyVerification(pubkey string) bool {
	if n.Event.PubKey != pubkey || n.Verified {
		return false
	}
	n.Verified = true
	if n.Author != nil {
		n.Author.Nip05Verified = true
	}
	return true
}

// clone returns a copy that shares nothing mutable with n.
func (n *Note) clone() Note {
	c := *n
	c.Relays = append([]string(nil), n.Relays...)
	c.Replies = append([]string(nil), n.Replies...)
	c.Reactions = append([]string(nil), n.Reactions...)
	if n.Author != nil {
		author := *n.Author
		c.Author = &author
	}
	return c
}
