package lane

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"nostr-lanes/internal/testutil"
	"nostr-lanes/internal/types"
)

func textNote(id string, createdAt int64, tags ...[]string) types.TextNote {
	return types.TextNote{Event: testutil.Note(id, createdAt, tags...)}
}

func ids(l *Lane) []string {
	var out []string
	for _, n := range l.Notes() {
		out = append(out, n.Event.ID)
	}
	return out
}

// checkInvariants verifies ordering, the central pin and index consistency.
func checkInvariants(t *testing.T, l *Lane) {
	t.Helper()
	require.Len(t, l.index, len(l.notes), "index has extraneous or missing entries")

	start := 0
	for i, n := range l.notes {
		pos, ok := l.index[n.Event.ID]
		require.True(t, ok, "note %s not indexed", n.Event.ID)
		require.Equal(t, i, pos, "index of %s", n.Event.ID)

		if n.Central {
			require.Equal(t, 0, i, "central note not first")
			start = 1
		}
	}
	for i := start + 1; i < len(l.notes); i++ {
		require.LessOrEqual(t, l.notes[i-1].Event.CreatedAt, l.notes[i].Event.CreatedAt,
			"notes %d and %d out of order", i-1, i)
	}
}

func TestSubmit_OrdersByTimestamp(t *testing.T) {
	l := New("main", "")
	l.Submit(textNote("A", 100))
	l.Submit(textNote("B", 50))
	l.Submit(textNote("C", 75))
	require.Equal(t, []string{"B", "C", "A"}, ids(l))
	checkInvariants(t, l)

	ops := l.Submit(textNote("A", 100))
	require.Empty(t, ops)
	require.Equal(t, []string{"B", "C", "A"}, ids(l))
	checkInvariants(t, l)
}

func TestSubmit_EqualTimestampsKeepArrivalOrder(t *testing.T) {
	l := New("main", "")
	l.Submit(textNote("first", 10))
	l.Submit(textNote("second", 10))
	l.Submit(textNote("older", 5))
	require.Equal(t, []string{"older", "first", "second"}, ids(l))
	checkInvariants(t, l)
}

func TestSubmit_CentralNotePinned(t *testing.T) {
	l := New("thread", "X")
	l.Submit(textNote("A", 10))
	ops := l.Submit(textNote("X", 9999))
	require.Equal(t, []Op{{Kind: OpInsert, Position: 0, ID: "X"}}, ops)
	require.Equal(t, []string{"X", "A"}, ids(l))

	// older than the central note, still goes after it
	l.Submit(textNote("B", 1))
	require.Equal(t, []string{"X", "B", "A"}, ids(l))
	require.True(t, l.Notes()[0].Central)
	checkInvariants(t, l)
}

func TestSubmit_IndexFollowsShifts(t *testing.T) {
	l := New("main", "")
	l.Submit(textNote("late", 300))
	l.Submit(textNote("mid", 200))
	l.Submit(textNote("early", 100))

	for id, want := range map[string]int{"early": 0, "mid": 1, "late": 2} {
		pos, ok := l.Position(id)
		require.True(t, ok)
		require.Equal(t, want, pos, id)
	}
	_, ok := l.Position("missing")
	require.False(t, ok)
}

func TestSubmit_ReplyRouting(t *testing.T) {
	l := New("main", "")
	l.Submit(textNote("A", 500))

	ops := l.Submit(textNote("B", 100, []string{"e", "A", "", "reply"}))
	require.Equal(t, []Op{
		{Kind: OpReply, Position: 0, ID: "A"},
		{Kind: OpInsert, Position: 0, ID: "B"},
	}, ops)

	// B is placed by its own timestamp, before its parent
	require.Equal(t, []string{"B", "A"}, ids(l))
	parent := l.Notes()[1]
	require.Equal(t, []string{"B"}, parent.Replies)

	// a repeated delivery does not notify again
	require.Empty(t, l.Submit(textNote("B", 100, []string{"e", "A", "", "reply"})))
	require.Equal(t, []string{"B"}, l.Notes()[1].Replies)
	checkInvariants(t, l)
}

func TestSubmit_ReplyTargetResolution(t *testing.T) {
	l := New("main", "")
	l.Submit(textNote("root", 1))
	l.Submit(textNote("parent", 2))

	// positional: the last plain e-tag is the parent
	l.Submit(textNote("r1", 3, []string{"e", "root"}, []string{"e", "parent"}))
	// marker beats position
	l.Submit(textNote("r2", 4, []string{"e", "parent", "", "reply"}, []string{"e", "root"}))
	// unknown parent: inserted, nothing routed
	ops := l.Submit(textNote("r3", 5, []string{"e", "elsewhere"}))
	require.Equal(t, []Op{{Kind: OpInsert, Position: 4, ID: "r3"}}, ops)

	notes := l.Notes()
	require.Empty(t, notes[0].Replies)
	require.Equal(t, []string{"r1", "r2"}, notes[1].Replies)
}

func TestBroadcasts(t *testing.T) {
	l := New("main", "")
	a := textNote("A", 1)
	a.Event.PubKey = "alice"
	b := textNote("B", 2)
	b.Event.PubKey = "bob"
	c := textNote("C", 3)
	c.Event.PubKey = "alice"
	l.Submit(a)
	l.Submit(b)
	l.Submit(c)

	ops := l.BroadcastProfile(types.Persona{PubKey: "alice", Name: "Alice"})
	require.Equal(t, []Op{{OpUpdate, 0, "A"}, {OpUpdate, 2, "C"}}, ops)
	require.Equal(t, "Alice", l.Notes()[2].Author.Name)
	require.Nil(t, l.Notes()[1].Author)

	ops = l.BroadcastReaction("B", "+")
	require.Equal(t, []Op{{OpUpdate, 1, "B"}}, ops)
	l.BroadcastReaction("B", "🤙")
	require.Equal(t, []string{"+", "🤙"}, l.Notes()[1].Reactions)

	ops = l.BroadcastVerification("alice")
	require.Len(t, ops, 2)
	require.True(t, l.Notes()[0].Verified)
	require.True(t, l.Notes()[0].Author.Nip05Verified)
	require.Empty(t, l.BroadcastVerification("alice"), "already verified")

	ops = l.BroadcastAvatar("bob", "/cache/bob")
	require.Equal(t, []Op{{OpUpdate, 1, "B"}}, ops)
	require.Equal(t, "/cache/bob", l.Notes()[1].Avatar)

	require.Equal(t, []string{"A", "B", "C"}, ids(l), "broadcasts never reorder")
}

func TestApply(t *testing.T) {
	l := New("main", "")
	note := textNote("A", 1, []string{"client", "gnostique"})
	note.Event.PubKey = "alice"
	note.Relays = []string{"wss://a.example"}
	l.Apply(note)

	l.Apply(types.Reaction{EventID: "A", Content: "+"})
	l.Apply(types.MetadataUpdate{
		Persona: types.Persona{PubKey: "alice", Name: "Alice", Nip05: "alice@example.com", Nip05Verified: true},
		Avatar:  "/cache/alice",
	})

	n := l.Notes()[0]
	require.Equal(t, "gnostique", n.Client)
	require.Equal(t, []string{"wss://a.example"}, n.Relays)
	require.Equal(t, []string{"+"}, n.Reactions)
	require.Equal(t, "Alice", n.Author.Name)
	require.Equal(t, "/cache/alice", n.Avatar)
	require.True(t, n.Verified)
}

func TestNotesIsACopy(t *testing.T) {
	l := New("main", "")
	l.Submit(textNote("A", 1))

	snapshot := l.Notes()
	snapshot[0].Replies = append(snapshot[0].Replies, "bogus")
	snapshot[0].Event.ID = "changed"

	require.Equal(t, []string{"A"}, ids(l))
	require.Empty(t, l.Notes()[0].Replies)
}

// Any arrival order of the same notes ends in the same sequence, and
// resubmitting changes nothing.
func TestRandomArrivalOrderConverges(t *testing.T) {
	var notes []types.TextNote
	for i := 0; i < 40; i++ {
		// distinct timestamps so the final order is fully determined
		notes = append(notes, textNote(fmt.Sprintf("n%02d", i), int64(1000-i*7)))
	}
	notes = append(notes, textNote("X", 500))

	var want []string
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 50; round++ {
		rng.Shuffle(len(notes), func(i, j int) { notes[i], notes[j] = notes[j], notes[i] })

		l := New("thread", "X")
		for _, n := range notes {
			l.Submit(n)
			checkInvariants(t, l)
		}
		for _, n := range notes[:10] {
			l.Submit(n)
		}
		checkInvariants(t, l)

		got := ids(l)
		require.Equal(t, "X", got[0])
		if want == nil {
			want = got
		}
		require.Equal(t, want, got, "round %d", round)
	}
}
