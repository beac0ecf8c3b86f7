package dispatch

import "fmt"

// Emote is one soul-table entry: a verb, optionally aimed at a target,
// that produces a fixed message to the actor and a third-person message
// shown to the room (the targeted form when a target is named).
type Emote struct {
	Verb         string
	ToRoom       string // e.g. "%s smiles."
	ToRoomTarget string // e.g. "%s smiles at %s."
	ToSelf       string // e.g. "You smile."
}

// defaultEmotes is the built-in soul table, grounded on the handful of
// social verbs every LPMud-style driver ships by default.
var defaultEmotes = []Emote{
	{Verb: "smile", ToRoom: "%s smiles.", ToRoomTarget: "%s smiles at %s.", ToSelf: "You smile."},
	{Verb: "wave", ToRoom: "%s waves.", ToRoomTarget: "%s waves at %s.", ToSelf: "You wave."},
	{Verb: "nod", ToRoom: "%s nods.", ToRoomTarget: "%s nods at %s.", ToSelf: "You nod."},
	{Verb: "laugh", ToRoom: "%s laughs.", ToRoomTarget: "%s laughs at %s.", ToSelf: "You laugh."},
	{Verb: "bow", ToRoom: "%s bows.", ToRoomTarget: "%s bows to %s.", ToSelf: "You bow."},
}

// EmoteTable looks up emotes by verb.
type EmoteTable struct {
	byVerb map[string]Emote
}

// NewEmoteTable builds an EmoteTable from the built-in soul list.
func NewEmoteTable() *EmoteTable {
	t := &EmoteTable{byVerb: make(map[string]Emote, len(defaultEmotes))}
	for _, e := range defaultEmotes {
		t.byVerb[e.Verb] = e
	}
	return t
}

// Find returns the emote registered for verb.
func (t *EmoteTable) Find(verb string) (Emote, bool) {
	e, ok := t.byVerb[verb]
	return e, ok
}

// Render produces the self-facing and room-facing message for actorName
// performing e, optionally directed at targetName.
func (e Emote) Render(actorName, targetName string) (self, room string) {
	if targetName != "" && e.ToRoomTarget != "" {
		return e.ToSelf, fmt.Sprintf(e.ToRoomTarget, actorName, targetName)
	}
	return e.ToSelf, fmt.Sprintf(e.ToRoom, actorName)
}
