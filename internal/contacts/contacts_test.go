package contacts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddAndRender(t *testing.T) {
	r := NewRegistry()

	r.Add("a", Contact{PeerID: "p", Label: LabelParent, Note: "spawned you"})
	r.Add("a", Contact{PeerID: "c1", Label: LabelChild})

	block := r.RenderBlock("a")
	assert.Contains(t, block, "## Contacts")
	assert.Contains(t, block, "- p (parent): spawned you")
	assert.Contains(t, block, "- c1 (child)")

	assert.Equal(t, "", r.RenderBlock("stranger"))
}

func TestInsertionOrderStable(t *testing.T) {
	r := NewRegistry()

	r.Add("a", Contact{PeerID: "one", Label: LabelPeer})
	r.Add("a", Contact{PeerID: "two", Label: LabelPeer})
	r.Add("a", Contact{PeerID: "three", Label: LabelPeer})
	// Re-adding refreshes the label but keeps position.
	r.Add("a", Contact{PeerID: "one", Label: LabelCollaborator})

	got := r.Contacts("a")
	assert.Equal(t, []string{"one", "two", "three"}, []string{got[0].PeerID, got[1].PeerID, got[2].PeerID})
	assert.Equal(t, LabelCollaborator, got[0].Label)
}

func TestAddIfAbsent(t *testing.T) {
	r := NewRegistry()

	r.Add("a", Contact{PeerID: "p", Label: LabelParent})
	assert.False(t, r.AddIfAbsent("a", Contact{PeerID: "p", Label: LabelPeer}))
	assert.True(t, r.AddIfAbsent("a", Contact{PeerID: "s", Label: LabelPeer}))

	got := r.Contacts("a")
	assert.Equal(t, LabelParent, got[0].Label)
}

func TestSelfAndEmptyIgnored(t *testing.T) {
	r := NewRegistry()

	r.Add("a", Contact{PeerID: "a", Label: LabelPeer})
	r.Add("a", Contact{PeerID: "", Label: LabelPeer})
	assert.Empty(t, r.Contacts("a"))
}

func TestRemoveAgentScrubsAllBooks(t *testing.T) {
	r := NewRegistry()

	r.Add("a", Contact{PeerID: "b", Label: LabelChild})
	r.Add("a", Contact{PeerID: "c", Label: LabelChild})
	r.Add("b", Contact{PeerID: "a", Label: LabelParent})

	r.RemoveAgent("b")

	assert.Empty(t, r.Contacts("b"))
	got := r.Contacts("a")
	assert.Len(t, got, 1)
	assert.Equal(t, "c", got[0].PeerID)
}
