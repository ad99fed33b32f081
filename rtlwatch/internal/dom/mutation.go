package dom

// MutationKind is the kind of structural change reported by a document.
type MutationKind int

const (
	// ChildInserted: a node was inserted. Node is nil when the inserted node
	// is not an element (text, comment).
	ChildInserted MutationKind = iota
	// CharacterData: a text node changed. Parent is its parent element.
	CharacterData
	// SubtreeChanged: children of Parent changed but the individual nodes
	// were not reported.
	SubtreeChanged
)

func (k MutationKind) String() string {
	switch k {
	case ChildInserted:
		return "insert"
	case CharacterData:
		return "text"
	case SubtreeChanged:
		return "subtree"
	default:
		return "unknown"
	}
}

// Mutation is one observed change scoped to the watched subtree.
type Mutation struct {
	Kind   MutationKind
	Node   Element
	Parent Element
}
