package observer

import (
	"testing"

	"github.com/go-rod/rod/lib/proto"
)

func el(id int, tag string, children ...*proto.DOMNode) *proto.DOMNode {
	return &proto.DOMNode{
		NodeID:        proto.DOMNodeID(id),
		BackendNodeID: proto.DOMBackendNodeID(id + 1000),
		NodeType:      nodeElement,
		NodeName:      tag,
		Children:      children,
	}
}

func text(id int) *proto.DOMNode {
	return &proto.DOMNode{NodeID: proto.DOMNodeID(id), NodeType: nodeText, NodeName: "#text"}
}

func testDocument() *proto.DOMNode {
	return &proto.DOMNode{
		NodeID:   1,
		NodeType: nodeDocument,
		NodeName: "#document",
		Children: []*proto.DOMNode{
			el(2, "HTML",
				el(3, "HEAD"),
				el(4, "BODY",
					el(5, "P", text(6)),
					el(7, "DIV"),
					el(8, "P", text(9)),
				),
			),
		},
	}
}

func TestNodeMapXPaths(t *testing.T) {
	nm := newNodeMap()
	nm.buildFromDocument(testDocument())

	cases := map[proto.DOMNodeID]string{
		2: "/html",
		4: "/html/body",
		5: "/html/body/p[1]",
		7: "/html/body/div",
		8: "/html/body/p[2]",
		9: "/html/body/p[2]/text()",
	}
	for id, want := range cases {
		info, ok := nm.info(id)
		if !ok {
			t.Fatalf("node %d missing", id)
		}
		if info.XPath != want {
			t.Errorf("node %d: xpath = %q, want %q", id, info.XPath, want)
		}
	}
	if info, _ := nm.info(5); info.Tag != "p" || info.Backend != 1005 {
		t.Errorf("info(5) = %+v", info)
	}
}

func TestNodeMapParentOfText(t *testing.T) {
	nm := newNodeMap()
	nm.buildFromDocument(testDocument())

	pid, ok := nm.parentOf(9)
	if !ok || pid != 8 {
		t.Fatalf("parentOf(9) = %d, %v; want 8", pid, ok)
	}
}

func TestNodeMapAddAfterPrevious(t *testing.T) {
	nm := newNodeMap()
	nm.buildFromDocument(testDocument())

	nm.addNode(4, 5, el(20, "SPAN", text(21)))
	if kids := nm.children[4]; len(kids) != 4 || kids[1] != 20 {
		t.Fatalf("children(body) = %v, want span second", kids)
	}
	info, ok := nm.info(20)
	if !ok || info.XPath != "/html/body/span" {
		t.Errorf("span = %+v", info)
	}
	if pid, _ := nm.parentOf(21); pid != 20 {
		t.Errorf("parentOf(21) = %d", pid)
	}

	nm.addNode(4, 0, el(22, "P"))
	if kids := nm.children[4]; kids[0] != 22 {
		t.Errorf("children(body) = %v, want new p first", kids)
	}
	if info, _ := nm.info(22); info.XPath != "/html/body/p[1]" {
		t.Errorf("new p xpath = %q", info.XPath)
	}
}

func TestNodeMapRemoveSubtree(t *testing.T) {
	nm := newNodeMap()
	nm.buildFromDocument(testDocument())
	before := nm.size()

	nm.removeNode(8)
	if _, ok := nm.info(8); ok {
		t.Error("node 8 still present")
	}
	if _, ok := nm.info(9); ok {
		t.Error("child text 9 still present")
	}
	if _, ok := nm.infoByBackend(1008); ok {
		t.Error("backend index still holds 1008")
	}
	if got := nm.size(); got != before-2 {
		t.Errorf("size = %d, want %d", got, before-2)
	}
	for _, id := range nm.children[4] {
		if id == 8 {
			t.Error("body still lists 8")
		}
	}
}

func TestNodeMapSetChildren(t *testing.T) {
	nm := newNodeMap()
	nm.buildFromDocument(testDocument())

	nm.setChildren(7, []*proto.DOMNode{el(30, "LI"), el(31, "LI")})
	a, _ := nm.info(30)
	b, _ := nm.info(31)
	if a.XPath != "/html/body/div/li[1]" || b.XPath != "/html/body/div/li[2]" {
		t.Errorf("xpaths = %q, %q", a.XPath, b.XPath)
	}
	if info, ok := nm.infoByBackend(1031); !ok || info.ID != 31 {
		t.Errorf("infoByBackend(1031) = %+v, %v", info, ok)
	}
}

func TestElementKey(t *testing.T) {
	if got := newElement(nil, nil, nodeInfo{ID: 5, Backend: 1005}).Key(); got != "b1005" {
		t.Errorf("Key = %q", got)
	}
	if got := newElement(nil, nil, nodeInfo{ID: 5}).Key(); got != "n5" {
		t.Errorf("Key = %q", got)
	}
}
