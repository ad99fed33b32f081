package observer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-rod/rod/lib/proto"
)

const (
	nodeElement  = 1
	nodeText     = 3
	nodeComment  = 8
	nodeDocument = 9
	nodeDoctype  = 10
)

// nodeInfo is what the map knows about one CDP node.
type nodeInfo struct {
	ID      proto.DOMNodeID
	Backend proto.DOMBackendNodeID
	Type    int
	Tag     string
	XPath   string
}

// nodeMap mirrors the CDP node tree: parent links, ordered children,
// backend IDs and XPaths. CDP events carry only node IDs, so this is the
// only way to go from a changed text node to its element.
type nodeMap struct {
	mu        sync.RWMutex
	nodes     map[proto.DOMNodeID]*nodeInfo
	parent    map[proto.DOMNodeID]proto.DOMNodeID
	children  map[proto.DOMNodeID][]proto.DOMNodeID
	byBackend map[proto.DOMBackendNodeID]proto.DOMNodeID
	// tags holds element tag names, recorded before a node is walked so
	// sibling indexes count siblings that come later.
	tags map[proto.DOMNodeID]string
}

func newNodeMap() *nodeMap {
	nm := &nodeMap{}
	nm.reset()
	return nm
}

func (nm *nodeMap) reset() {
	nm.nodes = make(map[proto.DOMNodeID]*nodeInfo)
	nm.parent = make(map[proto.DOMNodeID]proto.DOMNodeID)
	nm.children = make(map[proto.DOMNodeID][]proto.DOMNodeID)
	nm.byBackend = make(map[proto.DOMBackendNodeID]proto.DOMNodeID)
	nm.tags = make(map[proto.DOMNodeID]string)
}

// buildFromDocument replaces the map with the tree returned by
// DOM.getDocument.
func (nm *nodeMap) buildFromDocument(root *proto.DOMNode) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	nm.reset()
	nm.recordTag(root)
	nm.walk(root, "")
}

// addNode registers a node inserted under parentID. CDP reports inserts
// after previousNodeID; zero means first child.
func (nm *nodeMap) addNode(parentID, previousID proto.DOMNodeID, node *proto.DOMNode) {
	if node == nil {
		return
	}
	nm.mu.Lock()
	defer nm.mu.Unlock()

	nm.parent[node.NodeID] = parentID
	kids := nm.children[parentID]
	at := 0
	if previousID != 0 {
		at = len(kids)
		for i, id := range kids {
			if id == previousID {
				at = i + 1
				break
			}
		}
	}
	kids = append(kids, 0)
	copy(kids[at+1:], kids[at:])
	kids[at] = node.NodeID
	nm.children[parentID] = kids
	nm.recordTag(node)

	parentPath := ""
	if p, ok := nm.nodes[parentID]; ok {
		parentPath = p.XPath
	}
	nm.walk(node, parentPath)
}

// setChildren records children pushed by DOM.setChildNodes.
func (nm *nodeMap) setChildren(parentID proto.DOMNodeID, nodes []*proto.DOMNode) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	for _, id := range nm.children[parentID] {
		nm.removeLocked(id)
	}
	nm.children[parentID] = nil

	parentPath := ""
	if p, ok := nm.nodes[parentID]; ok {
		parentPath = p.XPath
	}
	for _, n := range nodes {
		nm.parent[n.NodeID] = parentID
		nm.children[parentID] = append(nm.children[parentID], n.NodeID)
		nm.recordTag(n)
	}
	for _, n := range nodes {
		nm.walk(n, parentPath)
	}
}

// removeNode drops a node and its subtree.
func (nm *nodeMap) removeNode(id proto.DOMNodeID) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	if pid, ok := nm.parent[id]; ok {
		kids := nm.children[pid]
		for i, k := range kids {
			if k == id {
				nm.children[pid] = append(kids[:i], kids[i+1:]...)
				break
			}
		}
	}
	nm.removeLocked(id)
}

func (nm *nodeMap) removeLocked(id proto.DOMNodeID) {
	for _, c := range nm.children[id] {
		nm.removeLocked(c)
	}
	if info, ok := nm.nodes[id]; ok && nm.byBackend[info.Backend] == id {
		delete(nm.byBackend, info.Backend)
	}
	delete(nm.nodes, id)
	delete(nm.tags, id)
	delete(nm.parent, id)
	delete(nm.children, id)
}

// info returns a copy of what is known about id.
func (nm *nodeMap) info(id proto.DOMNodeID) (nodeInfo, bool) {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	if n, ok := nm.nodes[id]; ok {
		return *n, true
	}
	return nodeInfo{}, false
}

// infoByBackend looks a node up by its backend ID.
func (nm *nodeMap) infoByBackend(b proto.DOMBackendNodeID) (nodeInfo, bool) {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	id, ok := nm.byBackend[b]
	if !ok {
		return nodeInfo{}, false
	}
	if n, ok := nm.nodes[id]; ok {
		return *n, true
	}
	return nodeInfo{}, false
}

// parentOf returns the parent node ID of id.
func (nm *nodeMap) parentOf(id proto.DOMNodeID) (proto.DOMNodeID, bool) {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	p, ok := nm.parent[id]
	return p, ok
}

func (nm *nodeMap) size() int {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	return len(nm.nodes)
}

// walk must be called with the lock held and with parent links for node
// already recorded.
func (nm *nodeMap) walk(node *proto.DOMNode, parentPath string) {
	if node == nil {
		return
	}
	info := &nodeInfo{
		ID:      node.NodeID,
		Backend: node.BackendNodeID,
		Type:    node.NodeType,
		Tag:     strings.ToLower(node.NodeName),
	}
	info.XPath = nm.xpathOf(info, parentPath)
	nm.nodes[node.NodeID] = info
	if node.BackendNodeID != 0 {
		nm.byBackend[node.BackendNodeID] = node.NodeID
	}

	if len(node.Children) > 0 {
		nm.children[node.NodeID] = nm.children[node.NodeID][:0]
	}
	for _, c := range node.Children {
		nm.parent[c.NodeID] = node.NodeID
		nm.children[node.NodeID] = append(nm.children[node.NodeID], c.NodeID)
		nm.recordTag(c)
	}
	for _, c := range node.Children {
		nm.walk(c, info.XPath)
	}
	for _, sr := range node.ShadowRoots {
		nm.parent[sr.NodeID] = node.NodeID
		nm.walk(sr, info.XPath+"/shadow-root")
	}
}

func (nm *nodeMap) xpathOf(info *nodeInfo, parentPath string) string {
	switch info.Type {
	case nodeDocument:
		return ""
	case nodeDoctype:
		return parentPath
	case nodeText:
		return parentPath + "/text()"
	case nodeComment:
		return parentPath + "/comment()"
	case nodeElement:
	default:
		return parentPath + "/" + info.Tag
	}

	pid, ok := nm.parent[info.ID]
	if !ok {
		return parentPath + "/" + info.Tag
	}
	idx, total := 0, 0
	for _, sib := range nm.children[pid] {
		if nm.tags[sib] != info.Tag {
			continue
		}
		total++
		if sib == info.ID {
			idx = total
		}
	}
	if total > 1 {
		return fmt.Sprintf("%s/%s[%d]", parentPath, info.Tag, idx)
	}
	return parentPath + "/" + info.Tag
}

func (nm *nodeMap) recordTag(n *proto.DOMNode) {
	if n != nil && n.NodeType == nodeElement {
		nm.tags[n.NodeID] = strings.ToLower(n.NodeName)
	}
}
