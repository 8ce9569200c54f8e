package reputation

// trieNode is a byte-wise prefix tree over domain names. Lookup cost is
// proportional to the length of the queried hostname, independent of how
// many domains the index holds.
type trieNode struct {
	children map[byte]*trieNode
	terminal bool
}

func (n *trieNode) insert(domain string) {
	node := n
	for i := 0; i < len(domain); i++ {
		if node.children == nil {
			node.children = make(map[byte]*trieNode)
		}
		child, ok := node.children[domain[i]]
		if !ok {
			child = &trieNode{}
			node.children[domain[i]] = child
		}
		node = child
	}
	node.terminal = true
}

func (n *trieNode) search(domain string) bool {
	node := n
	for i := 0; i < len(domain); i++ {
		child, ok := node.children[domain[i]]
		if !ok {
			return false
		}
		node = child
	}
	return node.terminal
}
