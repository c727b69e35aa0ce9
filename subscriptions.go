package clustermq

// subscriptions is a reference-counted byte trie of topic prefixes.
// Subscribing twice to the same prefix needs two unsubscribes to remove it.
// Not safe for concurrent use; the owner locks.
type subscriptions struct {
	root subNode
	n    int
}

type subNode struct {
	refs     int
	children map[byte]*subNode
}

func newSubscriptions() *subscriptions {
	return &subscriptions{}
}

// Add returns true if prefix was not subscribed before.
func (t *subscriptions) Add(prefix []byte) bool {
	node := &t.root
	for _, b := range prefix {
		if node.children == nil {
			node.children = make(map[byte]*subNode)
		}
		child, ok := node.children[b]
		if !ok {
			child = new(subNode)
			node.children[b] = child
		}
		node = child
	}
	node.refs++
	if node.refs == 1 {
		t.n++
		return true
	}
	return false
}

// Remove returns true if the last reference to prefix was dropped.
func (t *subscriptions) Remove(prefix []byte) bool {
	path := make([]*subNode, 0, len(prefix)+1)
	node := &t.root
	path = append(path, node)
	for _, b := range prefix {
		child, ok := node.children[b]
		if !ok {
			return false
		}
		node = child
		path = append(path, node)
	}
	if node.refs == 0 {
		return false
	}
	node.refs--
	if node.refs > 0 {
		return false
	}
	t.n--

	// prune branches that carry no subscription anymore
	for i := len(path) - 1; i > 0; i-- {
		n := path[i]
		if n.refs > 0 || len(n.children) > 0 {
			break
		}
		delete(path[i-1].children, prefix[i-1])
	}
	return true
}

// Match reports whether any subscribed prefix is a prefix of topic.
func (t *subscriptions) Match(topic []byte) bool {
	node := &t.root
	if node.refs > 0 {
		return true
	}
	for _, b := range topic {
		child, ok := node.children[b]
		if !ok {
			return false
		}
		if child.refs > 0 {
			return true
		}
		node = child
	}
	return false
}

// Number of distinct prefixes.
func (t *subscriptions) Len() int {
	return t.n
}

// Prefixes returns every distinct subscribed prefix, in byte order.
func (t *subscriptions) Prefixes() [][]byte {
	out := make([][]byte, 0, t.n)
	var walk func(n *subNode, prefix []byte)
	walk = func(n *subNode, prefix []byte) {
		if n.refs > 0 {
			out = append(out, append([]byte{}, prefix...))
		}
		for b := 0; b < 256 && len(n.children) > 0; b++ {
			if child, ok := n.children[byte(b)]; ok {
				walk(child, append(prefix, byte(b)))
			}
		}
	}
	walk(&t.root, nil)
	return out
}
