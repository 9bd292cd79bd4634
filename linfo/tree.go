package linfo

import "github.com/antchfx/xmlquery"

// The functions in this file navigate and edit the description tree.
// A nil node is an invalid position: navigation from it yields nil,
// queries on it yield empty values, and edits on it report failure.
// Text nodes are part of the navigation, just like elements.

func newElement(name string) *xmlquery.Node {
	return &xmlquery.Node{Type: xmlquery.ElementNode, Data: name}
}

func newText(value string) *xmlquery.Node {
	return &xmlquery.Node{Type: xmlquery.TextNode, Data: value}
}

// IsText reports whether n is a text (or CDATA) node.
func IsText(n *xmlquery.Node) bool {
	return n != nil && (n.Type == xmlquery.TextNode || n.Type == xmlquery.CharDataNode)
}

func isElement(n *xmlquery.Node) bool {
	return n != nil && n.Type == xmlquery.ElementNode
}

// canHaveChildren reports whether children may be added to n.
func canHaveChildren(n *xmlquery.Node) bool {
	return n != nil && (n.Type == xmlquery.ElementNode || n.Type == xmlquery.DocumentNode)
}

func FirstChild(n *xmlquery.Node) *xmlquery.Node {
	if n == nil {
		return nil
	}
	return n.FirstChild
}

func LastChild(n *xmlquery.Node) *xmlquery.Node {
	if n == nil {
		return nil
	}
	return n.LastChild
}

func NextSibling(n *xmlquery.Node) *xmlquery.Node {
	if n == nil {
		return nil
	}
	return n.NextSibling
}

func PreviousSibling(n *xmlquery.Node) *xmlquery.Node {
	if n == nil {
		return nil
	}
	return n.PrevSibling
}

// Parent returns n's parent element.
// The parent of the document's root element is nil.
func Parent(n *xmlquery.Node) *xmlquery.Node {
	if n == nil || !isElement(n.Parent) {
		return nil
	}
	return n.Parent
}

// Child returns the first child element of n with the given name.
func Child(n *xmlquery.Node, name string) *xmlquery.Node {
	if n == nil {
		return nil
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if isElement(c) && c.Data == name {
			return c
		}
	}
	return nil
}

// NextSiblingNamed returns the next sibling element with the given name.
func NextSiblingNamed(n *xmlquery.Node, name string) *xmlquery.Node {
	if n == nil {
		return nil
	}
	for s := n.NextSibling; s != nil; s = s.NextSibling {
		if isElement(s) && s.Data == name {
			return s
		}
	}
	return nil
}

// PreviousSiblingNamed returns the previous sibling element with the given name.
func PreviousSiblingNamed(n *xmlquery.Node, name string) *xmlquery.Node {
	if n == nil {
		return nil
	}
	for s := n.PrevSibling; s != nil; s = s.PrevSibling {
		if isElement(s) && s.Data == name {
			return s
		}
	}
	return nil
}

// Name returns the element name of n, or the empty string for other nodes.
func Name(n *xmlquery.Node) string {
	if !isElement(n) {
		return ""
	}
	return n.Data
}

// Value returns the text of a text node, or the empty string for other nodes.
func Value(n *xmlquery.Node) string {
	if !IsText(n) {
		return ""
	}
	return n.Data
}

// ChildValue returns the value of the first text child of n.
func ChildValue(n *xmlquery.Node) string {
	if n == nil {
		return ""
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if IsText(c) {
			return c.Data
		}
	}
	return ""
}

// ChildValueNamed returns the text of the first child element named name.
func ChildValueNamed(n *xmlquery.Node, name string) string {
	return ChildValue(Child(n, name))
}

// SetName renames an element.
// It reports false if n is not an element.
func SetName(n *xmlquery.Node, name string) bool {
	if !isElement(n) {
		return false
	}
	n.Data = name
	return true
}

// SetValue replaces the text of a text node.
// It reports false if n is not a text node.
func SetValue(n *xmlquery.Node, value string) bool {
	if !IsText(n) {
		return false
	}
	n.Data = value
	return true
}

// SetChildValue sets the text of the first child element named name.
// It reports false if there is no such element
// or if that element's first child is not a text node.
func SetChildValue(n *xmlquery.Node, name, value string) bool {
	return SetValue(FirstChild(Child(n, name)), value)
}

// AppendChildValue appends <name>value</name> to n and returns n.
func AppendChildValue(n *xmlquery.Node, name, value string) *xmlquery.Node {
	if !canHaveChildren(n) {
		return n
	}
	el := newElement(name)
	appendNode(el, newText(value))
	appendNode(n, el)
	return n
}

// PrependChildValue prepends <name>value</name> to n and returns n.
func PrependChildValue(n *xmlquery.Node, name, value string) *xmlquery.Node {
	if !canHaveChildren(n) {
		return n
	}
	el := newElement(name)
	appendNode(el, newText(value))
	prependNode(n, el)
	return n
}

// AppendChild appends a new empty element to n and returns it.
func AppendChild(n *xmlquery.Node, name string) *xmlquery.Node {
	if !canHaveChildren(n) {
		return nil
	}
	el := newElement(name)
	appendNode(n, el)
	return el
}

// PrependChild prepends a new empty element to n and returns it.
func PrependChild(n *xmlquery.Node, name string) *xmlquery.Node {
	if !canHaveChildren(n) {
		return nil
	}
	el := newElement(name)
	prependNode(n, el)
	return el
}

// AppendCopy appends a deep copy of src to n and returns the copy.
func AppendCopy(n, src *xmlquery.Node) *xmlquery.Node {
	if !canHaveChildren(n) || src == nil || src.Type == xmlquery.DocumentNode {
		return nil
	}
	c := CopyNode(src)
	appendNode(n, c)
	return c
}

// PrependCopy prepends a deep copy of src to n and returns the copy.
func PrependCopy(n, src *xmlquery.Node) *xmlquery.Node {
	if !canHaveChildren(n) || src == nil || src.Type == xmlquery.DocumentNode {
		return nil
	}
	c := CopyNode(src)
	prependNode(n, c)
	return c
}

// RemoveChild detaches c from n, if c is a child of n.
func RemoveChild(n, c *xmlquery.Node) {
	if n == nil || c == nil || c.Parent != n {
		return
	}
	detach(c)
}

// RemoveChildNamed detaches the first child element of n named name.
func RemoveChildNamed(n *xmlquery.Node, name string) {
	if c := Child(n, name); c != nil {
		detach(c)
	}
}

// CopyNode returns a deep copy of n, detached from any tree.
func CopyNode(n *xmlquery.Node) *xmlquery.Node {
	if n == nil {
		return nil
	}
	c := &xmlquery.Node{
		Type:         n.Type,
		Data:         n.Data,
		Prefix:       n.Prefix,
		NamespaceURI: n.NamespaceURI,
	}
	if len(n.Attr) > 0 {
		c.Attr = append(c.Attr, n.Attr...)
	}
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		appendNode(c, CopyNode(ch))
	}
	return c
}

func appendNode(parent, n *xmlquery.Node) {
	n.Parent = parent
	n.NextSibling = nil
	n.PrevSibling = parent.LastChild
	if parent.LastChild != nil {
		parent.LastChild.NextSibling = n
	} else {
		parent.FirstChild = n
	}
	parent.LastChild = n
}

func prependNode(parent, n *xmlquery.Node) {
	if parent.FirstChild == nil {
		appendNode(parent, n)
		return
	}
	insertBefore(parent.FirstChild, n)
}

// insertBefore links n into the tree immediately before ref.
func insertBefore(ref, n *xmlquery.Node) {
	parent := ref.Parent
	n.Parent = parent
	n.NextSibling = ref
	n.PrevSibling = ref.PrevSibling
	if ref.PrevSibling != nil {
		ref.PrevSibling.NextSibling = n
	} else if parent != nil {
		parent.FirstChild = n
	}
	ref.PrevSibling = n
}

func detach(n *xmlquery.Node) {
	p := n.Parent
	if n.PrevSibling != nil {
		n.PrevSibling.NextSibling = n.NextSibling
	} else if p != nil {
		p.FirstChild = n.NextSibling
	}
	if n.NextSibling != nil {
		n.NextSibling.PrevSibling = n.PrevSibling
	} else if p != nil {
		p.LastChild = n.PrevSibling
	}
	n.Parent, n.PrevSibling, n.NextSibling = nil, nil, nil
}

// setText replaces all children of el with a single text node.
func setText(el *xmlquery.Node, value string) {
	if c := el.FirstChild; c != nil && c == el.LastChild && IsText(c) {
		c.Data = value
		return
	}
	for c := el.FirstChild; c != nil; {
		next := c.NextSibling
		detach(c)
		c = next
	}
	appendNode(el, newText(value))
}
