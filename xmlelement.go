package lsl

import (
	"fmt"

	"github.com/antchfx/xmlquery"

	"github.com/gordian-engine/lsl/linfo"
)

// XMLElement is a cursor into the description tree of a [StreamInfo].
//
// Navigation never fails: moving to a node that does not exist
// yields an invalid element, on which every further navigation
// also yields an invalid element.
//
// A cursor keeps its tree alive independently of the StreamInfo it came from.
// Mutations are visible through every cursor into the same tree.
//
// String arguments must not contain NUL bytes; methods panic if they do.
type XMLElement struct {
	n *xmlquery.Node
}

func mustText(args ...string) {
	for _, s := range args {
		if hasNUL(s) {
			panic(fmt.Errorf("ILLEGAL: XML string argument %q contains a NUL byte", s))
		}
	}
}

func (e XMLElement) FirstChild() XMLElement { return XMLElement{n: linfo.FirstChild(e.n)} }

func (e XMLElement) LastChild() XMLElement { return XMLElement{n: linfo.LastChild(e.n)} }

func (e XMLElement) NextSibling() XMLElement { return XMLElement{n: linfo.NextSibling(e.n)} }

func (e XMLElement) PreviousSibling() XMLElement { return XMLElement{n: linfo.PreviousSibling(e.n)} }

func (e XMLElement) Parent() XMLElement { return XMLElement{n: linfo.Parent(e.n)} }

// Child returns the first child element named name.
func (e XMLElement) Child(name string) XMLElement {
	mustText(name)
	return XMLElement{n: linfo.Child(e.n, name)}
}

func (e XMLElement) NextSiblingNamed(name string) XMLElement {
	mustText(name)
	return XMLElement{n: linfo.NextSiblingNamed(e.n, name)}
}

func (e XMLElement) PreviousSiblingNamed(name string) XMLElement {
	mustText(name)
	return XMLElement{n: linfo.PreviousSiblingNamed(e.n, name)}
}

// Empty reports whether e points at no node.
func (e XMLElement) Empty() bool { return e.n == nil }

// IsValid is the inverse of [XMLElement.Empty].
func (e XMLElement) IsValid() bool { return e.n != nil }

// IsText reports whether e is a text node rather than an element.
func (e XMLElement) IsText() bool { return linfo.IsText(e.n) }

// Name is the element name, or empty for text nodes.
func (e XMLElement) Name() string { return linfo.Name(e.n) }

// Value is the text of a text node, or empty for elements.
func (e XMLElement) Value() string { return linfo.Value(e.n) }

// ChildValue is the text of e's first text child.
func (e XMLElement) ChildValue() string { return linfo.ChildValue(e.n) }

// ChildValueNamed is the text of the first child element named name.
func (e XMLElement) ChildValueNamed(name string) string {
	mustText(name)
	return linfo.ChildValueNamed(e.n, name)
}

// AppendChildValue appends <name>value</name> and returns e.
func (e XMLElement) AppendChildValue(name, value string) XMLElement {
	mustText(name, value)
	return XMLElement{n: linfo.AppendChildValue(e.n, name, value)}
}

// PrependChildValue prepends <name>value</name> and returns e.
func (e XMLElement) PrependChildValue(name, value string) XMLElement {
	mustText(name, value)
	return XMLElement{n: linfo.PrependChildValue(e.n, name, value)}
}

// SetChildValue replaces the text of the first child element named name.
func (e XMLElement) SetChildValue(name, value string) bool {
	mustText(name, value)
	return linfo.SetChildValue(e.n, name, value)
}

// SetName renames an element.
// It reports false if e is invalid or a text node.
func (e XMLElement) SetName(name string) bool {
	mustText(name)
	return linfo.SetName(e.n, name)
}

// SetValue replaces the text of a text node.
// It reports false if e is invalid or an element.
func (e XMLElement) SetValue(value string) bool {
	mustText(value)
	return linfo.SetValue(e.n, value)
}

// AppendChild appends an empty element and returns it.
func (e XMLElement) AppendChild(name string) XMLElement {
	mustText(name)
	return XMLElement{n: linfo.AppendChild(e.n, name)}
}

// PrependChild prepends an empty element and returns it.
func (e XMLElement) PrependChild(name string) XMLElement {
	mustText(name)
	return XMLElement{n: linfo.PrependChild(e.n, name)}
}

// AppendCopy appends a deep copy of src, which may belong to another tree,
// and returns the copy.
func (e XMLElement) AppendCopy(src XMLElement) XMLElement {
	return XMLElement{n: linfo.AppendCopy(e.n, src.n)}
}

// PrependCopy prepends a deep copy of src and returns the copy.
func (e XMLElement) PrependCopy(src XMLElement) XMLElement {
	return XMLElement{n: linfo.PrependCopy(e.n, src.n)}
}

// RemoveChild removes child, if it is a child of e.
func (e XMLElement) RemoveChild(child XMLElement) {
	linfo.RemoveChild(e.n, child.n)
}

// RemoveChildNamed removes the first child element named name.
func (e XMLElement) RemoveChildNamed(name string) {
	mustText(name)
	linfo.RemoveChildNamed(e.n, name)
}

func (e XMLElement) String() string {
	if !e.IsValid() {
		return "(not valid)"
	}
	return fmt.Sprintf(
		"(name=%s, value=%s, parent name=%s)",
		e.Name(), e.Value(), e.Parent().Name(),
	)
}
