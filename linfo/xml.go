package linfo

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/gordian-engine/lsl/lformat"
)

const xmlHeader = `<?xml version="1.0"?>` + "\n"

// XML renders the full document, including the description.
func (i *Info) XML() string {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.sync()

	var b strings.Builder
	b.WriteString(xmlHeader)
	writeNode(&b, i.root, 0)
	return b.String()
}

// ShortXML renders the document with an empty description.
// This is the form used in discovery replies.
func (i *Info) ShortXML() string {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.sync()

	var b strings.Builder
	b.WriteString(xmlHeader)
	b.WriteString("<info>\n")
	for c := i.root.FirstChild; c != nil; c = c.NextSibling {
		if c == i.desc {
			b.WriteString("\t<desc />\n")
			continue
		}
		writeNode(&b, c, 1)
	}
	b.WriteString("</info>\n")
	return b.String()
}

func writeNode(b *strings.Builder, n *xmlquery.Node, depth int) {
	indent := func() {
		for range depth {
			b.WriteByte('\t')
		}
	}

	switch n.Type {
	case xmlquery.ElementNode:
		indent()
		b.WriteByte('<')
		b.WriteString(n.Data)
		for _, a := range n.Attr {
			b.WriteByte(' ')
			if a.Name.Space != "" {
				b.WriteString(a.Name.Space)
				b.WriteByte(':')
			}
			b.WriteString(a.Name.Local)
			b.WriteString(`="`)
			escape(b, a.Value)
			b.WriteByte('"')
		}

		switch {
		case n.FirstChild == nil:
			b.WriteString(" />\n")
		case n.FirstChild == n.LastChild && IsText(n.FirstChild):
			b.WriteByte('>')
			escape(b, n.FirstChild.Data)
			b.WriteString("</")
			b.WriteString(n.Data)
			b.WriteString(">\n")
		default:
			b.WriteString(">\n")
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				writeNode(b, c, depth+1)
			}
			indent()
			b.WriteString("</")
			b.WriteString(n.Data)
			b.WriteString(">\n")
		}

	case xmlquery.TextNode, xmlquery.CharDataNode:
		indent()
		escape(b, n.Data)
		b.WriteByte('\n')

	case xmlquery.CommentNode:
		indent()
		b.WriteString("<!--")
		b.WriteString(n.Data)
		b.WriteString("-->\n")

	default:
		// Declarations and other node kinds are not part of the document body.
	}
}

func escape(b *strings.Builder, s string) {
	// Writing to a strings.Builder never fails.
	_ = xml.EscapeText(b, []byte(s))
}

// ErrNoInfoElement is returned by [Parse] when the document has no <info> root.
var ErrNoInfoElement = errors.New("no <info> root element")

// Parse reads a document previously produced by [Info.XML] or [Info.ShortXML].
//
// Whitespace-only text nodes are discarded.
// A missing <desc> element is created.
func Parse(s string) (*Info, error) {
	doc, err := xmlquery.Parse(strings.NewReader(s))
	if err != nil {
		return nil, fmt.Errorf("failed to parse stream info XML: %w", err)
	}

	var root *xmlquery.Node
	for c := doc.FirstChild; c != nil; c = c.NextSibling {
		if isElement(c) {
			if c.Data != "info" {
				return nil, fmt.Errorf("%w (found <%s>)", ErrNoInfoElement, c.Data)
			}
			root = c
			break
		}
	}
	if root == nil {
		return nil, ErrNoInfoElement
	}

	stripWhitespace(root)

	// Rebuild a clean document holding only the root element.
	detach(root)
	i := &Info{
		doc:  &xmlquery.Node{Type: xmlquery.DocumentNode},
		root: root,
	}
	appendNode(i.doc, root)
	i.desc = Child(root, "desc")
	if i.desc == nil {
		i.desc = newElement("desc")
		appendNode(root, i.desc)
	}

	if err := i.readFields(); err != nil {
		return nil, err
	}
	return i, nil
}

func (i *Info) readFields() error {
	text := func(name string) string {
		return ChildValueNamed(i.root, name)
	}

	var errs []error
	atoi := func(name string) int {
		s := text(name)
		if s == "" {
			return 0
		}
		v, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %s %q: %w", name, s, err))
		}
		return v
	}
	atof := func(name string) float64 {
		s := text(name)
		if s == "" {
			return 0
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %s %q: %w", name, s, err))
		}
		return v
	}

	i.Name = text("name")
	i.Type = text("type")
	i.ChannelCount = atoi("channel_count")
	i.NominalSrate = atof("nominal_srate")
	i.SourceID = text("source_id")

	if s := text("channel_format"); s != "" {
		f, err := lformat.ParseChannelFormat(strings.TrimSpace(s))
		if err != nil {
			errs = append(errs, err)
		}
		i.ChannelFormat = f
	}

	i.Version = atoi("version")
	i.CreatedAt = atof("created_at")
	i.UID = text("uid")
	i.SessionID = text("session_id")
	i.Hostname = text("hostname")

	i.V4Address = text("v4address")
	i.V4DataPort = atoi("v4data_port")
	i.V4ServicePort = atoi("v4service_port")
	i.V6Address = text("v6address")
	i.V6DataPort = atoi("v6data_port")
	i.V6ServicePort = atoi("v6service_port")

	if len(errs) > 0 {
		return fmt.Errorf("failed to read stream info fields: %w", errors.Join(errs...))
	}
	return nil
}

// stripWhitespace removes whitespace-only text nodes below n.
func stripWhitespace(n *xmlquery.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		switch {
		case c.Type == xmlquery.TextNode && strings.TrimSpace(c.Data) == "":
			detach(c)
		case isElement(c):
			stripWhitespace(c)
		}
		c = next
	}
}
