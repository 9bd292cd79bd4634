package linfo

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/antchfx/xmlquery"
	"github.com/gordian-engine/lsl/lformat"
)

// Info is the declaration of one stream.
//
// The exported fields are the authoritative values of the document's fields;
// they are written into the XML tree whenever the tree is serialized or queried.
// The desc subtree only lives in the XML tree.
type Info struct {
	// Core fields.
	Name          string
	Type          string
	ChannelCount  int
	NominalSrate  float64
	ChannelFormat lformat.ChannelFormat
	SourceID      string

	// Hosting fields.
	Version   int
	CreatedAt float64
	UID       string
	SessionID string
	Hostname  string

	V4Address     string
	V4DataPort    int
	V4ServicePort int
	V6Address     string
	V6DataPort    int
	V6ServicePort int

	// Guards writes of the fields into the tree.
	// Concurrent mutation of the desc subtree is not supported.
	mu sync.Mutex

	doc  *xmlquery.Node
	root *xmlquery.Node
	desc *xmlquery.Node
}

// New returns a new Info with the given core fields,
// empty hosting fields and an empty description.
//
// New does not validate its arguments.
func New(
	name, typ string,
	channelCount int,
	nominalSrate float64,
	format lformat.ChannelFormat,
	sourceID string,
) *Info {
	i := &Info{
		Name:          name,
		Type:          typ,
		ChannelCount:  channelCount,
		NominalSrate:  nominalSrate,
		ChannelFormat: format,
		SourceID:      sourceID,
	}
	i.doc = &xmlquery.Node{Type: xmlquery.DocumentNode}
	i.root = newElement("info")
	appendNode(i.doc, i.root)
	i.desc = newElement("desc")
	appendNode(i.root, i.desc)
	i.sync()
	return i
}

// Desc returns the <desc> element, the root of the extended description.
func (i *Info) Desc() *xmlquery.Node {
	return i.desc
}

// ChannelBytes is the size of one channel value, or zero for strings.
func (i *Info) ChannelBytes() int {
	return i.ChannelFormat.ChannelBytes()
}

// SampleBytes is the size of one sample, or zero for strings.
func (i *Info) SampleBytes() int {
	return i.ChannelFormat.ChannelBytes() * i.ChannelCount
}

// Clone returns a deep copy of i, including its description tree.
func (i *Info) Clone() *Info {
	i.mu.Lock()
	defer i.mu.Unlock()

	c := &Info{
		Name:          i.Name,
		Type:          i.Type,
		ChannelCount:  i.ChannelCount,
		NominalSrate:  i.NominalSrate,
		ChannelFormat: i.ChannelFormat,
		SourceID:      i.SourceID,

		Version:   i.Version,
		CreatedAt: i.CreatedAt,
		UID:       i.UID,
		SessionID: i.SessionID,
		Hostname:  i.Hostname,

		V4Address:     i.V4Address,
		V4DataPort:    i.V4DataPort,
		V4ServicePort: i.V4ServicePort,
		V6Address:     i.V6Address,
		V6DataPort:    i.V6DataPort,
		V6ServicePort: i.V6ServicePort,
	}

	c.doc = &xmlquery.Node{Type: xmlquery.DocumentNode}
	c.root = CopyNode(i.root)
	appendNode(c.doc, c.root)
	c.desc = Child(c.root, "desc")
	if c.desc == nil {
		// Only possible if a cursor removed desc from the tree.
		c.desc = newElement("desc")
		appendNode(c.root, c.desc)
	}
	return c
}

func (i *Info) String() string {
	return fmt.Sprintf(
		"(name=%s, type=%s, fmt=%s, srate=%s)",
		i.Name, i.Type, i.ChannelFormat, formatFloat(i.NominalSrate),
	)
}

// fieldOrder is the order of the field elements under <info>.
var fieldOrder = [...]string{
	"name", "type", "channel_count", "channel_format", "source_id", "nominal_srate",
	"version", "created_at", "uid", "session_id", "hostname",
	"v4address", "v4data_port", "v4service_port",
	"v6address", "v6data_port", "v6service_port",
}

func (i *Info) fieldValues() [len(fieldOrder)]string {
	return [...]string{
		i.Name,
		i.Type,
		strconv.Itoa(i.ChannelCount),
		i.ChannelFormat.String(),
		i.SourceID,
		formatFloat(i.NominalSrate),
		strconv.Itoa(i.Version),
		formatFloat(i.CreatedAt),
		i.UID,
		i.SessionID,
		i.Hostname,
		i.V4Address,
		strconv.Itoa(i.V4DataPort),
		strconv.Itoa(i.V4ServicePort),
		i.V6Address,
		strconv.Itoa(i.V6DataPort),
		strconv.Itoa(i.V6ServicePort),
	}
}

// sync writes the exported fields into the tree.
// The caller must hold i.mu, except during construction.
func (i *Info) sync() {
	vals := i.fieldValues()
	for k, name := range fieldOrder {
		el := Child(i.root, name)
		if el == nil {
			el = newElement(name)
			if i.desc != nil && i.desc.Parent == i.root {
				insertBefore(i.desc, el)
			} else {
				appendNode(i.root, el)
			}
		}
		setText(el, vals[k])
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
