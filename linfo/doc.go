// Package linfo contains the stream declaration document.
//
// An [Info] holds a stream's core fields (fixed at declaration),
// its hosting fields (assigned once an outlet makes the stream available),
// and the free-form extended description tree under the <desc> element.
// The document is stored as an XML DOM,
// which makes serialization and XPath predicate matching
// operate on exactly the same tree.
package linfo
