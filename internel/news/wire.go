package news

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"

	"hotline-client/internel/wire"
)

// Node kinds within the threaded tree. Bundles contain categories, categories
// contain articles, articles thread among themselves via ParentID.
const (
	KindBundle = iota + 1
	KindCategory
	KindArticle
)

// Node is one element of the threaded content tree. The store is its single
// writer; consumers receive copies.
type Node struct {
	LocalID     uint32
	ParentID    uint32 // 0 = thread root
	Kind        int
	Title       string
	Poster      string
	Date        time.Time
	Path        []string
	HasChildren bool
	Loaded      bool
}

// category list entry: {type u16, count u16, nameLen u8, name}
const (
	wireTypeCategory = 2
	wireTypeBundle   = 3
)

func marshalCategory(kind int, count uint16, name string) []byte {
	wt := uint16(wireTypeCategory)
	if kind == KindBundle {
		wt = wireTypeBundle
	}
	out := make([]byte, 5, 5+len(name))
	binary.BigEndian.PutUint16(out[0:2], wt)
	binary.BigEndian.PutUint16(out[2:4], count)
	out[4] = byte(len(name))
	return append(out, name...)
}

func unmarshalCategory(data []byte) (kind int, count uint16, name string, err error) {
	if len(data) < 5 {
		return 0, 0, "", errors.Wrap(wire.ErrMalformedFrame, "truncated category entry")
	}
	switch binary.BigEndian.Uint16(data[0:2]) {
	case wireTypeBundle:
		kind = KindBundle
	default:
		kind = KindCategory
	}
	count = binary.BigEndian.Uint16(data[2:4])
	n := int(data[4])
	if len(data) < 5+n {
		return 0, 0, "", errors.Wrap(wire.ErrMalformedFrame, "truncated category name")
	}
	return kind, count, string(data[5 : 5+n]), nil
}

// articleListEntry mirrors one record of the article-list field: {id u32,
// date [8], parentID u32, flags u32, flavorCount u16, title pstr, poster
// pstr, flavors {mime pstr, size u16}}.
type articleListEntry struct {
	ID       uint32
	Date     [8]byte
	ParentID uint32
	Flags    uint32
	Title    string
	Poster   string
	Flavors  []string
}

func pstr(s string) []byte {
	out := make([]byte, 1, 1+len(s))
	out[0] = byte(len(s))
	return append(out, s...)
}

func readPstr(data []byte) (string, []byte, error) {
	if len(data) < 1 {
		return "", nil, errors.Wrap(wire.ErrMalformedFrame, "truncated string")
	}
	n := int(data[0])
	if len(data) < 1+n {
		return "", nil, errors.Wrap(wire.ErrMalformedFrame, "truncated string body")
	}
	return string(data[1 : 1+n]), data[1+n:], nil
}

func (e articleListEntry) marshal() []byte {
	out := make([]byte, 0, 24+len(e.Title)+len(e.Poster))
	var num [4]byte
	binary.BigEndian.PutUint32(num[:], e.ID)
	out = append(out, num[:]...)
	out = append(out, e.Date[:]...)
	binary.BigEndian.PutUint32(num[:], e.ParentID)
	out = append(out, num[:]...)
	binary.BigEndian.PutUint32(num[:], e.Flags)
	out = append(out, num[:]...)
	var cnt [2]byte
	binary.BigEndian.PutUint16(cnt[:], uint16(len(e.Flavors)))
	out = append(out, cnt[:]...)
	out = append(out, pstr(e.Title)...)
	out = append(out, pstr(e.Poster)...)
	for _, fl := range e.Flavors {
		out = append(out, pstr(fl)...)
		out = append(out, 0, 0) // flavor size, unused by the client
	}
	return out
}

// marshalArticleList builds the article-list field payload: {id u32, count
// u32, name pstr, description pstr, entries...}. Used by tests standing in
// for a server.
func marshalArticleList(name string, entries []articleListEntry) []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint32(out[4:8], uint32(len(entries)))
	out = append(out, pstr(name)...)
	out = append(out, pstr("")...)
	for _, e := range entries {
		out = append(out, e.marshal()...)
	}
	return out
}

func unmarshalArticleList(data []byte) ([]articleListEntry, error) {
	if len(data) < 8 {
		return nil, errors.Wrap(wire.ErrMalformedFrame, "truncated article list")
	}
	count := int(binary.BigEndian.Uint32(data[4:8]))
	rest := data[8:]
	var err error
	if _, rest, err = readPstr(rest); err != nil { // category name
		return nil, err
	}
	if _, rest, err = readPstr(rest); err != nil { // description
		return nil, err
	}

	entries := make([]articleListEntry, 0, count)
	for i := 0; i < count; i++ {
		var e articleListEntry
		if len(rest) < 22 {
			return nil, errors.Wrap(wire.ErrMalformedFrame, "truncated article entry")
		}
		e.ID = binary.BigEndian.Uint32(rest[0:4])
		copy(e.Date[:], rest[4:12])
		e.ParentID = binary.BigEndian.Uint32(rest[12:16])
		e.Flags = binary.BigEndian.Uint32(rest[16:20])
		flavors := int(binary.BigEndian.Uint16(rest[20:22]))
		rest = rest[22:]
		if e.Title, rest, err = readPstr(rest); err != nil {
			return nil, err
		}
		if e.Poster, rest, err = readPstr(rest); err != nil {
			return nil, err
		}
		for j := 0; j < flavors; j++ {
			var mime string
			if mime, rest, err = readPstr(rest); err != nil {
				return nil, err
			}
			if len(rest) < 2 {
				return nil, errors.Wrap(wire.ErrMalformedFrame, "truncated flavor size")
			}
			rest = rest[2:]
			e.Flavors = append(e.Flavors, mime)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
