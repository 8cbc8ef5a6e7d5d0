// Package news is the threaded content store behind both the article tree
// and the flat message board. The tree is populated lazily: a path's
// children exist locally only after an explicit listing, and every listing
// replaces the previous snapshot for that path.
package news

import (
	"context"
	"strings"
	"sync"

	"hotline-client/internel/session"
	"hotline-client/internel/wire"
)

// Control is the slice of the session the store needs. *session.Session
// satisfies it.
type Control interface {
	Call(ctx context.Context, t *wire.Transaction) (*wire.Transaction, error)
	CallGated(ctx context.Context, bit int, t *wire.Transaction) (*wire.Transaction, error)
}

type Store struct {
	c Control

	mu       sync.Mutex
	children map[string][]Node
	loaded   map[string]bool
}

func NewStore(c Control) *Store {
	return &Store{
		c:        c,
		children: make(map[string][]Node),
		loaded:   make(map[string]bool),
	}
}

func pathKey(path []string) string {
	return strings.Join(path, "\x00")
}

// ListCategories fetches the bundles and categories under path (the tree's
// container levels) in server-declared order.
func (st *Store) ListCategories(ctx context.Context, path []string) ([]Node, error) {
	t := wire.NewTransaction(wire.TranGetNewsCatNameList)
	if len(path) > 0 {
		t.Fields = append(t.Fields, wire.NewField(wire.FieldNewsPath, wire.EncodeFilePath(path)))
	}
	rep, err := st.c.CallGated(ctx, wire.AccessNewsReadArt, t)
	if err != nil {
		return nil, err
	}

	var nodes []Node
	for _, data := range rep.FieldsAll(wire.FieldNewsCatListData) {
		kind, count, name, err := unmarshalCategory(data)
		if err != nil {
			return nil, session.WrapError(session.KindProtocol, err, "category listing")
		}
		nodes = append(nodes, Node{
			Kind:        kind,
			Title:       name,
			Path:        append(append([]string(nil), path...), name),
			HasChildren: count > 0,
		})
	}
	st.replace(path, nodes)
	return st.Snapshot(path)
}

// ListArticles fetches the article index of one category. Thread structure
// is carried by ParentID; order is the server's and is never re-sorted.
func (st *Store) ListArticles(ctx context.Context, path []string) ([]Node, error) {
	rep, err := st.c.CallGated(ctx, wire.AccessNewsReadArt,
		wire.NewTransaction(wire.TranGetNewsArtNameList,
			wire.NewField(wire.FieldNewsPath, wire.EncodeFilePath(path)),
		))
	if err != nil {
		return nil, err
	}

	var nodes []Node
	if data, ok := rep.Field(wire.FieldNewsArtListData); ok {
		entries, err := unmarshalArticleList(data)
		if err != nil {
			return nil, session.WrapError(session.KindProtocol, err, "article listing")
		}
		parents := make(map[uint32]bool, len(entries))
		for _, e := range entries {
			parents[e.ParentID] = true
		}
		for _, e := range entries {
			nodes = append(nodes, Node{
				LocalID:     e.ID,
				ParentID:    e.ParentID,
				Kind:        KindArticle,
				Title:       e.Title,
				Poster:      e.Poster,
				Date:        wire.DecodeDate(e.Date[:]),
				Path:        append([]string(nil), path...),
				HasChildren: parents[e.ID],
			})
		}
	}
	st.replace(path, nodes)
	return st.Snapshot(path)
}

// replace swaps in a fresh child snapshot for path and marks it loaded.
func (st *Store) replace(path []string, nodes []Node) {
	for i := range nodes {
		nodes[i].Loaded = true
	}
	st.mu.Lock()
	st.children[pathKey(path)] = nodes
	st.loaded[pathKey(path)] = true
	st.mu.Unlock()
}

// Snapshot returns a copy of the cached children of path, if that path has
// been listed. Copies keep consumers from observing later replacements.
func (st *Store) Snapshot(path []string) ([]Node, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.loaded[pathKey(path)] {
		return nil, nil
	}
	return append([]Node(nil), st.children[pathKey(path)]...), nil
}

// Loaded reports whether path has been listed at least once.
func (st *Store) Loaded(path []string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.loaded[pathKey(path)]
}

// ArticleBody fetches one article's text. Bodies are never pre-fetched; this
// runs only on explicit selection.
func (st *Store) ArticleBody(ctx context.Context, path []string, id uint32) ([]byte, error) {
	rep, err := st.c.CallGated(ctx, wire.AccessNewsReadArt,
		wire.NewTransaction(wire.TranGetNewsArtData,
			wire.NewField(wire.FieldNewsPath, wire.EncodeFilePath(path)),
			wire.Uint32Field(wire.FieldNewsArtID, id),
			wire.NewField(wire.FieldNewsArtDataFlav, []byte("text/plain")),
		))
	if err != nil {
		return nil, err
	}
	body, _ := rep.Field(wire.FieldNewsArtData)
	return body, nil
}

// PostArticle submits a new article or reply. The server owns ordering and
// id assignment, so the local tree is not touched; callers re-list the
// category to observe the new node.
func (st *Store) PostArticle(ctx context.Context, path []string, parentID uint32, title, body string) error {
	_, err := st.c.CallGated(ctx, wire.AccessNewsPostArt,
		wire.NewTransaction(wire.TranPostNewsArt,
			wire.NewField(wire.FieldNewsPath, wire.EncodeFilePath(path)),
			wire.Uint32Field(wire.FieldNewsArtID, parentID),
			wire.NewField(wire.FieldNewsArtTitle, []byte(title)),
			wire.NewField(wire.FieldNewsArtDataFlav, []byte("text/plain")),
			wire.NewField(wire.FieldNewsArtData, []byte(body)),
		))
	return err
}

// NewCategory creates a category under path, gated on the category-creation
// bit.
func (st *Store) NewCategory(ctx context.Context, path []string, name string) error {
	_, err := st.c.CallGated(ctx, wire.AccessNewsCreateCat,
		wire.NewTransaction(wire.TranNewNewsCat,
			wire.NewField(wire.FieldNewsPath, wire.EncodeFilePath(path)),
			wire.NewField(wire.FieldNewsCatName, []byte(name)),
		))
	return err
}

// boardDivider separates posts in the flat board payload.
const boardDivider = "\r_________________________________________\r"

// ListBoard fetches the flat message board and splits it into posts, newest
// first as the server sends them.
func (st *Store) ListBoard(ctx context.Context) ([]string, error) {
	rep, err := st.c.CallGated(ctx, wire.AccessNewsReadArt,
		wire.NewTransaction(wire.TranGetMsgs))
	if err != nil {
		return nil, err
	}
	text, _ := rep.Field(wire.FieldData)
	if len(text) == 0 {
		return nil, nil
	}
	return strings.Split(string(text), boardDivider), nil
}

// PostBoard appends a post to the flat board. As with articles the caller
// re-lists to observe it.
func (st *Store) PostBoard(ctx context.Context, text string) error {
	_, err := st.c.CallGated(ctx, wire.AccessNewsPostArt,
		wire.NewTransaction(wire.TranOldPostNews,
			wire.NewField(wire.FieldData, []byte(text)),
		))
	return err
}
