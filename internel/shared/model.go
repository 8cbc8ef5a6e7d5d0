package shared

import "time"

// FileEntry is one row of a directory listing snapshot, uniquely identified
// by (Path, Name) within that snapshot. Comment and the timestamps are only
// populated by a file-info lookup.
type FileEntry struct {
	Name        string
	Path        []string // parent path, root = empty
	IsFolder    bool
	Size        int64 // item count for folders
	TypeCode    string
	CreatorCode string
	Comment     string
	Created     time.Time
	Modified    time.Time
}

// UserInfo describes one entry of the online-user list.
type UserInfo struct {
	ID     uint16
	IconID uint16
	Flags  uint16
	Name   string
}

// ChatMessage is a pushed chat or server-message line.
type ChatMessage struct {
	Text       string
	FromServer bool
}

// Bookmark carries the connection parameters supplied by whatever store the
// caller keeps them in; the core never persists credentials itself.
type Bookmark struct {
	Name     string
	Addr     string
	Login    string
	Password string
}
