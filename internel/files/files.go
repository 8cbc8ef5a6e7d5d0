// Package files implements path-addressed directory enumeration on top of
// the control session.
package files

import (
	"context"

	"hotline-client/internel/session"
	"hotline-client/internel/shared"
	"hotline-client/internel/wire"
)

// Control is the slice of the session the service needs. *session.Session
// satisfies it.
type Control interface {
	Call(ctx context.Context, t *wire.Transaction) (*wire.Transaction, error)
	CallGated(ctx context.Context, bit int, t *wire.Transaction) (*wire.Transaction, error)
}

type Service struct {
	c Control
}

func NewService(c Control) *Service {
	return &Service{c: c}
}

// List enumerates one directory. Entries come back in server-declared order
// and each call is a full replacement snapshot for that path; nothing is
// merged client-side.
func (svc *Service) List(ctx context.Context, path []string) ([]shared.FileEntry, error) {
	t := wire.NewTransaction(wire.TranGetFileNameList)
	if len(path) > 0 {
		t.Fields = append(t.Fields, wire.NewField(wire.FieldFilePath, wire.EncodeFilePath(path)))
	}
	rep, err := svc.c.Call(ctx, t)
	if err != nil {
		return nil, err
	}

	var entries []shared.FileEntry
	for _, data := range rep.FieldsAll(wire.FieldFileNameWithInfo) {
		info, err := wire.UnmarshalFileNameWithInfo(data)
		if err != nil {
			return nil, session.WrapError(session.KindProtocol, err, "file listing entry")
		}
		entries = append(entries, shared.FileEntry{
			Name:        info.Name,
			Path:        append([]string(nil), path...),
			IsFolder:    info.IsFolder(),
			Size:        int64(info.Size),
			TypeCode:    string(info.Type[:]),
			CreatorCode: string(info.Creator[:]),
		})
	}
	return entries, nil
}

// Info fills in the slow fields of an entry: comment and timestamps.
func (svc *Service) Info(ctx context.Context, entry shared.FileEntry) (shared.FileEntry, error) {
	rep, err := svc.c.Call(ctx, wire.NewTransaction(wire.TranGetFileInfo,
		wire.NewField(wire.FieldFileName, []byte(entry.Name)),
		wire.NewField(wire.FieldFilePath, wire.EncodeFilePath(entry.Path)),
	))
	if err != nil {
		return entry, err
	}
	entry.Comment = rep.FieldString(wire.FieldFileComment)
	if b, ok := rep.Field(wire.FieldFileCreateDate); ok {
		entry.Created = wire.DecodeDate(b)
	}
	if b, ok := rep.Field(wire.FieldFileModifyDate); ok {
		entry.Modified = wire.DecodeDate(b)
	}
	if size, ok := rep.FieldUint32(wire.FieldFileSize); ok {
		entry.Size = int64(size)
	}
	return entry, nil
}

// Delete removes a file or folder, gated on the matching capability bit.
func (svc *Service) Delete(ctx context.Context, entry shared.FileEntry) error {
	bit := wire.AccessDeleteFile
	if entry.IsFolder {
		bit = wire.AccessDeleteFolder
	}
	_, err := svc.c.CallGated(ctx, bit, wire.NewTransaction(wire.TranDeleteFile,
		wire.NewField(wire.FieldFileName, []byte(entry.Name)),
		wire.NewField(wire.FieldFilePath, wire.EncodeFilePath(entry.Path)),
	))
	return err
}

// NewFolder creates a directory under path, gated on the create-folder bit.
func (svc *Service) NewFolder(ctx context.Context, path []string, name string) error {
	t := wire.NewTransaction(wire.TranNewFolder,
		wire.NewField(wire.FieldFileName, []byte(name)),
	)
	if len(path) > 0 {
		t.Fields = append(t.Fields, wire.NewField(wire.FieldFilePath, wire.EncodeFilePath(path)))
	}
	_, err := svc.c.CallGated(ctx, wire.AccessCreateFolder, t)
	return err
}
