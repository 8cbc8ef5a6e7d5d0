package session

import (
	"context"
	"encoding/binary"

	"hotline-client/internel/shared"
	"hotline-client/internel/wire"
)

// Users fetches the online-user list. Joins, leaves and changes after this
// snapshot arrive as pushes (user-change / user-leave transactions).
func (s *Session) Users(ctx context.Context) ([]shared.UserInfo, error) {
	rep, err := s.Call(ctx, wire.NewTransaction(wire.TranGetUserNameList))
	if err != nil {
		return nil, err
	}
	var users []shared.UserInfo
	for _, data := range rep.FieldsAll(wire.FieldUsernameWithInfo) {
		u, ok := parseUserNameWithInfo(data)
		if !ok {
			return nil, NewError(KindProtocol, "truncated user list entry")
		}
		users = append(users, u)
	}
	return users, nil
}

// parseUserNameWithInfo decodes {id u16, icon u16, flags u16, nameLen u16,
// name}.
func parseUserNameWithInfo(data []byte) (shared.UserInfo, bool) {
	if len(data) < 8 {
		return shared.UserInfo{}, false
	}
	n := int(binary.BigEndian.Uint16(data[6:8]))
	if len(data) < 8+n {
		return shared.UserInfo{}, false
	}
	return shared.UserInfo{
		ID:     binary.BigEndian.Uint16(data[0:2]),
		IconID: binary.BigEndian.Uint16(data[2:4]),
		Flags:  binary.BigEndian.Uint16(data[4:6]),
		Name:   string(data[8 : 8+n]),
	}, true
}
