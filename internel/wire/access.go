package wire

// Capability bits of the server-issued permission bitmask. Numbering is
// MSB-first within the 8-byte mask, matching the wire layout of the
// user-access field.
const (
	AccessDeleteFile     = 0
	AccessUploadFile     = 1
	AccessDownloadFile   = 2
	AccessRenameFile     = 3
	AccessMoveFile       = 4
	AccessCreateFolder   = 5
	AccessDeleteFolder   = 6
	AccessRenameFolder   = 7
	AccessMoveFolder     = 8
	AccessReadChat       = 9
	AccessSendChat       = 10
	AccessOpenChat       = 11
	AccessCloseChat      = 12
	AccessShowInList     = 13
	AccessCreateUser     = 14
	AccessDeleteUser     = 15
	AccessOpenUser       = 16
	AccessModifyUser     = 17
	AccessNewsReadArt    = 20
	AccessNewsPostArt    = 21
	AccessDisconUser     = 22
	AccessGetClientInfo  = 24
	AccessUploadAnywhere = 25
	AccessAnyName        = 26
	AccessNoAgreement    = 27
	AccessSetFileComment = 28
	AccessViewDropBoxes  = 30
	AccessMakeAlias      = 31
	AccessBroadcast      = 32
	AccessNewsDeleteArt  = 33
	AccessNewsCreateCat  = 34
	AccessNewsDeleteCat  = 35
	AccessNewsCreateFldr = 36
	AccessNewsDeleteFldr = 37
)

// AccessBitmap is the capability mask retrieved at login. The zero value
// grants nothing.
type AccessBitmap [8]byte

func (b AccessBitmap) Has(bit int) bool {
	if bit < 0 || bit >= len(b)*8 {
		return false
	}
	return b[bit/8]&(0x80>>uint(bit%8)) != 0
}

func (b *AccessBitmap) Set(bit int) {
	if bit < 0 || bit >= len(b)*8 {
		return
	}
	b[bit/8] |= 0x80 >> uint(bit%8)
}

// ParseAccessBitmap reads a user-access field payload. Short payloads are
// zero-padded; some historical servers send fewer than 8 bytes.
func ParseAccessBitmap(data []byte) AccessBitmap {
	var b AccessBitmap
	copy(b[:], data)
	return b
}
