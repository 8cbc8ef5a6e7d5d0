package wire

// Transaction types of the legacy 1.2.3/1.5 protocol. Only the subset the
// client issues or handles is named here.
const (
	TranError              = 100
	TranGetMsgs            = 101
	TranNewMsg             = 102
	TranOldPostNews        = 103
	TranServerMsg          = 104
	TranChatSend           = 105
	TranChatMsg            = 106
	TranLogin              = 107
	TranSendInstantMsg     = 108
	TranShowAgreement      = 109
	TranAgreed             = 121
	TranServerBanner       = 122
	TranGetFileNameList    = 200
	TranDownloadFile       = 202
	TranUploadFile         = 203
	TranDeleteFile         = 204
	TranNewFolder          = 205
	TranGetFileInfo        = 206
	TranDownloadFldr       = 210
	TranUploadFldr         = 213
	TranGetUserNameList    = 300
	TranNotifyChangeUser   = 301
	TranNotifyDeleteUser   = 302
	TranUserAccess         = 354
	TranUserBroadcast      = 355
	TranGetNewsCatNameList = 370
	TranGetNewsArtNameList = 371
	TranDelNewsArt         = 381
	TranNewNewsCat         = 382
	TranNewNewsFldr        = 383
	TranGetNewsArtData     = 400
	TranPostNewsArt        = 410
	TranKeepAlive          = 500
)

// Field ids carried in transaction parameter lists.
const (
	FieldError              = 100
	FieldData               = 101
	FieldUserName           = 102
	FieldUserID             = 103
	FieldUserIconID         = 104
	FieldUserLogin          = 105
	FieldUserPassword       = 106
	FieldRefNum             = 107
	FieldTransferSize       = 108
	FieldUserAccess         = 110
	FieldUserFlags          = 112
	FieldOptions            = 113
	FieldVersion            = 160
	FieldServerName         = 162
	FieldFileNameWithInfo   = 200
	FieldFileName           = 201
	FieldFilePath           = 202
	FieldFileResumeData     = 203
	FieldFileTypeString     = 205
	FieldFileCreatorString  = 206
	FieldFileSize           = 207
	FieldFileCreateDate     = 208
	FieldFileModifyDate     = 209
	FieldFileComment        = 210
	FieldFolderItemCount    = 220
	FieldUsernameWithInfo   = 300
	FieldNewsArtListData    = 321
	FieldNewsCatName        = 322
	FieldNewsCatListData    = 323
	FieldNewsPath           = 325
	FieldNewsArtID          = 326
	FieldNewsArtDataFlav    = 327
	FieldNewsArtTitle       = 328
	FieldNewsArtPoster      = 329
	FieldNewsArtDate        = 330
	FieldNewsArtData        = 333
	FieldNewsArtFlags       = 334
	FieldNewsArtParentArt   = 335
	FieldNewsArt1stChildArt = 336
)

func TranName(t uint16) string {
	switch t {
	case TranError:
		return "ERROR"
	case TranGetMsgs:
		return "GET-MSGS"
	case TranNewMsg:
		return "NEW-MSG"
	case TranOldPostNews:
		return "POST-BOARD"
	case TranServerMsg:
		return "SERVER-MSG"
	case TranChatSend:
		return "CHAT-SEND"
	case TranChatMsg:
		return "CHAT-MSG"
	case TranLogin:
		return "LOGIN"
	case TranShowAgreement:
		return "SHOW-AGREEMENT"
	case TranAgreed:
		return "AGREED"
	case TranGetFileNameList:
		return "FILE-LIST"
	case TranDownloadFile:
		return "DOWNLOAD"
	case TranUploadFile:
		return "UPLOAD"
	case TranDeleteFile:
		return "DELETE-FILE"
	case TranNewFolder:
		return "NEW-FOLDER"
	case TranGetFileInfo:
		return "FILE-INFO"
	case TranDownloadFldr:
		return "DOWNLOAD-FLDR"
	case TranUploadFldr:
		return "UPLOAD-FLDR"
	case TranGetUserNameList:
		return "USER-LIST"
	case TranNotifyChangeUser:
		return "USER-CHANGE"
	case TranNotifyDeleteUser:
		return "USER-LEAVE"
	case TranUserAccess:
		return "USER-ACCESS"
	case TranGetNewsCatNameList:
		return "NEWS-CATS"
	case TranGetNewsArtNameList:
		return "NEWS-ARTS"
	case TranGetNewsArtData:
		return "NEWS-ART-DATA"
	case TranPostNewsArt:
		return "NEWS-POST"
	case TranKeepAlive:
		return "KEEPALIVE"
	default:
		return "UNKNOWN"
	}
}
