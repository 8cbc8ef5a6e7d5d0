package shared

const (
	// DefaultPort is the historical control port; the transfer data
	// connection is opened at control port + DataPortOffset.
	DefaultPort    = 5500
	DataPortOffset = 1

	ClientName    = "hotline-client"
	ClientVersion = 197
)
