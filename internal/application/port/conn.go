package port

// CommandConn 命令出站所需的最小连接接口，由 bridge.Session 实现
type CommandConn interface {
	// IsOpen reports whether the socket is in the Open state.
	IsOpen() bool

	// SendCommand serializes v as JSON and writes it to the socket.
	SendCommand(v any) error
}
