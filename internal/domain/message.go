package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// FrameKind 是桥接协议帧的判别标签
type FrameKind string

const (
	FrameSignal           FrameKind = "signal"
	FrameTrade            FrameKind = "trade"
	FrameStats            FrameKind = "stats"
	FrameConnectionStatus FrameKind = "connection_status"
	FrameAccountInfo      FrameKind = "account_info"
	FramePositionList     FrameKind = "position_list"
	FramePing             FrameKind = "ping"
)

// ErrDecode 错误：帧无法解码（未知标签或载荷格式错误）
// 调用方记录日志并丢弃该帧，连接不受影响
var ErrDecode = errors.New("undecodable frame")

// envelope is the raw wire form: {"type": ..., "data": ...};
// ping carries timestamp at the top level instead of data.
type envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// Signal carries one trading signal. The payload passes through unmodified;
// only the identity is lifted out for list reconciliation.
type Signal struct {
	ID      string
	Payload json.RawMessage
}

// MarshalJSON re-emits the original payload so downstream consumers
// (redis mirror, UI) see exactly what the server sent.
func (s Signal) MarshalJSON() ([]byte, error) {
	if len(s.Payload) == 0 {
		return []byte("null"), nil
	}
	return s.Payload, nil
}

// ConnectionStatus 服务端侧连接状态，合并进 stats 快照
type ConnectionStatus struct {
	IsConnected bool `json:"isConnected"`
}

// Frame is one decoded unit of the bridge protocol. Exactly one of the
// kind-specific fields is populated, matching Kind.
type Frame struct {
	Kind FrameKind

	Signal  *Signal           // FrameSignal
	Stats   map[string]any    // FrameStats
	Status  *ConnectionStatus // FrameConnectionStatus
	Payload json.RawMessage   // FrameTrade / FrameAccountInfo / FramePositionList
	PingTs  int64             // FramePing
}

// DecodeFrame 将原始入站字节解码为带标签的 Frame。
// 任何失败都返回包装了 ErrDecode 的错误，帧应被丢弃。
func DecodeFrame(raw []byte) (*Frame, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	switch FrameKind(env.Type) {
	case FrameSignal:
		sig, err := decodeSignal(env.Data)
		if err != nil {
			return nil, err
		}
		return &Frame{Kind: FrameSignal, Signal: sig}, nil

	case FrameTrade:
		if !isJSONValue(env.Data) {
			return nil, fmt.Errorf("%w: trade frame without data", ErrDecode)
		}
		return &Frame{Kind: FrameTrade, Payload: env.Data}, nil

	case FrameStats:
		var stats map[string]any
		if err := json.Unmarshal(env.Data, &stats); err != nil || stats == nil {
			return nil, fmt.Errorf("%w: stats payload is not an object", ErrDecode)
		}
		return &Frame{Kind: FrameStats, Stats: stats}, nil

	case FrameConnectionStatus:
		var st ConnectionStatus
		if err := json.Unmarshal(env.Data, &st); err != nil {
			return nil, fmt.Errorf("%w: connection_status payload: %v", ErrDecode, err)
		}
		return &Frame{Kind: FrameConnectionStatus, Status: &st}, nil

	case FrameAccountInfo:
		if !isJSONValue(env.Data) {
			return nil, fmt.Errorf("%w: account_info frame without data", ErrDecode)
		}
		return &Frame{Kind: FrameAccountInfo, Payload: env.Data}, nil

	case FramePositionList:
		if !isJSONArray(env.Data) {
			return nil, fmt.Errorf("%w: position_list payload is not an array", ErrDecode)
		}
		return &Frame{Kind: FramePositionList, Payload: env.Data}, nil

	case FramePing:
		return &Frame{Kind: FramePing, PingTs: env.Timestamp}, nil

	default:
		// 未知标签：为前向兼容保留显式失败，而不是静默吞掉
		return nil, fmt.Errorf("%w: unknown type %q", ErrDecode, env.Type)
	}
}

func decodeSignal(data json.RawMessage) (*Signal, error) {
	var probe struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: signal payload: %v", ErrDecode, err)
	}
	id := signalIdentity(probe.ID)
	if id == "" {
		return nil, fmt.Errorf("%w: signal without id", ErrDecode)
	}
	return &Signal{ID: id, Payload: data}, nil
}

// signalIdentity derives the list identity from the raw id token,
// tolerating both string and numeric ids.
func signalIdentity(raw json.RawMessage) string {
	tok := strings.TrimSpace(string(raw))
	tok = strings.Trim(tok, `"`)
	if tok == "null" {
		return ""
	}
	return tok
}

func isJSONValue(raw json.RawMessage) bool {
	tok := bytes.TrimSpace(raw)
	return len(tok) > 0 && string(tok) != "null"
}

func isJSONArray(raw json.RawMessage) bool {
	tok := bytes.TrimSpace(raw)
	return len(tok) > 0 && tok[0] == '['
}

// PingFrame 出站保活帧：{type:'ping', timestamp:<epoch-ms>}
type PingFrame struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

func NewPingFrame(tsMillis int64) PingFrame {
	return PingFrame{Type: string(FramePing), Timestamp: tsMillis}
}

// ClosePositionFrame 出站命令帧：{type:'close_position', ticket}
type ClosePositionFrame struct {
	Type   string `json:"type"`
	Ticket string `json:"ticket"`
}

func NewClosePositionFrame(ticket string) ClosePositionFrame {
	return ClosePositionFrame{Type: "close_position", Ticket: ticket}
}
