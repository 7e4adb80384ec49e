package proto

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Command names understood by a ws2s bridge.
const (
	CmdConnect = "connect"
	CmdSend    = "send"  // data is plain text
	CmdSendB   = "sendb" // data is base64
	CmdPing    = "ping"
	CmdClose   = "close"
)

// Response codes sent by the bridge.
const (
	CodeData           = -1
	CodeOK             = 0
	CodeUnknownCommand = 1
	CodeBadRequest     = 2
	CodeConnectFailed  = 3
	CodeNotConnected   = 4
	CodeRemoteClosed   = 5
)

// Messages carried by CodeOK responses.
const (
	MsgConnectDone = "connect done"
	MsgCloseDone   = "close done"
	MsgPong        = "pong"
)

// Command is sent by the client to the bridge, one per WebSocket message.
type Command struct {
	Command string `json:"command"`
	Host    string `json:"host,omitempty"`
	Port    int    `json:"port,omitempty"`
	Data    string `json:"data,omitempty"`
}

// Response bridge -> client.
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

// Fatal reports whether the code means the tunnel to the target is gone.
func (r Response) Fatal() bool {
	return r.Code == CodeConnectFailed || r.Code == CodeRemoteClosed
}

// Connect builds the tunnel open command.
func Connect(host string, port int) Command {
	return Command{Command: CmdConnect, Host: host, Port: port}
}

// SendBytes builds a sendb command with data base64 encoded.
func SendBytes(data []byte) Command {
	return Command{Command: CmdSendB, Data: base64.StdEncoding.EncodeToString(data)}
}

// Payload returns the raw bytes of a send or sendb command.
func (c Command) Payload() ([]byte, error) {
	switch c.Command {
	case CmdSend:
		return []byte(c.Data), nil
	case CmdSendB:
		b, err := base64.StdEncoding.DecodeString(c.Data)
		if err != nil {
			return nil, fmt.Errorf("decode sendb data: %w", err)
		}
		return b, nil
	}
	return nil, fmt.Errorf("command %q carries no payload", c.Command)
}

// DataResponse wraps bytes read from the target.
func DataResponse(b []byte) Response {
	return Response{Code: CodeData, Message: "data", Data: base64.StdEncoding.EncodeToString(b)}
}

// Bytes decodes the data of a CodeData response.
func (r Response) Bytes() ([]byte, error) {
	if r.Code != CodeData {
		return nil, fmt.Errorf("response code %d carries no data", r.Code)
	}
	return base64.StdEncoding.DecodeString(r.Data)
}

// Marshal and Unmarshal keep the JSON encoding in one place.

func Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func UnmarshalCommand(b []byte) (Command, error) {
	var c Command
	err := json.Unmarshal(b, &c)
	return c, err
}

func UnmarshalResponse(b []byte) (Response, error) {
	var r Response
	err := json.Unmarshal(b, &r)
	return r, err
}
