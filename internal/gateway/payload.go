package gateway

import "encoding/json"

// Gateway opcodes. Dispatch carries events; the rest drive the connection
// lifecycle.
const (
	OpDispatch     = 0
	OpHeartbeat    = 1
	OpIdentify     = 2
	OpResume       = 6
	OpReconnect    = 7
	OpHello        = 10
	OpHeartbeatACK = 11
)

// Event type names carried by dispatch payloads
const (
	EventReady   = "READY"
	EventResumed = "RESUMED"
)

// Payload is one gateway frame in either direction.
type Payload struct {
	Op   int             `json:"op"`
	Type string          `json:"t,omitempty"`
	Seq  int64           `json:"s,omitempty"`
	Data json.RawMessage `json:"d,omitempty"`
}

// helloData is the server's opening frame, carrying the heartbeat cadence.
type helloData struct {
	HeartbeatInterval int `json:"heartbeat_interval"` // milliseconds
}

// identifyData opens a brand new session for one shard.
type identifyData struct {
	Token string `json:"token"`
	Shard [2]int `json:"shard"`
	Nonce string `json:"nonce"`
}

// resumeData picks up an existing session where it left off.
type resumeData struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}

// readyData is the server's answer to a successful identify.
type readyData struct {
	SessionID string `json:"session_id"`
	ResumeURL string `json:"resume_url,omitempty"`
}

func marshalData(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		// All payload data types are plain structs; this cannot fail.
		panic(err)
	}
	return data
}
