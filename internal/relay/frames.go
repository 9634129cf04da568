package relay

import "encoding/json"

// handshakeWire is the first frame's wire shape (spec.md §6.1).
type handshakeWire struct {
	ServerID string `json:"serverId"`
	Cols     int    `json:"cols"`
	Rows     int    `json:"rows"`
	Auth     struct {
		Password   string `json:"password"`
		PrivateKey string `json:"privateKey"`
		Passphrase string `json:"passphrase"`
	} `json:"auth"`
	Token string `json:"token"`
}

// resizeWire is the shape of a client-side resize control frame.
type resizeWire struct {
	Type string `json:"type"`
	Rows uint16 `json:"rows"`
	Cols uint16 `json:"cols"`
}

// parseHandshake parses the first frame. It MUST be JSON describing a
// handshake; a non-JSON frame or one missing serverId is a protocol
// violation (spec.md §4.5).
func parseHandshake(raw []byte) (handshakeWire, bool) {
	var hs handshakeWire
	if err := json.Unmarshal(raw, &hs); err != nil {
		return handshakeWire{}, false
	}
	if hs.ServerID == "" {
		return handshakeWire{}, false
	}
	return hs, true
}

// tryParseResize opportunistically parses raw as a resize control frame.
// The parse attempt is side-effect-free: raw is never consumed or mutated,
// so a failed or non-resize parse still lets the caller forward raw
// verbatim as opaque Data (spec.md §4.5's framing rule).
func tryParseResize(raw []byte) (rows, cols uint16, ok bool) {
	var r resizeWire
	if err := json.Unmarshal(raw, &r); err != nil {
		return 0, 0, false
	}
	if r.Type != "resize" || r.Rows == 0 || r.Cols == 0 {
		return 0, 0, false
	}
	return r.Rows, r.Cols, true
}
