package types

import "encoding/json"

// Envelope discriminator carried by every application-level text frame.
const EnvelopeData = "DATA"

// Control message types.
const (
	MessagePodRequest      = "POD_REQUEST"
	MessagePodPresentation = "POD_PRESENTATION"
	MessageMpcRequest      = "MPC_REQUEST"
	MessageMpcAccepted     = "MPC_ACCEPTED"
	MessageDeclined        = "REQUEST_DECLINED"
)

type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type ControlHeader struct {
	Type string `json:"type"`
}

type PodRequest struct {
	Type   string   `json:"type"`
	Fields []string `json:"fields"`
}

type PodPresentation struct {
	Type         string          `json:"type"`
	Presentation json.RawMessage `json:"presentation"`
	IssuerPK     string          `json:"issuerPk"`
}

// MpcRequest announces a private check. The required name and residency stay
// with the verifier and only enter the computation as its private input.
type MpcRequest struct {
	Type           string `json:"type"`
	MinAge         BigInt `json:"minAge"`
	CheckName      bool   `json:"checkName"`
	CheckResidency bool   `json:"checkResidency,omitempty"`
}

// MpcAccepted tells the verifier the holder is joining the private check, so
// protocol messages may start flowing.
type MpcAccepted struct {
	Type string `json:"type"`
}

// Declined answers a POD_REQUEST or MPC_REQUEST the holder will not serve.
type Declined struct {
	Type    string `json:"type"`
	Request string `json:"request"`
	Reason  string `json:"reason"`
}

// Bundle is the file/QR form of an issued credential.
type Bundle struct {
	POD      json.RawMessage `json:"pod"`
	IssuerPK string          `json:"issuerPk"`
}

type IssueRequest struct {
	Age       int64  `json:"age"`
	Residency string `json:"residency"`
	Name      string `json:"name"`
	Photo     string `json:"photo,omitempty"`
}

type IssuerInfo struct {
	PublicKey string `json:"publicKey"`
}

// RelayReady is sent by the rendezvous relay on a pairing connection once the
// second party has arrived. Party is "alice" for the first arrival, "bob" for
// the second.
const RelayReady = "READY"

type ReadySignal struct {
	Type  string `json:"type"`
	Party string `json:"party"`
}
