package relay

import (
	"encoding/json"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/tidwall/gjson"

	"github.com/deabakjj/MYCREATA1-sub001/internal/db/models"
)

// RequestType names a signing request variant
type RequestType string

const (
	RequestSignTransaction RequestType = "signTransaction"
	RequestSignMessage     RequestType = "signMessage"
	RequestPersonalSign    RequestType = "personalSign"
	RequestSignTypedData   RequestType = "signTypedData"
)

// RequestTypes lists every supported request type
var RequestTypes = []RequestType{
	RequestSignTransaction,
	RequestSignMessage,
	RequestPersonalSign,
	RequestSignTypedData,
}

// SigningRequest is the closed set of payloads a DApp may ask a wallet to sign.
// Variants are declared in this package only; each must describe itself and expose
// its risk inputs, so a new variant does not compile until both exist.
type SigningRequest interface {
	Type() RequestType
	describe() models.HumanReadable
	riskInputs() riskInputs
}

// TransactionRequest is an EVM transaction to sign (signTransaction)
type TransactionRequest struct {
	From  string        `json:"from,omitempty"`
	To    string        `json:"to,omitempty"`
	Value models.Amount `json:"value,omitempty"` // 0x-hex wei or decimal ether
	Data  string        `json:"data,omitempty"`  // 0x-hex call data
	Gas   string        `json:"gas,omitempty"`
}

// MessageRequest is a raw message to sign (signMessage)
type MessageRequest struct {
	Message string `json:"message"`
}

// PersonalSignRequest is an EIP-191 personal message to sign (personalSign)
type PersonalSignRequest struct {
	Message string `json:"message"`
}

// TypedDataRequest is an EIP-712 payload to sign (signTypedData)
type TypedDataRequest struct {
	TypedData json.RawMessage `json:"typedData"`
}

func (*TransactionRequest) Type() RequestType  { return RequestSignTransaction }
func (*MessageRequest) Type() RequestType      { return RequestSignMessage }
func (*PersonalSignRequest) Type() RequestType { return RequestPersonalSign }
func (*TypedDataRequest) Type() RequestType    { return RequestSignTypedData }

// ParseRequest decodes raw request data for requestType into its variant
func ParseRequest(requestType string, raw json.RawMessage) (SigningRequest, error) {
	if len(raw) == 0 || !gjson.ValidBytes(raw) {
		return nil, validationError("requestData must be valid JSON")
	}

	switch RequestType(requestType) {
	case RequestSignTransaction:
		var r TransactionRequest
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, validationError("invalid signTransaction payload: %v", err)
		}
		if err := r.validate(); err != nil {
			return nil, err
		}
		return &r, nil

	case RequestSignMessage:
		var r MessageRequest
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, validationError("invalid signMessage payload: %v", err)
		}
		if r.Message == "" {
			return nil, validationError("requestData.message is required")
		}
		return &r, nil

	case RequestPersonalSign:
		var r PersonalSignRequest
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, validationError("invalid personalSign payload: %v", err)
		}
		if r.Message == "" {
			return nil, validationError("requestData.message is required")
		}
		return &r, nil

	case RequestSignTypedData:
		// Accept {"typedData": {...}} as well as the typed-data object itself.
		td := gjson.GetBytes(raw, "typedData")
		payload := raw
		if td.Exists() {
			payload = json.RawMessage(td.Raw)
		}
		if !typedDataDocument(payload).Get("domain").Exists() {
			return nil, validationError("requestData.typedData must contain a domain")
		}
		return &TypedDataRequest{TypedData: payload}, nil
	}

	return nil, validationError("unsupported requestType %q", requestType)
}

func (r *TransactionRequest) validate() error {
	if r.To == "" && r.Data == "" {
		return validationError("requestData must include to or data")
	}
	if r.To != "" && !common.IsHexAddress(r.To) {
		return validationError("requestData.to is not a valid address")
	}
	if r.Data != "" && r.Data != "0x" {
		if _, err := hexutil.Decode(r.Data); err != nil {
			return validationError("requestData.data must be 0x-prefixed hex")
		}
	}
	if r.Value != "" {
		if _, err := ParseAmount(string(r.Value)); err != nil {
			return validationError("requestData.value: %v", err)
		}
	}
	return nil
}

// callData returns the decoded call data, or nil when absent
func (r *TransactionRequest) callData() []byte {
	if r.Data == "" || r.Data == "0x" {
		return nil
	}
	b, err := hexutil.Decode(r.Data)
	if err != nil {
		return nil
	}
	return b
}

// typedDataDocument returns the typed-data JSON. Wallet APIs commonly pass
// eth_signTypedData_v4 payloads as a JSON-encoded string; those are unwrapped.
func typedDataDocument(raw json.RawMessage) gjson.Result {
	doc := gjson.ParseBytes(raw)
	if doc.Type == gjson.String && strings.HasPrefix(strings.TrimSpace(doc.Str), "{") {
		return gjson.Parse(doc.Str)
	}
	return doc
}
