package relay

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/deabakjj/MYCREATA1-sub001/internal/db/models"
)

const (
	// erc20TransferSelector is transfer(address,uint256)
	erc20TransferSelector = "0xa9059cbb"
	// erc721SafeTransferSelector is safeTransferFrom(address,address,uint256)
	erc721SafeTransferSelector = "0x42842e0e"

	messagePreviewLength = 50
)

const (
	ActionTokenTransfer       = "Token Transfer"
	ActionNFTTransfer         = "NFT Transfer"
	ActionContractInteraction = "Contract Interaction"
	ActionSend                = "Send"
	ActionContractDeployment  = "Contract Deployment"
	ActionSignMessage         = "Sign Message"
	ActionPersonalSign        = "Personal Sign"
	ActionSignTypedData       = "Sign Typed Data"
	ActionUnknown             = "Unknown Request"
)

// Describe turns a raw signing payload into a user-facing description.
// It never fails: unknown types and undecodable payloads get a generic description.
func Describe(requestType string, raw json.RawMessage) models.HumanReadable {
	req, err := ParseRequest(requestType, raw)
	if err != nil {
		return models.HumanReadable{
			ActionType:        ActionUnknown,
			ActionDescription: fmt.Sprintf("Unrecognized %s request", requestType),
		}
	}
	return req.describe()
}

// DescribeRequest returns the user-facing description of a parsed request
func DescribeRequest(req SigningRequest) models.HumanReadable {
	return req.describe()
}

func (r *TransactionRequest) describe() models.HumanReadable {
	data := r.callData()

	if len(data) >= 4 {
		switch hexutil.Encode(data[:4]) {
		case erc20TransferSelector:
			if len(data) >= 4+64 {
				args := data[4:]
				recipient := common.BytesToAddress(args[12:32]).Hex()
				amount := new(big.Int).SetBytes(args[32:64]).String()
				return models.HumanReadable{
					ActionType:        ActionTokenTransfer,
					ActionDescription: fmt.Sprintf("Transfer %s token units of %s to %s", amount, shortAddress(r.To), shortAddress(recipient)),
					Amount:            &amount,
					AssetType:         strPtr("ERC20"),
					Recipient:         &recipient,
				}
			}
		case erc721SafeTransferSelector:
			if len(data) >= 4+96 {
				args := data[4:]
				recipient := common.BytesToAddress(args[44:64]).Hex()
				tokenID := new(big.Int).SetBytes(args[64:96]).String()
				return models.HumanReadable{
					ActionType:        ActionNFTTransfer,
					ActionDescription: fmt.Sprintf("Transfer NFT #%s of %s to %s", tokenID, shortAddress(r.To), shortAddress(recipient)),
					Amount:            strPtr("1"),
					AssetType:         strPtr("ERC721"),
					Recipient:         &recipient,
				}
			}
		}
	}

	hr := models.HumanReadable{}
	if r.To != "" {
		to := common.HexToAddress(r.To).Hex()
		hr.Recipient = &to
	}
	if amount := r.displayValue(); amount != "" {
		hr.Amount = &amount
		hr.AssetType = strPtr("native")
	}

	switch {
	case len(data) > 0 && r.To != "":
		hr.ActionType = ActionContractInteraction
		hr.ActionDescription = fmt.Sprintf("Interact with contract %s", shortAddress(r.To))
		if hr.Amount != nil {
			hr.ActionDescription += fmt.Sprintf(" sending %s", *hr.Amount)
		}
	case len(data) > 0:
		hr.ActionType = ActionContractDeployment
		hr.ActionDescription = "Deploy a new contract"
	default:
		amount := "0"
		if hr.Amount != nil {
			amount = *hr.Amount
		}
		hr.ActionType = ActionSend
		hr.ActionDescription = fmt.Sprintf("Send %s to %s", amount, shortAddress(r.To))
	}
	return hr
}

// displayValue returns the native value in ether units, or "" when absent
func (r *TransactionRequest) displayValue() string {
	if r.Value == "" {
		return ""
	}
	v, err := ParseAmount(string(r.Value))
	if err != nil {
		return ""
	}
	return FormatAmount(v)
}

func (r *MessageRequest) describe() models.HumanReadable {
	return models.HumanReadable{
		ActionType:        ActionSignMessage,
		ActionDescription: "Sign message: " + messagePreview(r.Message),
	}
}

func (r *PersonalSignRequest) describe() models.HumanReadable {
	return models.HumanReadable{
		ActionType:        ActionPersonalSign,
		ActionDescription: "Sign message: " + messagePreview(r.Message),
	}
}

func (r *TypedDataRequest) describe() models.HumanReadable {
	doc := typedDataDocument(r.TypedData)
	desc := "Sign structured data"
	if name := doc.Get("domain.name").String(); name != "" {
		desc += " for " + name
	}
	if primary := doc.Get("primaryType").String(); primary != "" {
		desc += fmt.Sprintf(" (%s)", primary)
	}
	return models.HumanReadable{
		ActionType:        ActionSignTypedData,
		ActionDescription: desc,
	}
}

// messagePreview hex-decodes msg when it is printable UTF-8 and truncates the result.
// Anything that does not decode is shown as given.
func messagePreview(msg string) string {
	text := msg
	if strings.HasPrefix(msg, "0x") {
		if b, err := hexutil.Decode(msg); err == nil && isPrintable(b) {
			text = string(b)
		}
	}
	return truncate(text, messagePreviewLength)
}

func isPrintable(b []byte) bool {
	if !utf8.Valid(b) {
		return false
	}
	for _, r := range string(b) {
		if !unicode.IsPrint(r) && !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}

// shortAddress renders 0x1234...abcd for display
func shortAddress(addr string) string {
	if !common.IsHexAddress(addr) {
		return addr
	}
	hex := common.HexToAddress(addr).Hex()
	return hex[:6] + "..." + hex[len(hex)-4:]
}

func strPtr(s string) *string { return &s }
