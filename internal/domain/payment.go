package domain

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

type PaymentMethod string

const (
	PaymentMethodUPI        PaymentMethod = "upi"
	PaymentMethodCard       PaymentMethod = "card"
	PaymentMethodNetBanking PaymentMethod = "net-banking"
	PaymentMethodWallet     PaymentMethod = "wallet"
)

// PaymentDetails is a closed variant over the supported payment instruments.
// Each variant validates itself once at the port boundary.
type PaymentDetails interface {
	Method() PaymentMethod
	Validate() error
	// Metadata is forwarded to the gateway alongside a hold.
	Metadata() map[string]string
	sealed()
}

type UPIDetails struct {
	UPIID string `json:"upi_id"`
}

type CardDetails struct {
	Network string `json:"network"`
	Last4   string `json:"last4"`
	Token   string `json:"token"` // gateway-issued card token, never a PAN
}

type NetBankingDetails struct {
	Bank string `json:"bank"`
}

type WalletDetails struct {
	Provider string `json:"provider"`
}

var (
	upiPattern   = regexp.MustCompile(`^[A-Za-z0-9.\-_]{2,256}@[A-Za-z]{2,64}$`)
	last4Pattern = regexp.MustCompile(`^[0-9]{4}$`)
)

func (UPIDetails) Method() PaymentMethod        { return PaymentMethodUPI }
func (CardDetails) Method() PaymentMethod       { return PaymentMethodCard }
func (NetBankingDetails) Method() PaymentMethod { return PaymentMethodNetBanking }
func (WalletDetails) Method() PaymentMethod     { return PaymentMethodWallet }

func (UPIDetails) sealed()        {}
func (CardDetails) sealed()       {}
func (NetBankingDetails) sealed() {}
func (WalletDetails) sealed()     {}

func (d UPIDetails) Validate() error {
	if !upiPattern.MatchString(d.UPIID) {
		return NewValidationError("upi id is malformed", "field", "upi_id")
	}
	return nil
}

func (d CardDetails) Validate() error {
	if strings.TrimSpace(d.Network) == "" {
		return NewValidationError("card network is required", "field", "network")
	}
	if !last4Pattern.MatchString(d.Last4) {
		return NewValidationError("card last4 must be four digits", "field", "last4")
	}
	if strings.TrimSpace(d.Token) == "" {
		return NewValidationError("card token is required", "field", "token")
	}
	return nil
}

func (d NetBankingDetails) Validate() error {
	if strings.TrimSpace(d.Bank) == "" {
		return NewValidationError("bank is required", "field", "bank")
	}
	return nil
}

func (d WalletDetails) Validate() error {
	if strings.TrimSpace(d.Provider) == "" {
		return NewValidationError("wallet provider is required", "field", "provider")
	}
	return nil
}

func (d UPIDetails) Metadata() map[string]string {
	return map[string]string{"method": string(PaymentMethodUPI), "upi_id": d.UPIID}
}

func (d CardDetails) Metadata() map[string]string {
	return map[string]string{"method": string(PaymentMethodCard), "network": d.Network, "last4": d.Last4, "card_token": d.Token}
}

func (d NetBankingDetails) Metadata() map[string]string {
	return map[string]string{"method": string(PaymentMethodNetBanking), "bank": d.Bank}
}

func (d WalletDetails) Metadata() map[string]string {
	return map[string]string{"method": string(PaymentMethodWallet), "provider": d.Provider}
}

type paymentEnvelope struct {
	Method  PaymentMethod   `json:"method"`
	Details json.RawMessage `json:"details"`
}

// MarshalPaymentDetails encodes a variant with its method tag for storage.
func MarshalPaymentDetails(d PaymentDetails) ([]byte, error) {
	if d == nil {
		return nil, fmt.Errorf("payment details are nil")
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payment details: %w", err)
	}
	return json.Marshal(paymentEnvelope{Method: d.Method(), Details: raw})
}

// UnmarshalPaymentDetails decodes a tagged payload into its variant.
func UnmarshalPaymentDetails(data []byte) (PaymentDetails, error) {
	var env paymentEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode payment envelope: %w", err)
	}
	return DecodePaymentDetails(env.Method, env.Details)
}

// DecodePaymentDetails builds the variant for method from its JSON fields.
func DecodePaymentDetails(method PaymentMethod, fields []byte) (PaymentDetails, error) {
	var (
		d   PaymentDetails
		err error
	)
	switch method {
	case PaymentMethodUPI:
		var v UPIDetails
		err = json.Unmarshal(fields, &v)
		d = v
	case PaymentMethodCard:
		var v CardDetails
		err = json.Unmarshal(fields, &v)
		d = v
	case PaymentMethodNetBanking:
		var v NetBankingDetails
		err = json.Unmarshal(fields, &v)
		d = v
	case PaymentMethodWallet:
		var v WalletDetails
		err = json.Unmarshal(fields, &v)
		d = v
	default:
		return nil, NewValidationError("unsupported payment method", "method", string(method))
	}
	if err != nil {
		return nil, NewValidationError("payment details are malformed", "method", string(method))
	}
	return d, nil
}
