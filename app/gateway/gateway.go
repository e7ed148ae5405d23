package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"sort"
	"strings"
)

// Ack tokens returned to the payment gateway. The gateway retries a
// notification until it reads AckSuccess, so "already processed" must ack
// success while recoverable failures ack fail to invite a retry.
const (
	AckSuccess = "success"
	AckFail    = "fail"
)

const (
	TradeStatusSuccess = "TRADE_SUCCESS"
	TradeStatusClosed  = "TRADE_CLOSED"
)

var (
	ErrInvalidSignature      = errors.New("invalid gateway signature")
	ErrMalformedNotification = errors.New("malformed gateway notification")
)

// Notification is the decoded asynchronous payment notification.
type Notification struct {
	OrderNo     string
	TradeRef    string
	TradeStatus string
}

// Gateway verifies and decodes inbound gateway notifications. The wire
// encoding is gateway-specific; the rest of the service only sees
// Notification values.
type Gateway interface {
	VerifyNotification(params url.Values) (*Notification, error)
}

// HMACGateway implements the shared-secret signing scheme used by the
// sandbox gateway: HMAC-SHA256 over the sorted key=value pairs, hex encoded,
// carried in the "sign" parameter.
type HMACGateway struct {
	secret []byte
}

func NewHMACGateway(secret string) *HMACGateway {
	return &HMACGateway{secret: []byte(secret)}
}

func (g *HMACGateway) VerifyNotification(params url.Values) (*Notification, error) {
	signature := strings.TrimSpace(params.Get("sign"))
	if signature == "" {
		return nil, ErrInvalidSignature
	}
	if !hmac.Equal([]byte(signature), []byte(g.Sign(params))) {
		return nil, ErrInvalidSignature
	}

	notification := &Notification{
		OrderNo:     strings.TrimSpace(params.Get("out_trade_no")),
		TradeRef:    strings.TrimSpace(params.Get("trade_no")),
		TradeStatus: strings.TrimSpace(params.Get("trade_status")),
	}
	if notification.OrderNo == "" || notification.TradeStatus == "" {
		return nil, ErrMalformedNotification
	}

	return notification, nil
}

// Sign computes the signature for params, excluding the "sign" parameter
// itself. Exported so tests and sandbox clients can produce valid payloads.
func (g *HMACGateway) Sign(params url.Values) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		if key == "sign" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+"="+params.Get(key))
	}

	mac := hmac.New(sha256.New, g.secret)
	mac.Write([]byte(strings.Join(pairs, "&")))
	return hex.EncodeToString(mac.Sum(nil))
}
