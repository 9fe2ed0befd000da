package coflink

import (
	"fmt"
	"time"
)

// Protocol constants for outbound hire-purchase requests.
const (
	ServiceRequest  = "5011"
	ProtocolVersion = "008"
	ReceiverID      = "LHV"

	// DefaultRequestURL is the production Coflink endpoint.
	DefaultRequestURL = "https://www.lhv.ee/coflink"

	// testModeQuery is appended to the request URL in test mode. It changes
	// nothing about signing or field content.
	testModeQuery = "?testRequest=true"
)

// DefaultLanguage is used when the merchant configures none. The bank
// environment also accepts RUS; ENG is not available.
const DefaultLanguage = "EST"

// validityWindow is how long a built request stays acceptable to the bank.
const validityWindow = time.Hour

// Request timestamps are civil time in the bank's timezone.
var requestLocation = func() *time.Location {
	loc, err := time.LoadLocation("Europe/Tallinn")
	if err != nil {
		return time.UTC
	}
	return loc
}()

// requestSignatureExcluded lists the fields left out of the outbound MAC.
var requestSignatureExcluded = map[string]bool{
	FieldMAC:      true,
	FieldEncoding: true,
	FieldLang:     true,
}

// RequestBuilder assembles signed outbound payment requests. It is stateless
// across builds and safe for concurrent use.
type RequestBuilder struct {
	MerchantID string
	PrivateKey []byte
	Passphrase string
	Language   string
	RequestURL string // empty means DefaultRequestURL
	TestMode   bool

	nowFunc func() time.Time
}

// PaymentRequest is the complete outbound field set plus the URL the customer
// must be redirected to. The caller owns the actual redirect/post.
type PaymentRequest struct {
	URL    string
	Fields []Field
}

// FieldMap returns the fields as a map for form rendering. Use Fields when
// order matters.
func (r *PaymentRequest) FieldMap() map[string]string {
	m := make(map[string]string, len(r.Fields))
	for _, f := range r.Fields {
		m[f.Key] = f.Value
	}
	return m
}

// Build produces the signed field set for one checkout attempt.
//
// stamp is the merchant-side order identifier, correlated back on the
// inbound response. returnURL doubles as the notification URL; the bank
// may deliver on either or both. Fails with ErrEmptyOrder for an empty
// basket and aborts entirely if signing fails; no partial field set is
// ever returned.
func (b *RequestBuilder) Build(stamp, email, phone, returnURL string, items []OrderItem) (*PaymentRequest, error) {
	if len(items) == 0 {
		return nil, ErrEmptyOrder
	}

	now := b.now().In(requestLocation)
	lang := b.Language
	if lang == "" {
		lang = DefaultLanguage
	}

	// Declaration order is the signing order.
	fields := []Field{
		{FieldService, ServiceRequest},
		{FieldVersion, ProtocolVersion},
		{FieldSenderID, b.MerchantID},
		{FieldReceiver, ReceiverID},
		{FieldStamp, stamp},
		{FieldData, OrderDataXML(items, isoTime(now.Add(validityWindow)))},
		{FieldResponse, returnURL},
		{FieldReturn, returnURL},
		{FieldDatetime, isoTime(now)},
		{FieldMAC, ""},
		{FieldEmail, email},
		{FieldPhone, phone},
		{FieldLang, lang},
	}

	message, err := SignableMessage(fields, requestSignatureExcluded)
	if err != nil {
		return nil, err
	}
	mac, err := Sign(message, b.PrivateKey, b.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}
	for i := range fields {
		if fields[i].Key == FieldMAC {
			fields[i].Value = mac
		}
	}

	return &PaymentRequest{URL: b.requestURL(), Fields: fields}, nil
}

func (b *RequestBuilder) requestURL() string {
	u := b.RequestURL
	if u == "" {
		u = DefaultRequestURL
	}
	if b.TestMode {
		return u + testModeQuery
	}
	return u
}

func (b *RequestBuilder) now() time.Time {
	if b.nowFunc != nil {
		return b.nowFunc()
	}
	return time.Now()
}

// isoTime renders ISO 8601 with a numeric offset, e.g. 2015-02-05T07:18:11+02:00.
func isoTime(t time.Time) string {
	return t.Format("2006-01-02T15:04:05-07:00")
}
