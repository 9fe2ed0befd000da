package coflink

// Inbound service codes.
const (
	ServiceConfirmed    = "5111"
	ServiceManualReview = "5112"
	ServiceRejected     = "5113"
)

// CorrelationParam is the merchant-chosen query parameter on the return URL,
// carrying the order stamp. When the customer walks back from the bank
// without a decision, it is the only field on the request.
const CorrelationParam = "coflink-payment"

// Status is the decoded protocol outcome of a signed response.
type Status int

const (
	StatusUnknown Status = iota
	StatusConfirmed
	StatusRejected
	StatusManualReview
)

func (s Status) String() string {
	switch s {
	case StatusConfirmed:
		return "confirmed"
	case StatusRejected:
		return "rejected"
	case StatusManualReview:
		return "manual-review"
	default:
		return "unknown"
	}
}

// Kind classifies an inbound field map.
type Kind int

const (
	// KindSigned is a content-bearing response with a MAC to verify.
	KindSigned Kind = iota
	// KindEmpty is the bare return-URL visit: exactly the correlation
	// parameter and nothing else. It means "no decision yet", not failure.
	KindEmpty
	// KindAnomalous is anything else — including a present-but-empty MAC —
	// and is surfaced as a technical error, never silently ignored.
	KindAnomalous
)

// DecodeStatus maps a service code to a protocol status by exact match.
// Unrecognized codes decode to StatusUnknown; the caller must log them and
// treat the delivery as a technical error.
func DecodeStatus(serviceCode string) Status {
	switch serviceCode {
	case ServiceConfirmed:
		return StatusConfirmed
	case ServiceManualReview:
		return StatusManualReview
	case ServiceRejected:
		return StatusRejected
	default:
		return StatusUnknown
	}
}

// Response is an immutable wrapper around the raw inbound field map.
type Response struct {
	fields map[string]string
}

// NewResponse wraps raw callback fields. The map is copied; later mutation of
// raw does not affect the response.
func NewResponse(raw map[string]string) *Response {
	fields := make(map[string]string, len(raw))
	for k, v := range raw {
		fields[k] = v
	}
	return &Response{fields: fields}
}

// Kind classifies the response. A response is empty iff it carries exactly
// the correlation parameter and no MAC; a non-empty MAC makes it signed;
// everything else is anomalous.
func (r *Response) Kind() Kind {
	if r.fields[FieldMAC] != "" {
		return KindSigned
	}
	if len(r.fields) == 1 && r.fields[CorrelationParam] != "" {
		return KindEmpty
	}
	return KindAnomalous
}

// OrderStamp returns the merchant order identifier: VK_STAMP on the signed
// path, the correlation parameter on the empty path.
func (r *Response) OrderStamp() string {
	if stamp := r.fields[FieldStamp]; stamp != "" {
		return stamp
	}
	return r.fields[CorrelationParam]
}

// Status decodes the service code of a signed response.
func (r *Response) Status() Status {
	return DecodeStatus(r.fields[FieldService])
}

// ServiceCode returns the raw service code, for logging unknown values.
func (r *Response) ServiceCode() string {
	return r.fields[FieldService]
}

// Verify rebuilds the signable message from the seven core response fields,
// in their fixed order, and checks the MAC against the bank public key.
// The field list is independent of the outbound exclusion set. Fails closed.
func (r *Response) Verify(publicKeyPEM []byte) bool {
	parts := []Field{
		{FieldService, r.fields[FieldService]},
		{FieldVersion, r.fields[FieldVersion]},
		{FieldSenderID, r.fields[FieldSenderID]},
		{FieldReceiver, r.fields[FieldReceiver]},
		{FieldStamp, r.fields[FieldStamp]},
		{FieldData, r.fields[FieldData]},
		{FieldDatetime, r.fields[FieldDatetime]},
	}
	message, err := SignableMessage(parts, nil)
	if err != nil {
		return false
	}
	return Verify(message, r.fields[FieldMAC], publicKeyPEM)
}

// Fields returns a copy of the raw field map, mainly for logging.
func (r *Response) Fields() map[string]string {
	m := make(map[string]string, len(r.fields))
	for k, v := range r.fields {
		m[k] = v
	}
	return m
}
