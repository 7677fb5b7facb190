package gateway

import (
	"bytes"
	"encoding/json"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/keydrop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/keydrop-backend/pkg/errors"
)

// Callback is a gateway notification reduced to the fields the handler uses.
type Callback struct {
	RefID         string
	ExternalTrxID string
	Status        string
	Gross         *int64
	Net           *int64
	Signature     string

	// Fields holds every received key after merging query and body.
	Fields  map[string]string
	RawBody []byte
}

var (
	refAliases       = []string{"ref_id", "reff_id", "reference_id", "merchant_ref"}
	trxAliases       = []string{"trx_id", "reference", "transaction_id"}
	statusAliases    = []string{"status", "payment_status", "transaction_status"}
	grossAliases     = []string{"amount", "gross_amount", "total_amount"}
	netAliases       = []string{"net_amount", "amount_received", "net"}
	signatureAliases = []string{"signature", "sign", "sig"}
)

// Normalize reads query parameters first and lets body fields override them.
// The body may be JSON or form encoded, with or without a content type. On a
// parse error the returned Callback still carries whatever was readable so the
// caller can log it.
func Normalize(r *http.Request, body []byte) (Callback, error) {
	cb := Callback{Fields: map[string]string{}, RawBody: body}
	if r != nil && r.URL != nil {
		for key, values := range r.URL.Query() {
			if len(values) > 0 {
				cb.Fields[strings.ToLower(key)] = values[0]
			}
		}
	}

	var parseErr error
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 {
		bodyFields, err := parseBody(contentType(r), trimmed)
		if err != nil {
			parseErr = err
		}
		for key, value := range bodyFields {
			cb.Fields[key] = value
		}
	}

	cb.RefID = lookup(cb.Fields, refAliases)
	cb.ExternalTrxID = lookup(cb.Fields, trxAliases)
	cb.Status = strings.ToLower(lookup(cb.Fields, statusAliases))
	cb.Signature = lookup(cb.Fields, signatureAliases)

	gross, err := parseAmount(lookup(cb.Fields, grossAliases))
	if err != nil && parseErr == nil {
		parseErr = err
	}
	cb.Gross = gross
	net, err := parseAmount(lookup(cb.Fields, netAliases))
	if err != nil && parseErr == nil {
		parseErr = err
	}
	cb.Net = net

	return cb, parseErr
}

// Payload is the JSON stored in the webhook log.
func (c Callback) Payload() json.RawMessage {
	fields := make(map[string]string, len(c.Fields)+1)
	for k, v := range c.Fields {
		fields[k] = v
	}
	if len(fields) == 0 && len(bytes.TrimSpace(c.RawBody)) > 0 {
		fields["_raw"] = string(c.RawBody)
	}
	out, err := json.Marshal(fields)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return out
}

// MapStatus translates the gateway's status vocabulary. Unknown values map to
// PENDING with ok=false.
func MapStatus(raw string) (enums.PaymentStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "success", "paid", "settled":
		return enums.PaymentStatusPaid, true
	case "expired":
		return enums.PaymentStatusExpired, true
	case "failed", "failure", "cancelled", "denied":
		return enums.PaymentStatusFailed, true
	case "pending":
		return enums.PaymentStatusPending, true
	default:
		return enums.PaymentStatusPending, false
	}
}

func contentType(r *http.Request) string {
	if r == nil {
		return ""
	}
	raw := r.Header.Get("Content-Type")
	if raw == "" {
		return ""
	}
	media, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(media)
}

func parseBody(media string, body []byte) (map[string]string, error) {
	isJSON := strings.HasSuffix(media, "json") || (media == "" && (body[0] == '{'))
	if isJSON {
		return parseJSON(body)
	}
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed form body")
	}
	fields := make(map[string]string, len(values))
	for key, vals := range values {
		if len(vals) > 0 {
			fields[strings.ToLower(key)] = vals[0]
		}
	}
	return fields, nil
}

func parseJSON(body []byte) (map[string]string, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed json body")
	}
	fields := make(map[string]string, len(raw))
	for key, value := range raw {
		switch v := value.(type) {
		case nil:
		case string:
			fields[strings.ToLower(key)] = v
		case json.Number:
			fields[strings.ToLower(key)] = v.String()
		case bool:
			fields[strings.ToLower(key)] = strconv.FormatBool(v)
		default:
			nested, err := json.Marshal(v)
			if err == nil {
				fields[strings.ToLower(key)] = string(nested)
			}
		}
	}
	return fields, nil
}

func lookup(fields map[string]string, aliases []string) string {
	for _, alias := range aliases {
		if v := strings.TrimSpace(fields[alias]); v != "" {
			return v
		}
	}
	return ""
}

// parseAmount accepts "150000" and "150000.00"; fractional amounts are rejected.
func parseAmount(raw string) (*int64, error) {
	if raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed amount")
	}
	if !d.Equal(d.Truncate(0)) {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "amount %s is not a whole number", raw)
	}
	v := d.IntPart()
	return &v, nil
}
