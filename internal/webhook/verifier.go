package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	appErrors "github.com/charlesng35/idbridge/pkg/errors"
)

// DefaultTolerance bounds how far a signature timestamp may drift from local
// time before the delivery is rejected as a potential replay.
const DefaultTolerance = 5 * time.Minute

// Event is the trusted, parsed form of a provider webhook delivery.
type Event struct {
	ID           string
	Type         string
	Created      time.Time
	ObjectID     string
	ObjectStatus string
	// Insecure marks events accepted without signature verification because no
	// webhook secret is configured. Callers must audit the degradation.
	Insecure bool
}

// envelope mirrors the provider's wire format.
type envelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"object"`
	} `json:"data"`
}

// Verifier validates webhook payloads against the shared signing secret.
type Verifier struct {
	secret    string
	tolerance time.Duration
	now       func() time.Time
}

// Option customises the Verifier.
type Option func(*Verifier)

// WithTolerance overrides the signature timestamp tolerance.
func WithTolerance(d time.Duration) Option {
	return func(v *Verifier) {
		if d > 0 {
			v.tolerance = d
		}
	}
}

// WithNow overrides the clock, primarily for tests.
func WithNow(now func() time.Time) Option {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewVerifier builds a Verifier. An empty secret is allowed: verification is
// then skipped and every event is flagged Insecure rather than rejected.
func NewVerifier(secret string, opts ...Option) *Verifier {
	v := &Verifier{
		secret:    strings.TrimSpace(secret),
		tolerance: DefaultTolerance,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Secured reports whether a signing secret is configured.
func (v *Verifier) Secured() bool {
	return v.secret != ""
}

// VerifyAndParse checks the signature over the raw payload bytes and, on
// success, parses the event envelope. Signatures are computed over the exact
// bytes received; the payload must not be re-serialized before this call.
func (v *Verifier) VerifyAndParse(payload []byte, signatureHeader string) (*Event, error) {
	insecure := !v.Secured()
	if !insecure {
		if err := v.verify(payload, signatureHeader); err != nil {
			return nil, err
		}
	}

	event, err := ParseEvent(payload)
	if err != nil {
		return nil, err
	}

	event.Insecure = insecure
	return event, nil
}

// verify validates the `t=<unix>,v1=<hex>` signature header where v1 is
// HMAC-SHA256(secret, "<t>.<payload>").
func (v *Verifier) verify(payload []byte, header string) error {
	timestamp, signatures, err := parseSignatureHeader(header)
	if err != nil {
		return appErrors.ErrSignatureVerification.WithInternal(err)
	}

	drift := v.now().Sub(time.Unix(timestamp, 0))
	if drift > v.tolerance || drift < -v.tolerance {
		return appErrors.ErrSignatureVerification.WithInternal(
			fmt.Errorf("timestamp outside tolerance of %s", v.tolerance))
	}

	expected := computeSignature(v.secret, timestamp, payload)
	for _, candidate := range signatures {
		if hmac.Equal([]byte(candidate), []byte(expected)) {
			return nil
		}
	}

	return appErrors.ErrSignatureVerification.WithInternal(fmt.Errorf("no matching v1 signature"))
}

// ParseEvent decodes the provider envelope without any trust decision.
func ParseEvent(payload []byte) (*Event, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, appErrors.ErrWebhookPayload.WithInternal(err)
	}

	if env.ID == "" || env.Type == "" {
		return nil, appErrors.ErrWebhookPayload.WithInternal(fmt.Errorf("event id and type are required"))
	}

	return &Event{
		ID:           env.ID,
		Type:         env.Type,
		Created:      time.Unix(env.Created, 0),
		ObjectID:     env.Data.Object.ID,
		ObjectStatus: env.Data.Object.Status,
	}, nil
}

// Sign produces a signature header for the payload, used by tests and local
// tooling to emit deliveries the Verifier accepts.
func Sign(secret string, timestamp time.Time, payload []byte) string {
	ts := timestamp.Unix()
	return fmt.Sprintf("t=%d,v1=%s", ts, computeSignature(secret, ts, payload))
}

func computeSignature(secret string, timestamp int64, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func parseSignatureHeader(header string) (int64, []string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, nil, fmt.Errorf("missing signature header")
	}

	var (
		timestamp  int64
		signatures []string
		sawT       bool
	)

	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			return 0, nil, fmt.Errorf("malformed signature element %q", part)
		}

		switch key {
		case "t":
			parsed, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("malformed timestamp: %w", err)
			}
			timestamp = parsed
			sawT = true
		case "v1":
			signatures = append(signatures, value)
		default:
			// Ignore unknown schemes so the provider can roll signature versions.
		}
	}

	if !sawT {
		return 0, nil, fmt.Errorf("signature header missing timestamp")
	}
	if len(signatures) == 0 {
		return 0, nil, fmt.Errorf("signature header missing v1 signature")
	}

	return timestamp, signatures, nil
}
