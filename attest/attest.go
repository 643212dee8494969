// Package attest signs outgoing paid requests with HTTP message
// signatures (RFC 9421) so a merchant can tie the payment proof to an
// agent identity. Attestation is best-effort by contract: callers skip
// it when credentials are unavailable and never fail a payment over it.
package attest

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/agentwallet-go/x402"
)

// Header names attached to attested requests.
const (
	// AttestationHeader carries the agent's identity token.
	AttestationHeader = "X-Agent-Attestation"

	// SignatureInputHeader names the covered components and parameters.
	SignatureInputHeader = "Signature-Input"

	// SignatureHeader carries the signature bytes.
	SignatureHeader = "Signature"
)

const (
	signatureLabel = "sig1"
	signatureTag   = "agent-payment"
	algorithm      = "ed25519"

	// maxLifetime caps how long a signature may stay valid.
	maxLifetime     = 8 * time.Minute
	defaultLifetime = 5 * time.Minute

	nonceSize = 16
)

// ErrUnavailable reports that the agent has no attestation identity.
// Payments proceed unattested when a credential source returns it.
var ErrUnavailable = errors.New("attest: credentials unavailable")

// coveredComponents lists the signed parts of the request, in
// signature-base order.
var coveredComponents = []string{
	"@method",
	"@authority",
	"@request-target",
	"x-payment",
	"x-agent-attestation",
}

// Credentials is the signing material for one attestation.
type Credentials struct {
	// KeyID identifies the key to the verifier.
	KeyID string

	// PrivateKey signs the request.
	PrivateKey ed25519.PrivateKey

	// IdentityToken is the opaque agent identity statement sent in
	// the X-Agent-Attestation header.
	IdentityToken string
}

// CredentialSource supplies attestation credentials per request.
// Implementations return ErrUnavailable when no identity is
// provisioned; any other error means the source itself failed.
type CredentialSource interface {
	Credentials(ctx context.Context) (*Credentials, error)
}

// StaticCredentials is a CredentialSource with fixed material. A
// non-zero ExpiresAt bounds the identity token's lifetime; past it
// the source reports ErrUnavailable, like a missing identity.
type StaticCredentials struct {
	KeyID         string
	PrivateKey    ed25519.PrivateKey
	IdentityToken string
	ExpiresAt     time.Time
}

// Credentials implements CredentialSource.
func (s *StaticCredentials) Credentials(_ context.Context) (*Credentials, error) {
	if s == nil || s.KeyID == "" || s.IdentityToken == "" || len(s.PrivateKey) != ed25519.PrivateKeySize {
		return nil, ErrUnavailable
	}
	if !s.ExpiresAt.IsZero() && time.Now().After(s.ExpiresAt) {
		return nil, ErrUnavailable
	}
	return &Credentials{
		KeyID:         s.KeyID,
		PrivateKey:    s.PrivateKey,
		IdentityToken: s.IdentityToken,
	}, nil
}

// Unavailable is a CredentialSource that never has credentials.
type Unavailable struct{}

// Credentials implements CredentialSource.
func (Unavailable) Credentials(_ context.Context) (*Credentials, error) {
	return nil, ErrUnavailable
}

// Headers is one attestation: the identity token plus the RFC 9421
// signature pair covering it and the payment proof.
type Headers struct {
	// Attestation is the X-Agent-Attestation header value.
	Attestation string

	// SignatureInput is the Signature-Input header value.
	SignatureInput string

	// Signature is the Signature header value.
	Signature string
}

// Apply merges the attestation headers into an outbound header set.
func (h *Headers) Apply(header http.Header) {
	header.Set(AttestationHeader, h.Attestation)
	header.Set(SignatureInputHeader, h.SignatureInput)
	header.Set(SignatureHeader, h.Signature)
}

// Signer attaches attestation headers to outgoing requests.
type Signer struct {
	source   CredentialSource
	lifetime time.Duration
	now      func() time.Time
	newNonce func() (string, error)
}

// Option configures a Signer.
type Option func(*Signer)

// WithLifetime sets how long signatures stay valid. Values above the
// protocol ceiling are clamped to it.
func WithLifetime(d time.Duration) Option {
	return func(s *Signer) {
		if d <= 0 {
			return
		}
		if d > maxLifetime {
			d = maxLifetime
		}
		s.lifetime = d
	}
}

// NewSigner creates a Signer over the given credential source. A nil
// source behaves as Unavailable.
func NewSigner(source CredentialSource, opts ...Option) *Signer {
	if source == nil {
		source = Unavailable{}
	}
	s := &Signer{
		source:   source,
		lifetime: defaultLifetime,
		now:      time.Now,
		newNonce: generateNonce,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sign adds the X-Agent-Attestation, Signature-Input and Signature
// headers to req. The request's X-PAYMENT header must already be set;
// the signature covers it. Returns ErrUnavailable when the credential
// source has no identity.
func (s *Signer) Sign(ctx context.Context, req *http.Request) error {
	creds, err := s.source.Credentials(ctx)
	if err != nil {
		return err
	}

	if req.Header.Get(x402.PaymentHeader) == "" {
		return fmt.Errorf("attest: request has no %s header to cover", x402.PaymentHeader)
	}

	nonce, err := s.newNonce()
	if err != nil {
		return fmt.Errorf("attest: %w", err)
	}

	created := s.now()
	params := signatureParams(created, created.Add(s.lifetime), creds.KeyID, nonce)

	req.Header.Set(AttestationHeader, creds.IdentityToken)

	base := signatureBase(req, params)
	signature := ed25519.Sign(creds.PrivateKey, []byte(base))

	req.Header.Set(SignatureInputHeader, signatureLabel+"="+params)
	req.Header.Set(SignatureHeader, fmt.Sprintf("%s=:%s:", signatureLabel, base64.StdEncoding.EncodeToString(signature)))
	return nil
}

// BuildHeaders produces the attestation header values for a request
// about to be retried with the given payment proof attached. It
// returns ErrUnavailable when the agent has no identity; callers treat
// that as a normal skip, not a failure.
func (s *Signer) BuildHeaders(ctx context.Context, method, rawURL, paymentHeader string) (*Headers, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("attest: invalid request: %w", err)
	}
	req.Header.Set(x402.PaymentHeader, paymentHeader)
	if err := s.Sign(ctx, req); err != nil {
		return nil, err
	}
	return &Headers{
		Attestation:    req.Header.Get(AttestationHeader),
		SignatureInput: req.Header.Get(SignatureInputHeader),
		Signature:      req.Header.Get(SignatureHeader),
	}, nil
}

// signatureParams serializes the covered component list with its
// signature parameters, as it appears in both Signature-Input and the
// final line of the signature base.
func signatureParams(created, expires time.Time, keyID, nonce string) string {
	var b strings.Builder
	b.WriteByte('(')
	for i, component := range coveredComponents {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteByte('"')
		b.WriteString(component)
		b.WriteByte('"')
	}
	b.WriteByte(')')
	fmt.Fprintf(&b, ";created=%d", created.Unix())
	fmt.Fprintf(&b, ";expires=%d", expires.Unix())
	fmt.Fprintf(&b, ";keyid=%q", keyID)
	fmt.Fprintf(&b, ";alg=%q", algorithm)
	fmt.Fprintf(&b, ";nonce=%q", nonce)
	fmt.Fprintf(&b, ";tag=%q", signatureTag)
	return b.String()
}

// signatureBase builds the RFC 9421 signature base for the request:
// one `"identifier": value` line per covered component, terminated by
// the @signature-params line, joined with newlines.
func signatureBase(req *http.Request, params string) string {
	var b strings.Builder
	for _, component := range coveredComponents {
		b.WriteByte('"')
		b.WriteString(component)
		b.WriteString(`": `)
		b.WriteString(componentValue(req, component))
		b.WriteByte('\n')
	}
	b.WriteString(`"@signature-params": `)
	b.WriteString(params)
	return b.String()
}

func componentValue(req *http.Request, component string) string {
	switch component {
	case "@method":
		return req.Method
	case "@authority":
		if req.Host != "" {
			return req.Host
		}
		return req.URL.Host
	case "@request-target":
		return req.URL.RequestURI()
	default:
		return req.Header.Get(component)
	}
}

func generateNonce() (string, error) {
	buf := make([]byte, nonceSize)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
