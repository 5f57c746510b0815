package discord

import (
	"crypto/ed25519"
	"encoding/hex"
	"net/http"
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"
	strconv2 "github.com/savsgio/gotils/strconv"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

const (
	HeaderSignature = "X-Signature-Ed25519"
	HeaderTimestamp = "X-Signature-Timestamp"
)

// AuthError 签名校验失败，一律按 401 处理
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string { return "unauthorized interaction: " + e.Reason }

var (
	ErrMissingHeaders     = &AuthError{Reason: "missing signature headers"}
	ErrMalformedSignature = &AuthError{Reason: "malformed signature"}
	ErrMalformedTimestamp = &AuthError{Reason: "malformed timestamp"}
	ErrStaleTimestamp     = &AuthError{Reason: "timestamp outside allowed window"}
	ErrInvalidSignature   = &AuthError{Reason: "signature mismatch"}
)

func IsAuthError(err error) bool {
	var e *AuthError
	return errors.As(err, &e)
}

// Verifier 使用机器人公钥校验 Discord 的 webhook 签名
type Verifier struct {
	key     ed25519.PublicKey
	maxSkew time.Duration
	now     func() time.Time
}

type VerifierOption func(*Verifier)

// WithMaxSkew 时间戳允许的偏差，0 表示不检查
func WithMaxSkew(d time.Duration) VerifierOption {
	return func(v *Verifier) { v.maxSkew = d }
}

func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) { v.now = now }
}

func NewVerifier(publicKeyHex string, opts ...VerifierOption) (*Verifier, error) {
	raw, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return nil, errors.Wrap(err, "decode discord public key")
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, errors.Errorf("discord public key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	v := &Verifier{
		key:     ed25519.PublicKey(raw),
		maxSkew: 5 * time.Minute,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify 校验请求头中 timestamp||body 上的签名
func (v *Verifier) Verify(ctx *fasthttp.RequestCtx) error {
	signature := strconv2.B2S(ctx.Request.Header.Peek(HeaderSignature))
	timestamp := strconv2.B2S(ctx.Request.Header.Peek(HeaderTimestamp))
	if signature == "" || timestamp == "" {
		return ErrMissingHeaders
	}

	sig, err := hex.DecodeString(signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return ErrMalformedSignature
	}

	if v.maxSkew > 0 {
		sec, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			return ErrMalformedTimestamp
		}
		skew := v.now().Sub(time.Unix(sec, 0))
		if skew > v.maxSkew || skew < -v.maxSkew {
			return ErrStaleTimestamp
		}
	}

	var r http.Request
	if err := fasthttpadaptor.ConvertRequest(ctx, &r, true); err != nil {
		return &AuthError{Reason: "unreadable request: " + err.Error()}
	}
	if !discordgo.VerifyInteraction(&r, v.key) {
		return ErrInvalidSignature
	}
	return nil
}
