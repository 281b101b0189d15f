package api

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bountyforge/bountyforge-ledger/internal/address"
	ledgercrypto "github.com/bountyforge/bountyforge-ledger/internal/crypto"
	"github.com/bountyforge/bountyforge-ledger/internal/logging"
	"github.com/bountyforge/bountyforge-ledger/internal/protocol"
)

const (
	HeaderCaller    = "X-BountyForge-Caller"
	HeaderSignature = "X-BountyForge-Signature"
	HeaderTimestamp = "X-BountyForge-Timestamp"

	maxBodyBytes = 2 << 20

	DefaultMaxClockSkew = 5 * time.Minute
)

// SignatureOptions configures CallerSignatureMiddleware. Require off means
// only the caller header is read, which is meant for loopback development.
type SignatureOptions struct {
	Require bool
	// MaxClockSkew bounds how far the timestamp header may sit from Now.
	MaxClockSkew time.Duration
	Now          func() time.Time
}

type callerKey struct{}

// CallerFrom returns the identity established by CallerSignatureMiddleware.
func CallerFrom(ctx context.Context) (address.Address, bool) {
	caller, ok := ctx.Value(callerKey{}).(address.Address)
	return caller, ok && !caller.IsZero()
}

// CallerSignatureMiddleware authenticates mutating requests. The caller
// header names an ed25519 public key and the signature header carries its
// signature over crypto.RequestPayload for this method, request URI,
// timestamp header and body.
func CallerSignatureMiddleware(opts SignatureOptions) func(http.Handler) http.Handler {
	if opts.MaxClockSkew <= 0 {
		opts.MaxClockSkew = DefaultMaxClockSkew
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			caller, err := address.Parse(strings.TrimSpace(r.Header.Get(HeaderCaller)))
			if err != nil {
				writeUnauthorized(w, r, "missing or malformed "+HeaderCaller+" header")
				return
			}
			body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
			_ = r.Body.Close()
			if err != nil {
				writeUnauthorized(w, r, "unreadable request body")
				return
			}
			if len(body) > maxBodyBytes {
				writeJSON(w, http.StatusRequestEntityTooLarge, protocol.ErrorResponse{Error: protocol.ErrorBody{
					Code:      "BAD_REQUEST",
					Message:   "request body too large",
					Retryable: false,
				}})
				return
			}
			if opts.Require {
				ts, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get(HeaderTimestamp)), 10, 64)
				if err != nil {
					writeUnauthorized(w, r, "missing or malformed "+HeaderTimestamp+" header")
					return
				}
				if skew := opts.Now().Sub(time.Unix(ts, 0)); skew > opts.MaxClockSkew || skew < -opts.MaxClockSkew {
					logging.AddField(r.Context(), "signature_skew_seconds", int64(skew/time.Second))
					writeUnauthorized(w, r, HeaderTimestamp+" is outside the accepted window")
					return
				}
				sig := strings.TrimSpace(r.Header.Get(HeaderSignature))
				payload := ledgercrypto.RequestPayload(r.Method, r.URL.RequestURI(), ts, body)
				if err := ledgercrypto.VerifyCaller(caller, payload, sig); err != nil {
					msg := "invalid request signature"
					if sig == "" {
						msg = "missing " + HeaderSignature + " header"
					}
					logging.AddField(r.Context(), "signature_error", err.Error())
					writeUnauthorized(w, r, msg)
					return
				}
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			logging.AddField(r.Context(), "caller", caller.String())
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, caller)))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	logging.AddField(r.Context(), "error_code", "UNAUTHORIZED")
	logging.AddField(r.Context(), "error_message", msg)
	writeJSON(w, http.StatusUnauthorized, protocol.ErrorResponse{Error: protocol.ErrorBody{
		Code:      "UNAUTHORIZED",
		Message:   msg,
		Retryable: false,
	}})
}

func IPAllowListMiddleware(cidrs []string) (func(http.Handler) http.Handler, error) {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		_, netw, err := net.ParseCIDR(c)
		if err != nil {
			return nil, err
		}
		nets = append(nets, netw)
	}
	if len(nets) == 0 {
		return func(next http.Handler) http.Handler { return next }, nil
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			ip := net.ParseIP(host)
			allowed := false
			for _, n := range nets {
				if ip != nil && n.Contains(ip) {
					allowed = true
					break
				}
			}
			if !allowed {
				writeJSON(w, http.StatusForbidden, protocol.ErrorResponse{Error: protocol.ErrorBody{
					Code:      "FORBIDDEN",
					Message:   "source ip not allowed",
					Retryable: false,
				}})
				return
			}
			next.ServeHTTP(w, r)
		})
	}, nil
}
