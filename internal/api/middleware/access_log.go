package middleware

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/claimguard-jp/claimguard/internal/domain"
)

const identityKey contextKey = "request_identity"

// requestIdentity is a mutable slot the token auth layer fills in, so
// middleware mounted outside it can attribute the request after the
// handler returns. Context values set deeper in the chain are not
// visible out here.
type requestIdentity struct {
	mu   sync.Mutex
	user *domain.User
}

func (id *requestIdentity) set(user *domain.User) {
	id.mu.Lock()
	id.user = user
	id.mu.Unlock()
}

func (id *requestIdentity) get() *domain.User {
	id.mu.Lock()
	defer id.mu.Unlock()
	return id.user
}

func identityFrom(ctx context.Context) *requestIdentity {
	id, _ := ctx.Value(identityKey).(*requestIdentity)
	return id
}

// ensureIdentity returns the request's identity slot, creating it when
// this is the first middleware in the chain to need one.
func ensureIdentity(r *http.Request) (*requestIdentity, *http.Request) {
	if id := identityFrom(r.Context()); id != nil {
		return id, r
	}
	id := &requestIdentity{}
	return id, r.WithContext(context.WithValue(r.Context(), identityKey, id))
}

// accessLogEntry is one JSON log line per request. Streaming requests
// log on disconnect, so duration_ms covers the whole SSE session for
// those.
type accessLogEntry struct {
	Timestamp  string `json:"ts"`
	Method     string `json:"method"`
	Path       string `json:"path"`
	Status     int    `json:"status"`
	Bytes      int    `json:"bytes"`
	DurationMS int64  `json:"duration_ms"`
	RequestID  string `json:"request_id,omitempty"`
	OrgID      string `json:"org_id,omitempty"`
	UserID     string `json:"user_id,omitempty"`
	RemoteAddr string `json:"remote_addr,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
}

type responseRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// Flush keeps SSE delivery working through the recorder.
func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// AccessLog writes one structured line per request. org_id and user_id
// are filled in by the token auth layer through the identity slot.
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w}
		ident, r := ensureIdentity(r)

		next.ServeHTTP(rec, r)

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}

		entry := accessLogEntry{
			Timestamp:  start.UTC().Format(time.RFC3339Nano),
			Method:     r.Method,
			Path:       r.URL.Path,
			Status:     status,
			Bytes:      rec.bytes,
			DurationMS: time.Since(start).Milliseconds(),
			RequestID:  GetRequestID(r.Context()),
			RemoteAddr: clientIP(r),
			UserAgent:  r.UserAgent(),
		}
		if user := ident.get(); user != nil {
			entry.UserID = user.ID
			entry.OrgID = user.OrgID
		}

		payload, err := json.Marshal(entry)
		if err != nil {
			log.Printf("access log: marshal failed: %v", err)
			return
		}
		log.Println(string(payload))
	})
}

// clientIP prefers proxy headers since the daemon normally sits behind
// a load balancer.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}

	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
