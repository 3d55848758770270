// Package preprocess turns raw webhook payloads into accepted turns. It
// applies the intake gates in a fixed order: duplicate suppression, rate
// limiting, business-hours tagging, sanitization, and normalization.
// A message either comes out as an AcceptedTurn or is dropped with a
// reason; gates never reorder.
package preprocess

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/dmaraujo/recepcionista/kv"
	"github.com/dmaraujo/recepcionista/metrics"
	"github.com/dmaraujo/recepcionista/rules"
)

// DropReason says why an inbound message was not turned into a turn.
type DropReason string

// Drop reasons.
const (
	DropDuplicate   DropReason = "duplicate"
	DropRateLimited DropReason = "rate_limited"
	DropEmpty       DropReason = "empty"
)

// DropError carries the gate decision to the caller.
type DropError struct {
	Reason DropReason
}

func (e *DropError) Error() string { return "message dropped: " + string(e.Reason) }

// AcceptedTurn is a sanitized inbound message ready for the workflow.
type AcceptedTurn struct {
	ConversationID string
	PeerID         string
	Instance       string
	Text           string
	NormalizedText string
	MessageID      string
	PushName       string
	TS             time.Time

	// DeferredToHours marks turns that arrived outside business hours.
	// They are still processed; the reply leads with the hours notice.
	DeferredToHours bool

	// SecurityFlagged marks prompt-injection shaped input. The workflow
	// answers with the scoped refusal instead of routing the text.
	SecurityFlagged bool
}

// Inbound is the raw material for one turn.
type Inbound struct {
	Instance  string
	RemoteJid string
	MessageID string
	PushName  string
	Text      string
	TS        time.Time
}

const maxTextLen = 2000

// Preprocessor runs the intake gates.
type Preprocessor struct {
	cache    kv.Cache
	rules    *rules.Engine
	metrics  *metrics.Metrics
	limiter  *rateLimiter
	dedupTTL time.Duration
	now      func() time.Time
}

// New creates a preprocessor. The per-peer limit is 10 messages/minute
// with burst 3; globalPerMinute caps total intake (0 disables).
func New(cache kv.Cache, engine *rules.Engine, m *metrics.Metrics, globalPerMinute int) *Preprocessor {
	return &Preprocessor{
		cache:    cache,
		rules:    engine,
		metrics:  m,
		limiter:  newRateLimiter(10, 3, globalPerMinute),
		dedupTTL: 24 * time.Hour,
		now:      time.Now,
	}
}

// WithPeerLimit overrides the default per-peer rate. Call before serving.
func (p *Preprocessor) WithPeerLimit(perMinute, burst int) *Preprocessor {
	if perMinute > 0 && burst > 0 {
		p.limiter.perMinute = float64(perMinute)
		p.limiter.burst = float64(burst)
	}
	return p
}

// ConversationID derives the stable conversation id for a peer on an
// instance. Short hash keeps ids opaque and uniform across stores.
func ConversationID(instance, remoteJid string) string {
	sum := sha256.Sum256([]byte(instance + "\x00" + remoteJid))
	return "c-" + hex.EncodeToString(sum[:12])
}

// Accept runs every gate in order and returns the accepted turn or a
// DropError.
func (p *Preprocessor) Accept(ctx context.Context, in Inbound) (AcceptedTurn, error) {
	// Gate 1: duplicate webhook delivery. SetNX on the message id wins
	// exactly once per retention window.
	dedupKey := fmt.Sprintf("dedup:%s:%s", in.Instance, in.MessageID)
	fresh, err := p.cache.SetNX(ctx, dedupKey, "1", p.dedupTTL)
	if err == nil && !fresh {
		p.drop(DropDuplicate)
		return AcceptedTurn{}, &DropError{Reason: DropDuplicate}
	}

	// Gate 2: rate limits, per peer then global.
	if !p.limiter.allow(in.RemoteJid, p.now()) {
		p.drop(DropRateLimited)
		return AcceptedTurn{}, &DropError{Reason: DropRateLimited}
	}

	// Gate 3: business hours. Off-hours turns are accepted and tagged.
	deferred := !p.rules.WithinBusinessHours(in.TS)

	// Gate 4: sanitize.
	text, flagged := sanitize(in.Text)
	if text == "" {
		p.drop(DropEmpty)
		return AcceptedTurn{}, &DropError{Reason: DropEmpty}
	}
	if flagged && p.metrics != nil {
		p.metrics.SecurityHit()
	}

	return AcceptedTurn{
		ConversationID:  ConversationID(in.Instance, in.RemoteJid),
		PeerID:          in.RemoteJid,
		Instance:        in.Instance,
		Text:            text,
		NormalizedText:  strings.ToLower(text),
		MessageID:       in.MessageID,
		PushName:        strings.TrimSpace(in.PushName),
		TS:              in.TS,
		DeferredToHours: deferred,
		SecurityFlagged: flagged,
	}, nil
}

func (p *Preprocessor) drop(reason DropReason) {
	if p.metrics != nil {
		p.metrics.TurnDropped(string(reason))
	}
}

// injectionPatterns catalog prompt-injection shapes seen in chat abuse.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+instructions`),
	regexp.MustCompile(`(?i)ignore\s+(as\s+)?instru(ç|c)(õ|o)es\s+(anteriores|acima)`),
	regexp.MustCompile(`(?i)esque(ç|c)a\s+(tudo|suas\s+instru(ç|c)(õ|o)es)`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+|aja\s+como\s+se|finja\s+(que\s+)?(é|e|ser)`),
	regexp.MustCompile(`(?i)system\s*prompt|prompt\s+do\s+sistema`),
	regexp.MustCompile(`(?i)revele?\s+(suas|as)\s+instru(ç|c)(õ|o)es`),
	regexp.MustCompile(`(?i)\bjailbreak\b|\bDAN\b`),
}

// sanitize strips control characters, normalizes to NFC, caps length,
// and flags injection-shaped content.
func sanitize(text string) (string, bool) {
	text = norm.NFC.String(text)

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r == '\n' || r == '\t' {
			b.WriteRune(' ')
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	out := strings.TrimSpace(b.String())
	if len(out) > maxTextLen {
		out = out[:maxTextLen]
		for len(out) > 0 && !utf8.ValidString(out) {
			out = out[:len(out)-1]
		}
		out = strings.TrimSpace(out)
	}

	flagged := false
	for _, pattern := range injectionPatterns {
		if pattern.MatchString(out) {
			flagged = true
			break
		}
	}
	return out, flagged
}

// rateLimiter is a token bucket per peer plus a global minute counter.
type rateLimiter struct {
	perMinute float64
	burst     float64
	globalCap int

	mu      sync.Mutex
	buckets map[string]*bucket

	windowStart time.Time
	windowCount int
}

type bucket struct {
	tokens float64
	last   time.Time
}

func newRateLimiter(perMinute, burst, globalCap int) *rateLimiter {
	return &rateLimiter{
		perMinute: float64(perMinute),
		burst:     float64(burst),
		globalCap: globalCap,
		buckets:   make(map[string]*bucket),
	}
}

func (l *rateLimiter) allow(peer string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.globalCap > 0 {
		if now.Sub(l.windowStart) >= time.Minute {
			l.windowStart = now
			l.windowCount = 0
		}
		if l.windowCount >= l.globalCap {
			return false
		}
	}

	b, ok := l.buckets[peer]
	if !ok {
		b = &bucket{tokens: l.burst, last: now}
		l.buckets[peer] = b
	}
	elapsed := now.Sub(b.last).Minutes()
	b.tokens += elapsed * l.perMinute
	if b.tokens > l.burst {
		b.tokens = l.burst
	}
	b.last = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	if l.globalCap > 0 {
		l.windowCount++
	}
	return true
}
