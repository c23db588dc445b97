package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Limits configures a Guard.
type Limits struct {
	Window       time.Duration // Capacity requests refill over one Window
	Capacity     int
	Concurrency  int // streams one user may run at once
	DuplicateTTL time.Duration
}

// Guard throttles message sends per caller: a token bucket per user and IP,
// a double-submit filter and a cap on concurrent streams per user.
type Guard struct {
	limits Limits

	rlMu      sync.Mutex
	limiters  map[string]*visitor
	lastSweep time.Time

	dupMu   sync.Mutex
	lastMsg map[uint]sentMessage

	semMu sync.Mutex
	sems  map[uint]*semaphore.Weighted
}

type visitor struct {
	lim  *rate.Limiter
	seen time.Time
}

type sentMessage struct {
	text string
	ts   time.Time
}

func NewGuard(l Limits) *Guard {
	if l.Window <= 0 {
		l.Window = 10 * time.Second
	}
	if l.Capacity <= 0 {
		l.Capacity = 5
	}
	if l.Concurrency <= 0 {
		l.Concurrency = 2
	}
	return &Guard{
		limits:    l,
		limiters:  map[string]*visitor{},
		lastSweep: time.Now(),
		lastMsg:   map[uint]sentMessage{},
		sems:      map[uint]*semaphore.Weighted{},
	}
}

func clientIP(c *gin.Context) string {
	ip := strings.TrimSpace(c.ClientIP())
	if ip == "" {
		host, _, _ := net.SplitHostPort(strings.TrimSpace(c.Request.RemoteAddr))
		ip = host
	}
	return ip
}

func userKey(c *gin.Context) string {
	return strconv.FormatUint(uint64(CurrentUserID(c)), 10) + "@" + clientIP(c)
}

// RateLimit rejects callers that exceed Capacity requests per Window.
func (g *Guard) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !g.limiter(userKey(c)).Allow() {
			c.Header("Retry-After", strconv.Itoa(int(g.limits.Window.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"msg": "too many requests", "code": "rate_limited"})
			return
		}
		c.Next()
	}
}

func (g *Guard) limiter(key string) *rate.Limiter {
	now := time.Now()
	g.rlMu.Lock()
	defer g.rlMu.Unlock()

	// forget callers idle for several windows
	idle := 6 * g.limits.Window
	if now.Sub(g.lastSweep) > idle {
		for k, v := range g.limiters {
			if now.Sub(v.seen) > idle {
				delete(g.limiters, k)
			}
		}
		g.lastSweep = now
	}

	v := g.limiters[key]
	if v == nil {
		every := g.limits.Window / time.Duration(g.limits.Capacity)
		v = &visitor{lim: rate.NewLimiter(rate.Every(every), g.limits.Capacity)}
		g.limiters[key] = v
	}
	v.seen = now
	return v.lim
}

// Duplicate reports whether uid already sent text within DuplicateTTL, and
// records the message otherwise.
func (g *Guard) Duplicate(uid uint, text string) bool {
	if g.limits.DuplicateTTL <= 0 {
		return false
	}
	now := time.Now()
	text = strings.TrimSpace(text)
	g.dupMu.Lock()
	defer g.dupMu.Unlock()
	if last, ok := g.lastMsg[uid]; ok && last.text == text && now.Sub(last.ts) < g.limits.DuplicateTTL {
		return true
	}
	g.lastMsg[uid] = sentMessage{text: text, ts: now}
	return false
}

// AcquireSlot blocks until uid may start another stream or ctx ends.
func (g *Guard) AcquireSlot(ctx context.Context, uid uint) (release func(), err error) {
	g.semMu.Lock()
	sem := g.sems[uid]
	if sem == nil {
		sem = semaphore.NewWeighted(int64(g.limits.Concurrency))
		g.sems[uid] = sem
	}
	g.semMu.Unlock()

	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	var once sync.Once
	return func() { once.Do(func() { sem.Release(1) }) }, nil
}

// StreamSlot holds one of the caller's stream slots for the whole request.
func (g *Guard) StreamSlot() gin.HandlerFunc {
	return func(c *gin.Context) {
		release, err := g.AcquireSlot(c.Request.Context(), CurrentUserID(c))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"msg": "too many concurrent streams", "code": "rate_limited"})
			return
		}
		defer release()
		c.Next()
	}
}
