package signal

import "golang.org/x/time/rate"

// frameLimiter is a token bucket over inbound signal frames. One per
// connection; no map or cleanup needed since it dies with the socket.
type frameLimiter struct {
	l *rate.Limiter
}

func newFrameLimiter(perSecond float64, burst int) *frameLimiter {
	if perSecond <= 0 {
		perSecond = 20
	}
	if burst <= 0 {
		burst = 40
	}
	return &frameLimiter{l: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (f *frameLimiter) Allow() bool {
	return f.l.Allow()
}
