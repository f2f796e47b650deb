package hostapi

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	wasmsandbox "github.com/aegisedge/wasm-sandbox"
)

// Host call return codes. Non-negative values are lengths or success.
const (
	codeOK    int32 = 0
	codeMiss  int32 = -1
	codeError int32 = -2
)

// State is the per-invocation host state. The engine attaches one to the
// context before calling the guest entry point; it is owned by exactly
// one call and is not safe for concurrent use.
type State struct {
	ModuleID string
	Context  *wasmsandbox.ExecutionContext
	Cache    Cache

	start      time.Time
	bodyOffset int
	shared     []byte
	logger     *zap.Logger
}

// NewState returns the host state for one invocation. A nil cache
// disables the cache surface (guest calls report errors); a nil logger
// silences guest logging.
func NewState(moduleID string, execCtx *wasmsandbox.ExecutionContext, cache Cache, logger *zap.Logger) *State {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &State{
		ModuleID: moduleID,
		Context:  execCtx,
		Cache:    cache,
		start:    time.Now(),
		logger:   logger,
	}
}

// LogMessage records a guest diagnostic line.
func (s *State) LogMessage(msg string) {
	s.logger.Debug("guest log", zap.String("module", s.ModuleID), zap.String("message", msg))
}

// stash places a host result in the shared buffer and returns its length,
// codeError when it cannot be represented.
func (s *State) stash(value []byte) int32 {
	if len(value) > math.MaxInt32 {
		return codeError
	}
	s.shared = value
	return int32(len(value))
}

// SharedRead copies shared buffer bytes starting at offset into dst and
// returns the count copied, codeError on an out-of-range offset.
func (s *State) SharedRead(dst []byte, offset uint32) int32 {
	if uint64(offset) > uint64(len(s.shared)) {
		return codeError
	}
	n := copy(dst, s.shared[offset:])
	return int32(n)
}

// RequestHeader stashes the first request header matching name and
// returns its length, codeMiss when absent.
func (s *State) RequestHeader(name string) int32 {
	if v, ok := s.Context.RequestHeader(name); ok {
		return s.stash([]byte(v))
	}
	return codeMiss
}

// ResponseHeaderGet stashes the first response header matching name and
// returns its length, codeMiss when absent.
func (s *State) ResponseHeaderGet(name string) int32 {
	for _, h := range s.Context.ResponseHeaders {
		if h.Name == name {
			return s.stash([]byte(h.Value))
		}
	}
	return codeMiss
}

// ResponseHeaderSet sets a response header on the invocation context.
func (s *State) ResponseHeaderSet(name, value string) int32 {
	s.Context.SetResponseHeader(name, value)
	return codeOK
}

// BodyRead copies the next chunk of the request body into dst and
// returns the count, zero at end of body. Reads are sequential; the
// guest sizes dst, so a single call never exceeds its own buffer.
func (s *State) BodyRead(dst []byte) int32 {
	if s.bodyOffset >= len(s.Context.RequestBody) {
		return 0
	}
	n := copy(dst, s.Context.RequestBody[s.bodyOffset:])
	s.bodyOffset += n
	return int32(n)
}

// CacheGet stashes the cached value for key and returns its length,
// codeMiss on a miss, codeError when no cache is configured or the
// backend fails.
func (s *State) CacheGet(ctx context.Context, key string) int32 {
	if s.Cache == nil {
		return codeError
	}
	value, ok, err := s.Cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("cache get failed",
			zap.String("module", s.ModuleID), zap.Error(err))
		return codeError
	}
	if !ok {
		return codeMiss
	}
	return s.stash(value)
}

// CacheSet stores value under key with a TTL in seconds, zero meaning no
// expiry.
func (s *State) CacheSet(ctx context.Context, key string, value []byte, ttlSecs uint32) int32 {
	if s.Cache == nil {
		return codeError
	}
	if err := s.Cache.Set(ctx, key, value, time.Duration(ttlSecs)*time.Second); err != nil {
		s.logger.Warn("cache set failed",
			zap.String("module", s.ModuleID), zap.Error(err))
		return codeError
	}
	return codeOK
}

// Respond sets the response and marks the pipeline for early termination.
func (s *State) Respond(status uint32, body []byte) {
	s.Context.ResponseStatus = int(status)
	s.Context.ResponseBody = append([]byte(nil), body...)
	s.Context.TerminateEarly = true
}

// ClockMonotonicUs returns microseconds since the invocation started.
// The zero point is per call, so guests cannot observe wall-clock time.
func (s *State) ClockMonotonicUs() int64 {
	return time.Since(s.start).Microseconds()
}

type stateKey struct{}

// WithState attaches per-call host state to the context.
func WithState(ctx context.Context, s *State) context.Context {
	return context.WithValue(ctx, stateKey{}, s)
}

// StateFromContext returns the invocation's host state, or nil.
func StateFromContext(ctx context.Context) *State {
	s, _ := ctx.Value(stateKey{}).(*State)
	return s
}
