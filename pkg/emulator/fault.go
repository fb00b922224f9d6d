package emulator

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/juliaogris/telesched/pkg/retry"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Fault makes calls to Method fail with Code for the next Count calls. If
// After is set the call is handled first and its response dropped. A Method
// of "*" matches every method.
type Fault struct {
	Method string
	Code   codes.Code
	Count  int
	After  bool
}

// ParseFault parses a fault of the form METHOD:CODE:COUNT[:after], for
// example "RunJob:unavailable:2:after". CODE is a status code name as
// accepted by [retry.ParseCodes].
func ParseFault(s string) (Fault, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 3 || len(parts) > 4 || parts[0] == "" {
		return Fault{}, fmt.Errorf("%w: %q is not METHOD:CODE:COUNT[:after]", ErrFaultSpec, s)
	}
	cs, err := retry.ParseCodes(parts[1])
	if err != nil || len(cs) != 1 {
		return Fault{}, fmt.Errorf("%w: %q: bad code %q", ErrFaultSpec, s, parts[1])
	}
	if cs[0] == codes.OK {
		return Fault{}, fmt.Errorf("%w: %q: code must not be OK", ErrFaultSpec, s)
	}
	count, err := strconv.Atoi(parts[2])
	if err != nil || count < 1 {
		return Fault{}, fmt.Errorf("%w: %q: bad count %q", ErrFaultSpec, s, parts[2])
	}
	f := Fault{Method: parts[0], Code: cs[0], Count: count}
	if len(parts) == 4 {
		if parts[3] != "after" {
			return Fault{}, fmt.Errorf("%w: %q: unknown mode %q", ErrFaultSpec, s, parts[3])
		}
		f.After = true
	}
	return f, nil
}

// String returns f in the form accepted by ParseFault.
func (f Fault) String() string {
	s := fmt.Sprintf("%s:%s:%d", f.Method, strings.ToLower(f.Code.String()), f.Count)
	if f.After {
		s += ":after"
	}
	return s
}

type faults struct {
	mutex  sync.Mutex
	active []*Fault
}

func (fs *faults) add(f Fault) {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()
	fs.active = append(fs.active, &f)
}

// take consumes one failure of the first matching fault, if any.
func (fs *faults) take(method string) (Fault, bool) {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()
	for i, f := range fs.active {
		if f.Method != method && f.Method != "*" {
			continue
		}
		f.Count--
		taken := *f
		if f.Count <= 0 {
			fs.active = append(fs.active[:i], fs.active[i+1:]...)
		}
		return taken, true
	}
	return Fault{}, false
}

func (fs *faults) intercept(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	method := path.Base(info.FullMethod)
	f, ok := fs.take(method)
	if !ok {
		return handler(ctx, req)
	}
	if !f.After {
		return nil, status.Errorf(f.Code, "injected fault before %s", method)
	}
	if _, err := handler(ctx, req); err != nil {
		return nil, err
	}
	return nil, status.Errorf(f.Code, "injected fault after %s", method)
}
