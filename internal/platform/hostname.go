package platform

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
)

// LocalNode is the alias callers use for "this machine" when addressing services.
const LocalNode = "local"

// IsLocal reports whether name addresses the local node.
func IsLocal(name string) bool {
	return name == "" || strings.EqualFold(name, LocalNode)
}

// Resolver looks up canonical names. *net.Resolver satisfies it.
type Resolver interface {
	LookupCNAME(ctx context.Context, host string) (string, error)
}

// ResolveFQDN returns the fully-qualified name of host. An empty or
// "local" host resolves the local machine. When DNS yields no canonical
// name the input is returned unchanged.
func ResolveFQDN(ctx context.Context, r Resolver, host string) (string, error) {
	if IsLocal(host) {
		h, err := os.Hostname()
		if err != nil {
			return "", fmt.Errorf("local hostname: %w", err)
		}
		host = h
	}
	if r == nil {
		r = net.DefaultResolver
	}
	cname, err := r.LookupCNAME(ctx, host)
	if err != nil || cname == "" {
		return host, nil
	}
	return strings.TrimSuffix(cname, "."), nil
}
