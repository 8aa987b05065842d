// Package addr parses and constructs bus addresses.
//
// An address is a colon-delimited string under the "opensrf" namespace,
// one of three kinds:
//
//	opensrf:service:<service-name>
//	opensrf:client:<domain>:<hostname>:<pid>:<random>
//	opensrf:router:<domain>
package addr

import (
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/opensrf-go/opensrf/errs"
)

const namespace = "opensrf"

// Kind identifies which of the three address variants a value holds.
type Kind int

const (
	Service Kind = iota
	Client
	Router
)

func (k Kind) String() string {
	switch k {
	case Service:
		return "service"
	case Client:
		return "client"
	case Router:
		return "router"
	default:
		return "unknown"
	}
}

// Address is a parsed bus address.
type Address struct {
	full    string
	kind    Kind
	domain  string // set for Client and Router kinds
	service string // set for Service kind
}

// Full returns the original address string.
func (a Address) Full() string { return a.full }

// Kind returns which address variant this is.
func (a Address) Kind() Kind { return a.kind }

// Domain returns the domain segment for client/router addresses, or "" for
// service addresses (which are domain-agnostic).
func (a Address) Domain() string { return a.domain }

// Service returns the service name for service addresses, or "" otherwise.
func (a Address) Service() string { return a.service }

func (a Address) String() string { return a.full }

// NewForService builds the well-known queue address for a service name.
func NewForService(service string) Address {
	return Address{
		full:    namespace + ":service:" + service,
		kind:    Service,
		service: service,
	}
}

// NewForRouter builds the well-known inbox address for a domain's router.
func NewForRouter(domain string) Address {
	return Address{
		full:   namespace + ":router:" + domain,
		kind:   Router,
		domain: domain,
	}
}

// NewForClient builds a fresh private inbox address for the calling process,
// scoped to domain. The random segment is generated with uuid rather than a
// hand-rolled counter so addresses stay unique across restarts and hosts.
func NewForClient(domain string) Address {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "localhost"
	}
	pid := os.Getpid()
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]

	full := strings.Join([]string{
		namespace, "client", domain, hostname, strconv.Itoa(pid), random,
	}, ":")

	return Address{full: full, kind: Client, domain: domain}
}

// Parse decodes a bus address string, validating its namespace and kind.
func Parse(full string) (Address, error) {
	parts := strings.Split(full, ":")
	if len(parts) < 3 || parts[0] != namespace {
		return Address{}, errs.Wrapf(errs.ErrAddress, "malformed address %q", full)
	}

	switch parts[1] {
	case "service":
		if len(parts) != 3 || parts[2] == "" {
			return Address{}, errs.Wrapf(errs.ErrAddress, "malformed service address %q", full)
		}
		return Address{full: full, kind: Service, service: parts[2]}, nil

	case "router":
		if len(parts) != 3 || parts[2] == "" {
			return Address{}, errs.Wrapf(errs.ErrAddress, "malformed router address %q", full)
		}
		return Address{full: full, kind: Router, domain: parts[2]}, nil

	case "client":
		if len(parts) != 6 || parts[2] == "" {
			return Address{}, errs.Wrapf(errs.ErrAddress, "malformed client address %q", full)
		}
		return Address{full: full, kind: Client, domain: parts[2]}, nil

	default:
		return Address{}, errs.Wrapf(errs.ErrAddress, "unknown address kind %q in %q", parts[1], full)
	}
}
