package redixcluster

import (
	"strconv"
	"strings"

	"github.com/gomodule/redigo/redis"
)

// RedirectType identifies the kind of cluster redirection carried by a
// server error.
type RedirectType string

const (
	RedirMoved RedirectType = "MOVED"
	RedirAsk   RedirectType = "ASK"
)

// Redirect is a parsed MOVED or ASK error, as returned by a cluster node
// in response to a command for a slot it does not currently own.
type Redirect struct {
	Type RedirectType
	Slot Slot
	Host string
	Port int
}

// Addr returns the "host:port" dial address of the redirect target.
func (r *Redirect) Addr() string {
	return r.Host + ":" + strconv.Itoa(r.Port)
}

// ParseRedirect parses err as a MOVED or ASK redirection. The expected
// wire format is "MOVED <slot> <host>:<port>" or "ASK <slot>
// <host>:<port>", split on whitespace. ok is false if err is not a
// redis.Error carrying one of these prefixes.
func ParseRedirect(err error) (*Redirect, bool) {
	re, ok := err.(redis.Error)
	if !ok {
		return nil, false
	}
	fields := strings.Fields(string(re))
	if len(fields) != 3 {
		return nil, false
	}

	var typ RedirectType
	switch fields[0] {
	case "MOVED":
		typ = RedirMoved
	case "ASK":
		typ = RedirAsk
	default:
		return nil, false
	}

	slot, err1 := strconv.Atoi(fields[1])
	host, portStr, err2 := splitHostPort(fields[2])
	port, err3 := strconv.Atoi(portStr)
	if err1 != nil || err2 != nil || err3 != nil {
		return nil, false
	}

	return &Redirect{Type: typ, Slot: Slot(slot), Host: host, Port: port}, true
}

func splitHostPort(s string) (host, port string, err error) {
	ix := strings.LastIndexByte(s, ':')
	if ix < 0 {
		return "", "", errMalformedAddr
	}
	return s[:ix], s[ix+1:], nil
}

var errMalformedAddr = strconv.ErrSyntax

// IsClusterDown reports whether err is a CLUSTERDOWN server error.
func IsClusterDown(err error) bool {
	return hasErrPrefix(err, "CLUSTERDOWN")
}

// IsCrossSlot reports whether err is a CROSSSLOT server error (the
// cluster itself rejected a multi-key command spanning slots; distinct
// from, and a backstop for, the client-side ErrKeyMustSameSlot check).
func IsCrossSlot(err error) bool {
	return hasErrPrefix(err, "CROSSSLOT")
}

// IsTryAgain reports whether err is a TRYAGAIN server error, returned
// during slot migration when a multi-key command cannot be served yet.
func IsTryAgain(err error) bool {
	return hasErrPrefix(err, "TRYAGAIN")
}

func hasErrPrefix(err error, prefix string) bool {
	re, ok := err.(redis.Error)
	if !ok {
		return false
	}
	return strings.HasPrefix(string(re), prefix)
}
