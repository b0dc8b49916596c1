// Package addrspace expands operator-supplied address ranges into the
// ordered host list a scan walks.
//
// Three input forms are accepted and may be mixed in a comma-separated list:
//
//	10.0.0.7                single host
//	10.0.0.1-10.0.0.40      inclusive range (10.0.0.1-40 is shorthand)
//	192.168.1.0/24          CIDR block
//
// Expansion is deterministic. Hosts keep the order of the input terms,
// ascending within a term, and the first occurrence of a duplicate wins.
package addrspace

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"go4.org/netipx"
)

// MaxHosts bounds the number of hosts a single Space may hold.
const MaxHosts = 65536

// Errors returned while building a Space.
var (
	ErrInvalidRange = errors.New("invalid address range")
	ErrTooLarge     = fmt.Errorf("%w: more than %d hosts", ErrInvalidRange, MaxHosts)
)

// Space is an immutable, ordered, duplicate-free sequence of host addresses.
type Space struct {
	addrs []netip.Addr
	index map[netip.Addr]int
}

// Empty returns a Space with no hosts.
func Empty() *Space {
	return &Space{index: map[netip.Addr]int{}}
}

// Parse expands a textual address specification.
func Parse(spec string) (*Space, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("%w: empty specification", ErrInvalidRange)
	}

	b := newBuilder()
	terms := 0
	for _, term := range strings.Split(spec, ",") {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		if err := b.addTerm(term); err != nil {
			return nil, err
		}
		terms++
	}
	if terms == 0 {
		return nil, fmt.Errorf("%w: no addresses in %q", ErrInvalidRange, spec)
	}
	return b.build(), nil
}

// Range expands the inclusive range [start, end].
// The resulting Space has exactly end-start+1 hosts in ascending order.
func Range(start, end netip.Addr) (*Space, error) {
	b := newBuilder()
	if err := b.addRange(start, end); err != nil {
		return nil, err
	}
	return b.build(), nil
}

// CIDR expands a prefix. For IPv4 prefixes of length 30 or shorter the
// network and broadcast addresses are excluded.
func CIDR(prefix netip.Prefix) (*Space, error) {
	b := newBuilder()
	if err := b.addPrefix(prefix); err != nil {
		return nil, err
	}
	return b.build(), nil
}

// FromAddrs builds a Space from an explicit list, dropping invalid entries
// and duplicates.
func FromAddrs(addrs []netip.Addr) (*Space, error) {
	b := newBuilder()
	for _, a := range addrs {
		if !a.IsValid() {
			continue
		}
		if err := b.add(a.Unmap()); err != nil {
			return nil, err
		}
	}
	return b.build(), nil
}

// Merge concatenates spaces in order, keeping the first occurrence of
// each host.
func Merge(spaces ...*Space) (*Space, error) {
	b := newBuilder()
	for _, s := range spaces {
		if s == nil {
			continue
		}
		for _, a := range s.addrs {
			if err := b.add(a); err != nil {
				return nil, err
			}
		}
	}
	return b.build(), nil
}

// Len returns the number of hosts.
func (s *Space) Len() int {
	return len(s.addrs)
}

// At returns the i'th host.
func (s *Space) At(i int) netip.Addr {
	return s.addrs[i]
}

// Addrs returns a copy of the host list.
func (s *Space) Addrs() []netip.Addr {
	out := make([]netip.Addr, len(s.addrs))
	copy(out, s.addrs)
	return out
}

// Index returns the position of a in the Space, or -1.
func (s *Space) Index(a netip.Addr) int {
	if i, ok := s.index[a.Unmap()]; ok {
		return i
	}
	return -1
}

// Contains reports whether a is part of the Space.
func (s *Space) Contains(a netip.Addr) bool {
	return s.Index(a) >= 0
}

// Batches splits the Space into consecutive slices of at most size hosts.
func (s *Space) Batches(size int) [][]netip.Addr {
	if size < 1 {
		size = 1
	}
	var out [][]netip.Addr
	for i := 0; i < len(s.addrs); i += size {
		end := min(i+size, len(s.addrs))
		batch := make([]netip.Addr, end-i)
		copy(batch, s.addrs[i:end])
		out = append(out, batch)
	}
	return out
}

// Prefixes summarises the Space as the minimal set of covering prefixes,
// in ascending address order. Used for compact log output.
func (s *Space) Prefixes() []netip.Prefix {
	var sb netipx.IPSetBuilder
	for _, a := range s.addrs {
		sb.Add(a)
	}
	set, err := sb.IPSet()
	if err != nil {
		return nil
	}
	return set.Prefixes()
}

// String renders the covering prefixes.
func (s *Space) String() string {
	prefixes := s.Prefixes()
	parts := make([]string, len(prefixes))
	for i, p := range prefixes {
		if p.IsSingleIP() {
			parts[i] = p.Addr().String()
		} else {
			parts[i] = p.String()
		}
	}
	return strings.Join(parts, ",")
}

type builder struct {
	addrs []netip.Addr
	index map[netip.Addr]int
}

func newBuilder() *builder {
	return &builder{index: make(map[netip.Addr]int)}
}

func (b *builder) build() *Space {
	return &Space{addrs: b.addrs, index: b.index}
}

func (b *builder) add(a netip.Addr) error {
	if _, dup := b.index[a]; dup {
		return nil
	}
	if len(b.addrs) >= MaxHosts {
		return ErrTooLarge
	}
	b.index[a] = len(b.addrs)
	b.addrs = append(b.addrs, a)
	return nil
}

func (b *builder) addTerm(term string) error {
	switch {
	case strings.Contains(term, "/"):
		prefix, err := netip.ParsePrefix(term)
		if err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidRange, term, err)
		}
		return b.addPrefix(prefix)

	case strings.Contains(term, "-"):
		r, err := parseRange(term)
		if err != nil {
			return err
		}
		return b.addRange(r.From(), r.To())

	default:
		a, err := netip.ParseAddr(term)
		if err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidRange, term, err)
		}
		return b.add(a.Unmap())
	}
}

func (b *builder) addRange(start, end netip.Addr) error {
	start, end = start.Unmap(), end.Unmap()
	r := netipx.IPRangeFrom(start, end)
	if !r.IsValid() {
		return fmt.Errorf("%w: %s-%s", ErrInvalidRange, start, end)
	}
	if rangeExceeds(r, MaxHosts) {
		return ErrTooLarge
	}
	for a := r.From(); ; a = a.Next() {
		if err := b.add(a); err != nil {
			return err
		}
		if a == r.To() {
			return nil
		}
	}
}

func (b *builder) addPrefix(prefix netip.Prefix) error {
	if !prefix.IsValid() {
		return fmt.Errorf("%w: %s", ErrInvalidRange, prefix)
	}
	prefix = prefix.Masked()
	r := netipx.RangeOfPrefix(prefix)

	from, to := r.From(), r.To()
	if prefix.Addr().Is4() && prefix.Bits() <= 30 {
		from, to = from.Next(), to.Prev()
	}
	return b.addRange(from, to)
}

// parseRange accepts "a-b" with b either a full address or the trailing
// octet of a.
func parseRange(term string) (netipx.IPRange, error) {
	left, right, _ := strings.Cut(term, "-")
	left, right = strings.TrimSpace(left), strings.TrimSpace(right)

	start, err := netip.ParseAddr(left)
	if err != nil {
		return netipx.IPRange{}, fmt.Errorf("%w: %q: %v", ErrInvalidRange, term, err)
	}
	if start.Is4() && !strings.Contains(right, ".") {
		prefix := left[:strings.LastIndex(left, ".")+1]
		right = prefix + right
	}

	r, err := netipx.ParseIPRange(left + "-" + right)
	if err != nil {
		return netipx.IPRange{}, fmt.Errorf("%w: %q: %v", ErrInvalidRange, term, err)
	}
	return r, nil
}

// rangeExceeds reports whether r holds more than n addresses without
// materialising it.
func rangeExceeds(r netipx.IPRange, n int) bool {
	from, to := r.From().As16(), r.To().As16()
	hiFrom, hiTo := binary.BigEndian.Uint64(from[:8]), binary.BigEndian.Uint64(to[:8])
	loFrom, loTo := binary.BigEndian.Uint64(from[8:]), binary.BigEndian.Uint64(to[8:])

	switch {
	case hiTo == hiFrom:
	case hiTo-hiFrom == 1 && loTo < loFrom:
	default:
		return true
	}
	return loTo-loFrom >= uint64(n)
}
