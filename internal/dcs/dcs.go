// Package dcs resolves DC identifiers to network addresses.
package dcs

import (
	"fmt"
	"net"
	"slices"
	"strconv"

	"github.com/geovex/mtcore/internal/maplist"
)

const defaultPort = 443

var dcIP4 = [...][]string{
	{"149.154.175.50"},
	{"149.154.167.51", "95.161.76.100"},
	{"149.154.175.100"},
	{"149.154.167.91"},
	{"149.154.171.5"},
}

var dcIP6 = [...][]string{
	{"2001:b28:f23d:f001::a"},
	{"2001:67c:04e8:f002::a"},
	{"2001:b28:f23d:f003::a"},
	{"2001:67c:04e8:f004::a"},
	{"2001:b28:f23f:f005::a"},
}

// DC is a resolved DC descriptor.
type DC struct {
	ID   int
	Host string
	// IPv6 is an optional alternative host tried first when allowed.
	IPv6 string
	Port int
	// Exported is set for secondary connections authorized through the
	// primary session.
	Exported bool
}

func (d DC) Addr() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

// Addr6 returns "" when the DC has no IPv6 address.
func (d DC) Addr6() string {
	if d.IPv6 == "" {
		return ""
	}
	return net.JoinHostPort(d.IPv6, strconv.Itoa(d.Port))
}

func (d DC) AsExported() DC {
	d.Exported = true
	return d
}

func (d DC) String() string {
	if d.Exported {
		return fmt.Sprintf("dc%d(%s, exported)", d.ID, d.Addr())
	}
	return fmt.Sprintf("dc%d(%s)", d.ID, d.Addr())
}

// Table maps DC ids to their known addresses. A DC may have several; one is
// picked at random on lookup.
type Table struct {
	list *maplist.MapList[int, DC]
}

// ErrUnknownDC is returned by Lookup for ids with no address.
type ErrUnknownDC struct {
	ID int
}

func (e *ErrUnknownDC) Error() string {
	return fmt.Sprintf("unknown dc %d", e.ID)
}

func NewTable() *Table {
	return &Table{list: maplist.New[int, DC]()}
}

// Production returns the built-in table of production DCs.
func Production() *Table {
	t := NewTable()
	for i, hosts := range dcIP4 {
		id := i + 1
		v6 := dcIP6[i][0]
		for _, h := range hosts {
			t.list.Add(id, DC{ID: id, Host: h, IPv6: v6, Port: defaultPort})
		}
	}
	return t
}

// Set replaces all addresses of the DC with the given ones.
func (t *Table) Set(id int, dcs ...DC) {
	for i := range dcs {
		dcs[i].ID = id
		if dcs[i].Port == 0 {
			dcs[i].Port = defaultPort
		}
	}
	t.list.Replace(id, dcs...)
}

func (t *Table) Lookup(id int) (DC, error) {
	if id < 0 {
		id = -id
	}
	dc, ok := t.list.GetRandom(id)
	if !ok {
		return DC{}, &ErrUnknownDC{ID: id}
	}
	return dc, nil
}

// IDs lists the configured DC ids.
func (t *Table) IDs() []int {
	ids := t.list.Keys()
	slices.Sort(ids)
	return ids
}

func (t *Table) Clone() *Table {
	return &Table{list: t.list.Clone()}
}
