package udns

import (
	"fmt"
	"strings"

	"github.com/miekg/dns"
)

// RecordType identifies a DNS resource record type. The values are the
// type codes used on the wire.
type RecordType uint16

const (
	TypeA      RecordType = 1
	TypeNS     RecordType = 2
	TypeCNAME  RecordType = 5
	TypeSOA    RecordType = 6
	TypePTR    RecordType = 12
	TypeMX     RecordType = 15
	TypeTXT    RecordType = 16
	TypeAAAA   RecordType = 28
	TypeSRV    RecordType = 33
	TypeRRSIG  RecordType = 46
	TypeNSEC   RecordType = 47
	TypeDNSKEY RecordType = 48
)

// String returns the standard mnemonic for the type, "A" or "MX" for example.
func (t RecordType) String() string {
	if s, ok := dns.TypeToString[uint16(t)]; ok {
		return s
	}
	return fmt.Sprintf("TYPE%d", uint16(t))
}

// TypeFromString turns a type mnemonic such as "AAAA" into a RecordType.
func TypeFromString(s string) (RecordType, bool) {
	t, ok := dns.StringToType[strings.ToUpper(s)]
	return RecordType(t), ok
}

// MXData holds the typed fields of an MX record.
type MXData struct {
	Preference uint16
	Exchange   string
}

// SOAData holds the typed fields of an SOA record.
type SOAData struct {
	MName   string
	RName   string
	Serial  uint32
	Refresh uint32
	Retry   uint32
	Expire  uint32
	Minimum uint32
}

// ResourceRecord is one decoded answer from a DNS response. Name is in
// dotted form without a trailing dot. Data holds the type-specific string
// rendering of the rdata and is empty for types the parser carries
// opaquely, such as RRSIG or DNSKEY.
type ResourceRecord struct {
	Type RecordType
	Name string
	TTL  uint32
	Data []string

	// Populated for MX and SOA records only.
	MX  *MXData
	SOA *SOAData
}

// Equal reports whether two records represent the same answer. TTL and
// the typed MX/SOA fields do not participate in equality.
func (r ResourceRecord) Equal(other ResourceRecord) bool {
	if r.Type != other.Type || r.Name != other.Name || len(r.Data) != len(other.Data) {
		return false
	}
	for i := range r.Data {
		if r.Data[i] != other.Data[i] {
			return false
		}
	}
	return true
}

func (r ResourceRecord) String() string {
	return fmt.Sprintf("%s %d %s %s", r.Name, r.TTL, r.Type, strings.Join(r.Data, " "))
}
