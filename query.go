package udns

import (
	"encoding/binary"
	"math/rand"
	"net"
	"strconv"
	"strings"
)

const (
	// Size of the fixed DNS message header.
	headerSize = 12

	// Flags for a standard query with recursion desired.
	queryFlags = 0x0100

	// Upper bound on compression pointers followed while decoding one
	// name, to reject pointer loops in hostile responses.
	maxPointers = 64
)

// BuildQuery encodes a standard DNS query for the domain and record type.
// The transaction id is chosen at random.
func BuildQuery(domain string, rtype RecordType) ([]byte, error) {
	name, err := encodeDomainName(domain)
	if err != nil {
		return nil, err
	}
	query := make([]byte, headerSize, headerSize+len(name)+4)
	binary.BigEndian.PutUint16(query[0:2], uint16(rand.Intn(1<<16)))
	binary.BigEndian.PutUint16(query[2:4], queryFlags)
	binary.BigEndian.PutUint16(query[4:6], 1) // one question
	query = append(query, name...)

	var tail [4]byte
	binary.BigEndian.PutUint16(tail[0:2], uint16(rtype))
	binary.BigEndian.PutUint16(tail[2:4], 1) // class IN
	return append(query, tail[:]...), nil
}

// Encode a dotted domain name as a sequence of length-prefixed labels
// followed by the zero terminator.
func encodeDomainName(domain string) ([]byte, error) {
	encoded := make([]byte, 0, len(domain)+2)
	for _, label := range strings.Split(domain, ".") {
		if len(label) > 63 {
			return nil, LabelTooLongError{Label: label}
		}
		encoded = append(encoded, byte(len(label)))
		encoded = append(encoded, label...)
	}
	return append(encoded, 0), nil
}

// ParseResponse decodes the answer section of a DNS response datagram.
// Records in the authority and additional sections are not returned.
func ParseResponse(response []byte) ([]ResourceRecord, error) {
	if len(response) < headerSize {
		return nil, ShortResponseError{Length: len(response)}
	}
	flags := binary.BigEndian.Uint16(response[2:4])
	if rcode := int(flags & 0x000f); rcode != 0 {
		return nil, ServerError{Rcode: rcode}
	}
	qdcount := int(binary.BigEndian.Uint16(response[4:6]))
	ancount := int(binary.BigEndian.Uint16(response[6:8]))

	offset := headerSize
	for i := 0; i < qdcount; i++ {
		if _, err := decodeDomainName(response, &offset); err != nil {
			return nil, err
		}
		offset += 4 // qtype and qclass
	}

	records := make([]ResourceRecord, 0, ancount)
	for i := 0; i < ancount; i++ {
		name, err := decodeDomainName(response, &offset)
		if err != nil {
			return nil, err
		}
		if offset+10 > len(response) {
			return nil, ShortResponseError{Length: len(response)}
		}
		record := ResourceRecord{
			Type: RecordType(binary.BigEndian.Uint16(response[offset:])),
			Name: name,
			TTL:  binary.BigEndian.Uint32(response[offset+4:]),
		}
		rdlength := int(binary.BigEndian.Uint16(response[offset+8:]))
		offset += 10
		if offset+rdlength > len(response) {
			return nil, ShortResponseError{Length: len(response)}
		}
		parseRData(&record, response, offset, rdlength)
		offset += rdlength
		records = append(records, record)
	}
	return records, nil
}

// Decode a possibly compressed domain name starting at *offset. The
// offset is advanced past the name in the outer record. Following a
// compression pointer never moves the outer offset beyond the two
// pointer bytes.
func decodeDomainName(response []byte, offset *int) (string, error) {
	var labels []string
	pos := *offset
	jumped := false
	pointers := 0
	for {
		if pos >= len(response) {
			return "", ShortResponseError{Length: len(response)}
		}
		length := int(response[pos])
		if length&0xc0 == 0xc0 {
			if pos+1 >= len(response) {
				return "", ShortResponseError{Length: len(response)}
			}
			if pointers++; pointers > maxPointers {
				return "", ShortResponseError{Length: len(response)}
			}
			pointer := (length&0x3f)<<8 | int(response[pos+1])
			if !jumped {
				*offset = pos + 2
				jumped = true
			}
			pos = pointer
			continue
		}
		if length == 0 {
			pos++
			break
		}
		if pos+1+length > len(response) {
			return "", ShortResponseError{Length: len(response)}
		}
		labels = append(labels, string(response[pos+1:pos+1+length]))
		pos += 1 + length
	}
	if !jumped {
		*offset = pos
	}
	return strings.Join(labels, "."), nil
}

// Decode the rdata of a record according to its type. Types without a
// decoder below are carried with empty Data; the caller advances the
// cursor by rdlength either way.
func parseRData(record *ResourceRecord, response []byte, offset, rdlength int) {
	switch record.Type {
	case TypeA:
		if rdlength == 4 {
			record.Data = append(record.Data, net.IP(response[offset:offset+4]).String())
		}
	case TypeAAAA:
		if rdlength == 16 {
			record.Data = append(record.Data, net.IP(response[offset:offset+16]).String())
		}
	case TypeCNAME, TypeNS, TypePTR:
		pos := offset
		if name, err := decodeDomainName(response, &pos); err == nil {
			record.Data = append(record.Data, name)
		}
	case TypeMX:
		if rdlength < 3 {
			return
		}
		preference := binary.BigEndian.Uint16(response[offset:])
		pos := offset + 2
		exchange, err := decodeDomainName(response, &pos)
		if err != nil {
			return
		}
		record.MX = &MXData{Preference: preference, Exchange: exchange}
		record.Data = append(record.Data, strconv.Itoa(int(preference))+" "+exchange)
	case TypeTXT:
		// One or more length-prefixed character-strings
		pos := offset
		for pos < offset+rdlength {
			length := int(response[pos])
			pos++
			if pos+length > offset+rdlength {
				break
			}
			record.Data = append(record.Data, string(response[pos:pos+length]))
			pos += length
		}
	case TypeSOA:
		pos := offset
		mname, err := decodeDomainName(response, &pos)
		if err != nil {
			return
		}
		rname, err := decodeDomainName(response, &pos)
		if err != nil {
			return
		}
		if pos+20 > len(response) {
			return
		}
		record.SOA = &SOAData{
			MName:   mname,
			RName:   rname,
			Serial:  binary.BigEndian.Uint32(response[pos:]),
			Refresh: binary.BigEndian.Uint32(response[pos+4:]),
			Retry:   binary.BigEndian.Uint32(response[pos+8:]),
			Expire:  binary.BigEndian.Uint32(response[pos+12:]),
			Minimum: binary.BigEndian.Uint32(response[pos+16:]),
		}
		record.Data = append(record.Data,
			mname,
			rname,
			strconv.FormatUint(uint64(record.SOA.Serial), 10),
			strconv.FormatUint(uint64(record.SOA.Refresh), 10),
			strconv.FormatUint(uint64(record.SOA.Retry), 10),
			strconv.FormatUint(uint64(record.SOA.Expire), 10),
			strconv.FormatUint(uint64(record.SOA.Minimum), 10),
		)
	}
}
