package models

import (
	"fmt"
	"github.com/YasiruR/walletconnect-prober/domain"
	"net/url"
	"strings"
)

const uriScheme = `wc`

// URI is the out-of-band pairing link shared from the proposer to the responder
type URI struct {
	Topic   string
	Version string
	SymKey  string
	Relay   RelayProtocolOptions
}

func NewURI(topic string, symKey SymmetricKey, relay RelayProtocolOptions) URI {
	return URI{
		Topic:   topic,
		Version: domain.URIVersion,
		SymKey:  symKey.Hex(),
		Relay:   relay,
	}
}

// String renders wc:<topic>@<version>?relay-protocol=<p>&symKey=<hex>[&relay-data=<d>]
func (u URI) String() string {
	s := fmt.Sprintf(`%s:%s@%s?relay-protocol=%s&symKey=%s`, uriScheme, u.Topic, u.Version,
		url.QueryEscape(u.Relay.Protocol), u.SymKey)
	if u.Relay.Data != `` {
		s += `&relay-data=` + url.QueryEscape(u.Relay.Data)
	}
	return s
}

func (u URI) SymmetricKey() (SymmetricKey, error) {
	return SymmetricKeyFromHex(u.SymKey)
}

func ParseURI(raw string) (URI, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return URI{}, fmt.Errorf(`%w - %v`, domain.ErrMalformedURI, err)
	}

	if parsed.Scheme != uriScheme || parsed.Opaque == `` {
		return URI{}, fmt.Errorf(`%w - expected %s scheme with topic`, domain.ErrMalformedURI, uriScheme)
	}

	parts := strings.SplitN(parsed.Opaque, `@`, 2)
	if len(parts) != 2 || parts[0] == `` {
		return URI{}, fmt.Errorf(`%w - missing topic or version`, domain.ErrMalformedURI)
	}

	if parts[1] != domain.URIVersion {
		return URI{}, fmt.Errorf(`%w (%s)`, domain.ErrUnsupportedURIVersion, parts[1])
	}

	query := parsed.Query()
	protocol := query.Get(`relay-protocol`)
	if protocol == `` {
		return URI{}, fmt.Errorf(`%w - missing relay protocol`, domain.ErrMalformedURI)
	}

	symKey := strings.ToLower(query.Get(`symKey`))
	if _, err = SymmetricKeyFromHex(symKey); err != nil {
		return URI{}, fmt.Errorf(`%w - %v`, domain.ErrMalformedURI, err)
	}

	return URI{
		Topic:   parts[0],
		Version: parts[1],
		SymKey:  symKey,
		Relay:   RelayProtocolOptions{Protocol: protocol, Data: query.Get(`relay-data`)},
	}, nil
}
