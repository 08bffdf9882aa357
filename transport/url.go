package transport

import (
	"fmt"
	"github.com/YasiruR/walletconnect-prober/domain/services"
	"net/url"
)

// RelayURLFactory attaches a freshly signed auth token to the relay url for
// every connection attempt
type RelayURLFactory struct {
	host      string
	projectID string
	insecure  bool
	auth      services.Authenticator
}

func NewRelayURLFactory(host, projectID string, insecure bool, auth services.Authenticator) *RelayURLFactory {
	return &RelayURLFactory{host: host, projectID: projectID, insecure: insecure, auth: auth}
}

// Audience is the value the relay expects in the aud claim
func (r *RelayURLFactory) Audience() string {
	return `wss://` + r.host
}

func (r *RelayURLFactory) URL() (string, error) {
	token, err := r.auth.CreateAuthToken(r.Audience())
	if err != nil {
		return ``, fmt.Errorf(`creating auth token failed - %w`, err)
	}

	scheme := `wss`
	if r.insecure {
		scheme = `ws`
	}

	query := url.Values{}
	query.Set(`auth`, token)
	if r.projectID != `` {
		query.Set(`projectId`, r.projectID)
	}

	u := url.URL{Scheme: scheme, Host: r.host, Path: `/`, RawQuery: query.Encode()}
	return u.String(), nil
}
