package messages

import "github.com/YasiruR/walletconnect-prober/domain/models"

type ProposeResponse struct {
	Relay              models.RelayProtocolOptions `json:"relay"`
	ResponderPublicKey string                      `json:"responderPublicKey"`
}

type SettleParams struct {
	Relay       models.RelayProtocolOptions `json:"relay"`
	Controller  models.Participant          `json:"controller"`
	Accounts    models.Set                  `json:"accounts"`
	Methods     models.Set                  `json:"methods"`
	Events      models.Set                  `json:"events"`
	Blockchains models.Set                  `json:"blockchains"`
	// Expiry is in seconds since epoch
	Expiry int64 `json:"expiry"`
}

type UpdateAccountsParams struct {
	Accounts models.Set `json:"accounts"`
}

type UpdateMethodsParams struct {
	Methods models.Set `json:"methods"`
}

type UpdateEventsParams struct {
	Events models.Set `json:"events"`
}

type UpdateExpiryParams struct {
	Expiry int64 `json:"expiry"`
}

type DeleteParams struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type PingParams struct{}
