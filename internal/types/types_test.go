package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDripResponse_WireShape(t *testing.T) {
	resp := DripResponse{
		Address:     "0x10787e20701409e5629b2c65296efc718edb96dc",
		TxReference: "0xabc",
		TokenAmount: "100",
		TokenSymbol: "KPGT",
		ExplorerURL: "https://explorer.example/tx/0xabc",
	}

	raw, err := json.Marshal(resp)
	require.NoError(t, err)

	var fields map[string]string
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Equal(t, map[string]string{
		"address":     resp.Address,
		"txReference": "0xabc",
		"tokenAmount": "100",
		"tokenSymbol": "KPGT",
		"explorerUrl": "https://explorer.example/tx/0xabc",
	}, fields)
}

func TestServiceError_OmitsEmptyDetails(t *testing.T) {
	raw, err := json.Marshal(&ServiceError{Code: "TIMEOUT", Message: "slow"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"code":"TIMEOUT","message":"slow"}`, string(raw))
	assert.Equal(t, "slow", (&ServiceError{Message: "slow"}).Error())
}
