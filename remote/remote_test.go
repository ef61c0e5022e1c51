package remote

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxpoletaev/nacosclient/nacoserr"
	"github.com/maxpoletaev/nacosclient/payload"
)

func TestCreateLabels_Defaults(t *testing.T) {
	for _, key := range []string{"TASK_ID", "APP_NAME", "VIP_SERVER_TAG", "AMORY_TAG"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}

	labels := CreateLabels()
	assert.Equal(t, "config", labels[LabelModule])
	assert.Equal(t, "sdk", labels[LabelSource])
	assert.Equal(t, "0", labels[LabelTaskID])
	assert.Equal(t, "unknown", labels[LabelAppName])
	assert.Equal(t, "", labels[LabelVipserverTag])
	assert.Equal(t, "", labels[LabelAmoryTag])
}

func TestCreateLabels_ReadsEnvOnEveryCall(t *testing.T) {
	t.Setenv("TASK_ID", "42")
	t.Setenv("APP_NAME", "billing")
	assert.Equal(t, "42", CreateLabels()[LabelTaskID])
	assert.Equal(t, "billing", CreateLabels()[LabelAppName])

	t.Setenv("TASK_ID", "43")
	assert.Equal(t, "43", CreateLabels()[LabelTaskID])
}

func TestRequest_Accessors(t *testing.T) {
	req := &ConfigQueryRequest{DataID: "app.yaml", Group: "DEFAULT_GROUP"}
	req.PutHeader("accessToken", "secret")
	req.SetRequestID("17")

	var cr ClientRequest = req
	assert.Equal(t, "secret", cr.Headers()["accessToken"])
	assert.Equal(t, "17", cr.RequestID())
	assert.Equal(t, ModuleConfig, cr.Module())
}

func TestRequest_RoundTrip(t *testing.T) {
	req := &ConfigBatchListenRequest{Listen: true}
	req.AddContext("DEFAULT_GROUP", "d41d8cd98f00b204e9800998ecf8427e", "app.yaml", "")
	req.PutHeader("taskId", "3")

	p, err := payload.Encode(req)
	require.NoError(t, err)
	assert.Equal(t, "ConfigBatchListenRequest", p.Metadata.Type)
	assert.Equal(t, "3", p.Metadata.Headers["taskId"])

	got, err := payload.Decode[ConfigBatchListenRequest](p)
	require.NoError(t, err)
	assert.Equal(t, req, got)
}

func TestResponse_DecodeServerJSON(t *testing.T) {
	p := &payload.Payload{
		Metadata: payload.Metadata{Type: "ServerCheckResponse"},
		Body:     []byte(`{"resultCode":200,"errorCode":0,"connectionId":"1650000000000_10.0.0.1_5555","requestId":"","success":true}`),
	}

	resp, err := payload.Decode[ServerCheckResponse](p)
	require.NoError(t, err)
	assert.True(t, resp.IsSuccess())
	assert.NoError(t, resp.Err())
	assert.Equal(t, "1650000000000_10.0.0.1_5555", resp.ConnectionID)
}

func TestResponse_Err(t *testing.T) {
	resp := NewErrorResponse(ErrorCodeConfigNotFound, "config data not exist")
	assert.False(t, resp.IsSuccess())
	assert.EqualError(t, resp.Err(), "result code 500, error code 300: config data not exist")

	_, err := payload.Decode[ServerCheckResponse](mustEncode(t, resp))
	assert.ErrorIs(t, err, nacoserr.ErrTypeMismatch)
}

func TestDefaultClientAbilities(t *testing.T) {
	abilities := DefaultClientAbilities()
	assert.True(t, abilities.RemoteAbility.SupportRemoteConnection)
	assert.True(t, abilities.ConfigAbility.SupportRemoteMetrics)
	assert.False(t, abilities.NamingAbility.SupportDeltaPush)
	assert.False(t, abilities.NamingAbility.SupportRemoteMetric)
}

func mustEncode(t *testing.T, v any) *payload.Payload {
	t.Helper()

	p, err := payload.Encode(v)
	require.NoError(t, err)

	return p
}
