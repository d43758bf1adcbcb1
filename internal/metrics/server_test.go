package metrics

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerServesMetrics(t *testing.T) {
	DatagramsReceivedTotal.Inc()
	DecodeResultsTotal.WithLabelValues("clean").Inc()

	s := NewServer("127.0.0.1:0", "")
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	resp, err := http.Get("http://" + s.Addr().String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "trapd_datagrams_received_total")
	assert.Contains(t, string(body), `trapd_decode_results_total{outcome="clean"}`)
}

func TestServerBindError(t *testing.T) {
	first := NewServer("127.0.0.1:0", "/m")
	require.NoError(t, first.Start(context.Background()))
	defer first.Stop(context.Background())

	second := NewServer(first.Addr().String(), "/m")
	assert.Error(t, second.Start(context.Background()))
}

func TestServerStopBeforeStart(t *testing.T) {
	s := NewServer(":0", "")
	assert.Nil(t, s.Addr())
	assert.NoError(t, s.Stop(context.Background()))
}
