package token_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"skindiff/internal/domain"
	"skindiff/internal/token"
)

func openStore(t *testing.T) (*token.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tokens.json")
	s, err := token.Open(path)
	require.NoError(t, err)
	return s, path
}

func TestOpenCreatesDefaultFile(t *testing.T) {
	rq := require.New(t)
	s, path := openStore(t)

	_, err := os.Stat(path)
	rq.NoError(err)

	st := s.Status()
	rq.Equal(token.StatusUnconfigured, st[domain.MarketplaceBuff].Status)
	rq.Equal(token.StatusUnconfigured, st[domain.MarketplaceYoupin].Status)
	rq.False(st[domain.MarketplaceBuff].Fields["session"])
}

func TestUpdateBuffRoundTrip(t *testing.T) {
	rq := require.New(t)
	s, path := openStore(t)

	err := s.UpdateBuff(map[string]string{
		"session":    "sess-1",
		"csrf_token": "csrf-1",
	}, map[string]string{"User-Agent": "test-agent"})
	rq.NoError(err)

	rec := s.Buff()
	rq.Equal("sess-1", rec.Cookies["session"])
	rq.Equal("csrf-1", rec.Cookies["csrf_token"])
	rq.Equal("test-agent", rec.Headers["User-Agent"])
	rq.Equal(token.StatusConfigured, rec.Status)
	rq.NotNil(rec.LastUpdated)

	// Default cookies survive the merge.
	rq.Equal("csgo", rec.Cookies["game"])

	// A reopened store sees the persisted state.
	reopened, err := token.Open(path)
	rq.NoError(err)
	rq.Equal("sess-1", reopened.Buff().Cookies["session"])

	st := s.Status()
	rq.True(st[domain.MarketplaceBuff].Fields["session"])
	rq.True(st[domain.MarketplaceBuff].Fields["csrf_token"])
}

func TestIdenticalUpdateOnlyMovesTimestamp(t *testing.T) {
	rq := require.New(t)
	s, path := openStore(t)

	cookies := map[string]string{"session": "x", "csrf_token": "y"}
	rq.NoError(s.UpdateBuff(cookies, nil))

	var first map[string]any
	data, err := os.ReadFile(path)
	rq.NoError(err)
	rq.NoError(json.Unmarshal(data, &first))

	rq.NoError(s.UpdateBuff(cookies, nil))

	var second map[string]any
	data, err = os.ReadFile(path)
	rq.NoError(err)
	rq.NoError(json.Unmarshal(data, &second))

	delete(first["buff"].(map[string]any), "last_updated")
	delete(second["buff"].(map[string]any), "last_updated")
	rq.Equal(first, second)
}

func TestUpdateBuffRequiresSessionAndCSRF(t *testing.T) {
	rq := require.New(t)
	s, _ := openStore(t)

	err := s.UpdateBuff(map[string]string{"session": "only"}, nil)
	rq.ErrorIs(err, domain.ErrValidation)

	// The failed update must not have touched the live record.
	rq.Empty(s.Buff().Cookies["session"])
	rq.Equal(token.StatusUnconfigured, s.Buff().Status)
}

func TestUpdateYoupinMirrorsHeaders(t *testing.T) {
	rq := require.New(t)
	s, _ := openStore(t)

	err := s.UpdateYoupin(token.YoupinFields{
		DeviceID:      "dev-1",
		UK:            "uk-1",
		B3:            "aaaa-bbbb-1",
		Authorization: "Bearer tok",
	}, nil)
	rq.NoError(err)

	rec := s.Youpin()
	rq.Equal("dev-1", rec.Headers["deviceid"])
	rq.Equal("uk-1", rec.Headers["uk"])
	rq.Equal("Bearer tok", rec.Headers["authorization"])
	rq.Equal("00-aaaa-bbbb-01", rec.Headers["traceparent"])
	rq.Equal(token.StatusConfigured, rec.Status)
}

func TestUpdateYoupinRequiredFields(t *testing.T) {
	rq := require.New(t)
	s, _ := openStore(t)

	err := s.UpdateYoupin(token.YoupinFields{DeviceID: "dev-1"}, nil)
	rq.ErrorIs(err, domain.ErrValidation)
	rq.Equal(token.StatusUnconfigured, s.Youpin().Status)
}

func TestTraceParentFromB3(t *testing.T) {
	rq := require.New(t)

	rq.Equal("00-trace-span-01", token.TraceParentFromB3("trace-span-1-extra"))
	rq.Equal("00-trace-span-01", token.TraceParentFromB3("trace-span"))
	rq.Empty(token.TraceParentFromB3("notrace"))
	rq.Empty(token.TraceParentFromB3(""))
}
