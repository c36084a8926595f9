package feishu

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"myagent/pkg/config"
)

// newTestAPI points an API client at a local httptest server.
func newTestAPI(t *testing.T, handler http.Handler) *API {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	api := NewAPI(config.FeishuConfig{AppID: "app", AppSecret: "secret"})
	api.base = server.URL
	return api
}

func TestTokenFetchedOnce(t *testing.T) {
	var tokenCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v3/tenant_access_token/internal", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		w.Write([]byte(`{"code":0,"msg":"ok","tenant_access_token":"tok-1"}`))
	})
	mux.HandleFunc("/im/v1/messages", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		w.Write([]byte(`{"code":0,"msg":"ok","data":{"message_id":"om_1"}}`))
	})

	api := newTestAPI(t, mux)

	for i := 0; i < 3; i++ {
		msgID, err := api.SendMessage("oc_1", "text", map[string]string{"text": "hi"})
		require.NoError(t, err)
		require.Equal(t, "om_1", msgID)
	}
	require.Equal(t, int32(1), tokenCalls.Load(), "token must be cached across calls")
}

func TestTokenRefreshAndRetryOnExpiry(t *testing.T) {
	var tokenCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v3/tenant_access_token/internal", func(w http.ResponseWriter, r *http.Request) {
		n := tokenCalls.Add(1)
		if n == 1 {
			w.Write([]byte(`{"code":0,"msg":"ok","tenant_access_token":"stale"}`))
		} else {
			w.Write([]byte(`{"code":0,"msg":"ok","tenant_access_token":"fresh"}`))
		}
	})
	mux.HandleFunc("/im/v1/messages", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer stale" {
			w.Write([]byte(`{"code":99991663,"msg":"token invalid"}`))
			return
		}
		w.Write([]byte(`{"code":0,"msg":"ok","data":{"message_id":"om_2"}}`))
	})

	api := newTestAPI(t, mux)

	msgID, err := api.SendMessage("oc_1", "text", map[string]string{"text": "hi"})
	require.NoError(t, err)
	require.Equal(t, "om_2", msgID)
	require.Equal(t, int32(2), tokenCalls.Load(), "expiry must trigger exactly one refresh")
}

func TestAPIErrorSurfaced(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v3/tenant_access_token/internal", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":0,"msg":"ok","tenant_access_token":"tok"}`))
	})
	mux.HandleFunc("/im/v1/messages", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":230001,"msg":"bot not in chat"}`))
	})

	api := newTestAPI(t, mux)
	_, err := api.SendMessage("oc_1", "text", map[string]string{"text": "hi"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "bot not in chat")
}

func TestCardUpdateSequencesStrictlyIncrease(t *testing.T) {
	var mu sync.Mutex
	var sequences []int64

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v3/tenant_access_token/internal", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":0,"msg":"ok","tenant_access_token":"tok"}`))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Sequence int64 `json:"sequence"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		sequences = append(sequences, body.Sequence)
		mu.Unlock()
		w.Write([]byte(`{"code":0,"msg":"ok"}`))
	})

	api := newTestAPI(t, mux)

	require.NoError(t, api.UpdateCard("card-1", `{}`))
	require.NoError(t, api.StreamingUpdateText("card-1", "content_md", "hello"))
	require.NoError(t, api.UpdateCardSettings("card-1", `{"config":{"streaming_mode":false}}`))
	require.NoError(t, api.UpdateCard("card-1", `{}`))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, sequences, 4)
	for i := 1; i < len(sequences); i++ {
		require.Greater(t, sequences[i], sequences[i-1], "sequence numbers must be strictly increasing")
	}
}

func TestNextSeqConcurrentUnique(t *testing.T) {
	api := NewAPI(config.FeishuConfig{})

	const n = 200
	seen := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen <- api.nextSeq()
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[int64]bool)
	for s := range seen {
		require.False(t, unique[s], "sequence %d issued twice", s)
		unique[s] = true
	}
	require.Len(t, unique, n)
}
