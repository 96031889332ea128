package blockchain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agrichain/telemetry-gateway/internal/utils"
)

func ethClient(url string) *EthereumRPCClient {
	return NewEthereumRPCClient(EthereumRPCConfig{
		RPCURL:       url,
		FromAddress:  "0x1111111111111111111111111111111111111111",
		PollInterval: 5 * time.Millisecond,
		MaxWait:      time.Second,
	})
}

// scripted server: one canned response per hit, in order
func scriptedServer(t *testing.T, hits *atomic.Int64, script ...func(w http.ResponseWriter, body map[string]any)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("malformed rpc payload: %v", err)
		}
		if int(n) > len(script) {
			t.Errorf("unexpected extra rpc call #%d: %v", n, body)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		script[n-1](w, body)
	}))
}

func TestSubmitHash_RetryThenSucceed(t *testing.T) {
	var hits atomic.Int64
	srv := scriptedServer(t, &hits,
		func(w http.ResponseWriter, _ map[string]any) { w.WriteHeader(http.StatusInternalServerError) },
		func(w http.ResponseWriter, body map[string]any) {
			if body["method"] != "eth_sendTransaction" {
				t.Errorf("hit 2 method = %v", body["method"])
			}
			params := body["params"].([]any)[0].(map[string]any)
			if params["data"] != "0x"+strings.Repeat("a", 64) {
				t.Errorf("unexpected tx data: %v", params["data"])
			}
			if params["to"] != params["from"] {
				t.Errorf("to must default to from: %v", params)
			}
			fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":"0xabc"}`)
		},
		func(w http.ResponseWriter, body map[string]any) {
			if body["method"] != "eth_getTransactionReceipt" {
				t.Errorf("hit 3 method = %v", body["method"])
			}
			fmt.Fprint(w, `{"jsonrpc":"2.0","id":2,"result":null}`)
		},
		func(w http.ResponseWriter, _ map[string]any) {
			fmt.Fprint(w, `{"jsonrpc":"2.0","id":2,"result":{"blockNumber":"0x2a","status":"0x1"}}`)
		},
	)
	defer srv.Close()

	receipt, err := ethClient(srv.URL).SubmitHash(context.Background(), strings.Repeat("a", 64), "dev-1", 1700001000)
	if err != nil {
		t.Fatalf("SubmitHash: %v", err)
	}
	if receipt.TxHash != "0xabc" || receipt.BlockHeight != 42 {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}
	if receipt.SubmittedAt == "" {
		t.Fatal("submittedAt not stamped")
	}
	if got := hits.Load(); got != 4 {
		t.Fatalf("server hits = %d, want exactly 4", got)
	}
}

func TestSubmitHash_DecodesRPCError(t *testing.T) {
	var hits atomic.Int64
	srv := scriptedServer(t, &hits, func(w http.ResponseWriter, _ map[string]any) {
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"tx rejected","data":"nonce too low"}}`)
	})
	defer srv.Close()

	_, err := ethClient(srv.URL).SubmitHash(context.Background(), strings.Repeat("b", 64), "dev-1", 1)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"rpc error -32000", "tx rejected", "nonce too low"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %q", err, want)
		}
	}
	if hits.Load() != 1 {
		t.Fatalf("semantic rpc errors must not be retried, hits = %d", hits.Load())
	}
}

func TestSubmitHash_ErrorFieldFallbacks(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"empty error object", `{"error":{}}`, "unknown rpc error"},
		{"message only", `{"error":{"message":"boom"}}`, "boom"},
		{"code only", `{"error":{"code":-1}}`, "rpc error -1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var hits atomic.Int64
			srv := scriptedServer(t, &hits, func(w http.ResponseWriter, _ map[string]any) {
				fmt.Fprint(w, tc.body)
			})
			defer srv.Close()

			_, err := ethClient(srv.URL).SubmitHash(context.Background(), strings.Repeat("c", 64), "d", 1)
			if err == nil || err.Error() != tc.want {
				t.Fatalf("err = %v, want %q", err, tc.want)
			}
		})
	}
}

func TestSubmitHash_MissingTxHash(t *testing.T) {
	var hits atomic.Int64
	srv := scriptedServer(t, &hits, func(w http.ResponseWriter, _ map[string]any) {
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":""}`)
	})
	defer srv.Close()

	_, err := ethClient(srv.URL).SubmitHash(context.Background(), strings.Repeat("d", 64), "d", 1)
	if err == nil || err.Error() != "missing transaction hash in rpc response" {
		t.Fatalf("err = %v", err)
	}
}

func TestSubmitHash_ClientErrorsAreNotRetried(t *testing.T) {
	var hits atomic.Int64
	srv := scriptedServer(t, &hits, func(w http.ResponseWriter, _ map[string]any) {
		w.WriteHeader(http.StatusNotFound)
	})
	defer srv.Close()

	_, err := ethClient(srv.URL).SubmitHash(context.Background(), strings.Repeat("e", 64), "d", 1)
	if err == nil || err.Error() != "rpc http status 404" {
		t.Fatalf("err = %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("4xx must not be retried, hits = %d", hits.Load())
	}
}

func TestSubmitHash_ServerErrorsRetriedThreeTimes(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := ethClient(srv.URL).SubmitHash(context.Background(), strings.Repeat("f", 64), "d", 1)
	if err == nil || err.Error() != "rpc http status 502" {
		t.Fatalf("err = %v", err)
	}
	if hits.Load() != 3 {
		t.Fatalf("5xx must be retried up to 3 attempts, hits = %d", hits.Load())
	}
}

func TestSubmitHash_PollTimeoutReturnsPartialReceipt(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		if n == 1 {
			fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":"0xslow"}`)
			return
		}
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":2,"result":null}`)
	}))
	defer srv.Close()

	client := NewEthereumRPCClient(EthereumRPCConfig{
		RPCURL:       srv.URL,
		FromAddress:  "0x1",
		PollInterval: 5 * time.Millisecond,
		MaxWait:      30 * time.Millisecond,
	})
	receipt, err := client.SubmitHash(context.Background(), strings.Repeat("0", 64), "d", 1)
	if err != nil {
		t.Fatalf("poll timeout is not a failure: %v", err)
	}
	if receipt.TxHash != "0xslow" || receipt.BlockHeight != 0 {
		t.Fatalf("unexpected partial receipt: %+v", receipt)
	}
}

func TestSubmitHash_MissingAddressConfig(t *testing.T) {
	client := NewEthereumRPCClient(EthereumRPCConfig{RPCURL: "http://127.0.0.1:1"})
	if _, err := client.SubmitHash(context.Background(), strings.Repeat("0", 64), "d", 1); err == nil {
		t.Fatal("expected configuration error")
	}
}

func TestMockClient_DeterministicShape(t *testing.T) {
	mock := NewMockClient()
	hash := utils.Sha256Hex("payload")

	first, err := mock.SubmitHash(context.Background(), hash, "dev-1", 1700001000)
	if err != nil {
		t.Fatalf("SubmitHash: %v", err)
	}
	if want := utils.Sha256Hex(fmt.Sprintf("%s|dev-1|1700001000|1", hash)); first.TxHash != want {
		t.Fatalf("txHash = %s, want %s", first.TxHash, want)
	}
	if first.BlockHeight < 100000 || first.BlockHeight >= 1000000 {
		t.Fatalf("blockHeight out of range: %d", first.BlockHeight)
	}
	if _, err := time.Parse(time.RFC3339, first.SubmittedAt); err != nil {
		t.Fatalf("submittedAt not RFC3339: %s", first.SubmittedAt)
	}

	second, _ := mock.SubmitHash(context.Background(), hash, "dev-1", 1700001000)
	if second.TxHash == first.TxHash {
		t.Fatal("monotonic counter must vary the tx hash")
	}
}
