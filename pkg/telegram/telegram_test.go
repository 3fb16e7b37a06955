package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

type rewriteTransport struct {
	target *url.URL
	base   http.RoundTripper
}

func (t rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.URL.Scheme = t.target.Scheme
	clone.URL.Host = t.target.Host
	clone.Host = t.target.Host
	return t.base.RoundTrip(clone)
}

func newTestClient(ts *httptest.Server) *Client {
	u, _ := url.Parse(ts.URL)
	c := New("test-token")
	c.httpClient = &http.Client{Transport: rewriteTransport{target: u, base: ts.Client().Transport}}
	return c
}

func TestPollNormalizesTextMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/getUpdates") {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["timeout"].(float64) != 30 {
			t.Fatalf("expected timeout=30, got %v", body["timeout"])
		}
		w.Write([]byte(`{"ok":true,"result":[{"update_id":1,"message":{"from":{"id":123},"chat":{"id":456},"text":"hello"}}]}`))
	}))
	defer ts.Close()

	updates, err := newTestClient(ts).Poll(context.Background(), 10, 30)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(updates) != 1 || updates[0].ChatID != 456 || updates[0].UserID != 123 || updates[0].Text != "hello" {
		t.Fatalf("unexpected updates: %+v", updates)
	}
}

func TestPollNormalizesCallbackQuery(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true,"result":[{"update_id":2,"callback_query":{"id":"cb1","from":{"id":9},"message":{"chat":{"id":10}},"data":"approve:abc"}}]}`))
	}))
	defer ts.Close()

	updates, err := newTestClient(ts).Poll(context.Background(), 0, 30)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(updates) != 1 || updates[0].CallbackID != "cb1" || updates[0].Text != "approve:abc" {
		t.Fatalf("unexpected updates: %+v", updates)
	}
}

func TestPollPropagatesAPIError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":false,"description":"Unauthorized"}`))
	}))
	defer ts.Close()

	if _, err := newTestClient(ts).Poll(context.Background(), 0, 30); err == nil {
		t.Fatalf("expected an error")
	}
}

func TestSendChunksLongText(t *testing.T) {
	var gotTexts []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		gotTexts = append(gotTexts, body["text"].(string))
		w.Write([]byte(`{"ok":true,"result":{}}`))
	}))
	defer ts.Close()

	long := strings.Repeat("a", 4000) + "\n" + strings.Repeat("b", 200)
	if err := newTestClient(ts).Send(context.Background(), 1, long); err != nil {
		t.Fatalf("send: %v", err)
	}

	if len(gotTexts) < 2 {
		t.Fatalf("expected the message to be split into multiple chunks, got %d", len(gotTexts))
	}
	for _, chunk := range gotTexts {
		if len([]rune(chunk)) > maxChunkRunes {
			t.Fatalf("chunk exceeds maxChunkRunes: %d runes", len([]rune(chunk)))
		}
	}
}

func TestSplitAtNewlinesPreservesShortText(t *testing.T) {
	chunks := splitAtNewlines("short", 3500)
	if len(chunks) != 1 || chunks[0] != "short" {
		t.Fatalf("expected a single unchanged chunk, got %v", chunks)
	}
}

func TestSplitAtNewlinesHardSplitsWithNoNewline(t *testing.T) {
	text := strings.Repeat("x", 10)
	chunks := splitAtNewlines(text, 4)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 hard-split chunks, got %d: %v", len(chunks), chunks)
	}
}
