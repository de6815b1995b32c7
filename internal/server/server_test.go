package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ailearn/internal/app"
	"ailearn/pkg/domain"
	"ailearn/pkg/store"
)

type staticVerifier struct{}

func (staticVerifier) VerifySubject(token string) (string, error) {
	if strings.HasPrefix(token, "user-") {
		return token, nil
	}
	return "", errors.New("invalid token")
}

type denyAfter struct{ allowed int }

func (d *denyAfter) Allow(string) bool {
	if d.allowed <= 0 {
		return false
	}
	d.allowed--
	return true
}

type stubGenerator struct {
	response string
	err      error
}

func (g *stubGenerator) GenerateText(context.Context, string, string) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	return g.response, nil
}

func newTestServer(t *testing.T, gen *stubGenerator, limiter Limiter) (*httptest.Server, *store.MemoryStore) {
	t.Helper()
	memStore := store.NewMemoryStore()
	a, err := app.New(app.Config{Store: memStore, Generator: gen})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	s, err := New(Config{App: a, TokenVerifier: staticVerifier{}, AILimiter: limiter})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	return ts, memStore
}

func seedDocument(t *testing.T, memStore *store.MemoryStore, id, ownerID, text string) {
	t.Helper()
	err := memStore.SaveDocument(domain.Document{
		ID:            id,
		OwnerID:       ownerID,
		Title:         "Biology Notes",
		Status:        domain.StatusReady,
		ExtractedText: text,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func doRequest(t *testing.T, method, url, token, body string) *http.Response {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func TestHealthzOpen(t *testing.T) {
	ts, _ := newTestServer(t, &stubGenerator{response: "ok"}, nil)
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}
}

func TestRequiresBearerToken(t *testing.T) {
	ts, _ := newTestServer(t, &stubGenerator{response: "ok"}, nil)

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/documents", "", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	resp = doRequest(t, http.MethodGet, ts.URL+"/api/documents", "bogus", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", resp.StatusCode)
	}
}

func TestChatRoundTrip(t *testing.T) {
	ts, memStore := newTestServer(t, &stubGenerator{response: "the answer"}, nil)
	seedDocument(t, memStore, "d1", "user-1", "Photosynthesis converts light energy into chemical energy.")

	resp := doRequest(t, http.MethodPost, ts.URL+"/api/ai/documents/d1/chat", "user-1", `{"message":"what is photosynthesis?"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("chat status = %d", resp.StatusCode)
	}
	var answer domain.Answer
	decodeBody(t, resp, &answer)
	if answer.Answer != "the answer" {
		t.Fatalf("unexpected answer: %+v", answer)
	}

	resp = doRequest(t, http.MethodGet, ts.URL+"/api/ai/documents/d1/chat", "user-1", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history status = %d", resp.StatusCode)
	}
	var history struct {
		Items []domain.ConversationTurn `json:"items"`
		Count int                       `json:"count"`
	}
	decodeBody(t, resp, &history)
	if history.Count != 2 {
		t.Fatalf("expected 2 turns, got %d", history.Count)
	}
	if history.Items[0].Role != domain.TurnRoleUser || history.Items[1].Role != domain.TurnRoleAssistant {
		t.Fatalf("turns out of order: %+v", history.Items)
	}
}

func TestExplainBlankConceptIsBadRequest(t *testing.T) {
	ts, memStore := newTestServer(t, &stubGenerator{response: "x"}, nil)
	seedDocument(t, memStore, "d1", "user-1", "some text here")

	resp := doRequest(t, http.MethodPost, ts.URL+"/api/ai/documents/d1/explain", "user-1", `{"concept":"  "}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestUpstreamFailureIsGeneric502(t *testing.T) {
	ts, memStore := newTestServer(t, &stubGenerator{err: errors.New("provider exploded: secret detail")}, nil)
	seedDocument(t, memStore, "d1", "user-1", "some text here")

	resp := doRequest(t, http.MethodPost, ts.URL+"/api/ai/documents/d1/summary", "user-1", "")
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
	var body struct {
		Error string `json:"error"`
	}
	decodeBody(t, resp, &body)
	if body.Error != "AI request failed" {
		t.Fatalf("expected generic message, got %q", body.Error)
	}
}

func TestAIRateLimit(t *testing.T) {
	ts, memStore := newTestServer(t, &stubGenerator{response: "ok"}, &denyAfter{allowed: 1})
	seedDocument(t, memStore, "d1", "user-1", "some text here")

	resp := doRequest(t, http.MethodPost, ts.URL+"/api/ai/documents/d1/summary", "user-1", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first request status = %d", resp.StatusCode)
	}
	resp = doRequest(t, http.MethodPost, ts.URL+"/api/ai/documents/d1/summary", "user-1", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
}

func TestDocumentVisibility(t *testing.T) {
	ts, memStore := newTestServer(t, &stubGenerator{response: "ok"}, nil)
	seedDocument(t, memStore, "d1", "user-1", "text")

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/documents/d1", "user-2", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for other user, got %d", resp.StatusCode)
	}

	resp = doRequest(t, http.MethodGet, ts.URL+"/api/documents/missing", "user-1", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for missing document, got %d", resp.StatusCode)
	}
}

func TestFlashcardLifecycleOverHTTP(t *testing.T) {
	ts, memStore := newTestServer(t, &stubGenerator{response: `[{"question":"q","answer":"a"}]`}, nil)
	seedDocument(t, memStore, "d1", "user-1", "some study text")

	resp := doRequest(t, http.MethodPost, ts.URL+"/api/ai/documents/d1/flashcards", "user-1", "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("generate status = %d", resp.StatusCode)
	}
	var set domain.FlashcardSet
	decodeBody(t, resp, &set)
	if len(set.Cards) != 1 {
		t.Fatalf("expected 1 card, got %+v", set)
	}

	resp = doRequest(t, http.MethodPost, ts.URL+"/api/flashcards/"+set.Cards[0].ID+"/review", "user-1", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("review status = %d", resp.StatusCode)
	}
	var reviewed domain.FlashcardSet
	decodeBody(t, resp, &reviewed)
	if reviewed.Cards[0].ReviewCount != 1 {
		t.Fatalf("expected review recorded, got %+v", reviewed.Cards[0])
	}

	resp = doRequest(t, http.MethodDelete, ts.URL+"/api/flashcards/"+set.ID, "user-1", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
}

func TestProgressEndpoint(t *testing.T) {
	ts, memStore := newTestServer(t, &stubGenerator{response: "ok"}, nil)
	seedDocument(t, memStore, "d1", "user-1", "text")

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/progress", "user-1", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("progress status = %d", resp.StatusCode)
	}
	var progress domain.Progress
	decodeBody(t, resp, &progress)
	if progress.Documents != 1 {
		t.Fatalf("unexpected progress: %+v", progress)
	}
}
