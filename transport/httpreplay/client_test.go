package httpreplay

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	offsync "github.com/c0deZ3R0/go-offline-sync"
	syncErrors "github.com/c0deZ3R0/go-offline-sync/errors"
)

type capturedRequest struct {
	method string
	path   string
	body   string
}

func newCaptureServer(t *testing.T, status int) (*httptest.Server, *capturedRequest) {
	t.Helper()
	captured := &capturedRequest{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		captured.method = r.Method
		captured.path = r.URL.Path
		captured.body = string(body)
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)
	return server, captured
}

func TestReplayCreatePostsToCollection(t *testing.T) {
	server, captured := newCaptureServer(t, http.StatusCreated)
	client := NewClient(server.URL)

	payload := `{"amount":12.5,"date":"2024-06-01"}`
	err := client.Replay(context.Background(), offsync.PendingOperation{
		ID:         "op-1",
		EntityType: offsync.EntityTransaction,
		Action:     offsync.ActionCreate,
		Payload:    json.RawMessage(payload),
	})
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}

	if captured.method != http.MethodPost {
		t.Errorf("expected POST, got %s", captured.method)
	}
	if captured.path != "/api/transactions" {
		t.Errorf("expected /api/transactions, got %s", captured.path)
	}
	if captured.body != payload {
		t.Errorf("expected payload forwarded, got %s", captured.body)
	}
}

func TestReplayUpdatePutsToEntityID(t *testing.T) {
	server, captured := newCaptureServer(t, http.StatusOK)
	client := NewClient(server.URL)

	err := client.Replay(context.Background(), offsync.PendingOperation{
		ID:         "op-2",
		EntityType: offsync.EntityAccount,
		Action:     offsync.ActionUpdate,
		Payload:    json.RawMessage(`{"id":"acc-7","balance":50}`),
	})
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}

	if captured.method != http.MethodPut {
		t.Errorf("expected PUT, got %s", captured.method)
	}
	if captured.path != "/api/accounts/acc-7" {
		t.Errorf("expected /api/accounts/acc-7, got %s", captured.path)
	}
}

func TestReplayDeleteSendsNoBody(t *testing.T) {
	server, captured := newCaptureServer(t, http.StatusNoContent)
	client := NewClient(server.URL)

	err := client.Replay(context.Background(), offsync.PendingOperation{
		ID:         "op-3",
		EntityType: offsync.EntityBudget,
		Action:     offsync.ActionDelete,
		Payload:    json.RawMessage(`{"id":"b-3"}`),
	})
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}

	if captured.method != http.MethodDelete {
		t.Errorf("expected DELETE, got %s", captured.method)
	}
	if captured.path != "/api/budgets/b-3" {
		t.Errorf("expected /api/budgets/b-3, got %s", captured.path)
	}
	if captured.body != "" {
		t.Errorf("expected empty body on delete, got %s", captured.body)
	}
}

func TestReplayFallsBackToOperationID(t *testing.T) {
	server, captured := newCaptureServer(t, http.StatusOK)
	client := NewClient(server.URL)

	err := client.Replay(context.Background(), offsync.PendingOperation{
		ID:         "op-9",
		EntityType: offsync.EntityGoal,
		Action:     offsync.ActionDelete,
	})
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if captured.path != "/api/goals/op-9" {
		t.Errorf("expected operation id in path, got %s", captured.path)
	}
}

func TestReplayServerErrorIsRetryable(t *testing.T) {
	server, _ := newCaptureServer(t, http.StatusInternalServerError)
	client := NewClient(server.URL)

	err := client.Replay(context.Background(), offsync.PendingOperation{
		ID:         "op-4",
		EntityType: offsync.EntityCategory,
		Action:     offsync.ActionCreate,
		Payload:    json.RawMessage(`{"name":"rent"}`),
	})
	if err == nil {
		t.Fatal("expected error on 500 response")
	}
	if !syncErrors.IsRetryable(err) {
		t.Errorf("expected retryable network error, got %v", err)
	}
	if syncErrors.CodeOf(err) != syncErrors.ErrCodeNetworkFailure {
		t.Errorf("expected NETWORK_FAILURE, got %v", syncErrors.CodeOf(err))
	}
}

func TestReplayConnectionRefusedIsRetryable(t *testing.T) {
	// Server closed before the request, so the dial fails.
	server, _ := newCaptureServer(t, http.StatusOK)
	url := server.URL
	server.Close()

	client := NewClient(url)
	err := client.Replay(context.Background(), offsync.PendingOperation{
		ID:         "op-5",
		EntityType: offsync.EntityTransaction,
		Action:     offsync.ActionCreate,
		Payload:    json.RawMessage(`{}`),
	})
	if !syncErrors.IsRetryable(err) {
		t.Errorf("expected retryable network error, got %v", err)
	}
}

func TestReplayContextExpiryIsNetworkFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body first: with an unread body the server never notices
		// the client disconnect, so r.Context() would never be canceled and
		// this handler (and server.Close) would deadlock.
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	t.Cleanup(server.Close)

	client := NewClient(server.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := client.Replay(ctx, offsync.PendingOperation{
		ID:         "op-6",
		EntityType: offsync.EntityAccount,
		Action:     offsync.ActionUpdate,
		Payload:    json.RawMessage(`{"id":"acc-1"}`),
	})
	if syncErrors.CodeOf(err) != syncErrors.ErrCodeNetworkFailure {
		t.Errorf("expected NETWORK_FAILURE on timeout, got %v", err)
	}
}

func TestReplayUnroutedEntityFailsValidation(t *testing.T) {
	client := NewClient("http://localhost", WithRoutes(offsync.Routes{}))

	err := client.Replay(context.Background(), offsync.PendingOperation{
		ID:         "op-7",
		EntityType: offsync.EntityGoal,
		Action:     offsync.ActionCreate,
	})
	if syncErrors.CodeOf(err) != syncErrors.ErrCodeValidationFailure {
		t.Errorf("expected validation failure, got %v", err)
	}
}
