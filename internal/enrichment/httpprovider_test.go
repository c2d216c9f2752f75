package enrichment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPProviderFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("email") != "jane@example.com" {
			t.Errorf("unexpected email query param: %q", r.URL.Query().Get("email"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"name":"Jane Doe","title":"Engineer","found":true}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, Cheap)
	cand, found, err := p.Search(context.Background(), "jane@example.com")
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if !found || cand.Name != "Jane Doe" || cand.Title != "Engineer" {
		t.Errorf("Search result = %+v, found=%v, want Jane Doe/Engineer/true", cand, found)
	}
	if p.Cost() != Cheap {
		t.Errorf("Cost() = %v, want Cheap", p.Cost())
	}
}

func TestHTTPProviderNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"found":false}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, Expensive)
	_, found, err := p.Search(context.Background(), "jane@example.com")
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if found {
		t.Errorf("expected found=false")
	}
}

func TestHTTPProviderServerErrorIsOutage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, Cheap)
	_, found, err := p.Search(context.Background(), "jane@example.com")
	if err == nil {
		t.Fatalf("expected an error for a 500 response")
	}
	if found {
		t.Errorf("expected found=false alongside the error")
	}
}
