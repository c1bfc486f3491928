package delivery

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func deliveryKind(t *testing.T, err error) Kind {
	t.Helper()
	var derr *Error
	if !errors.As(err, &derr) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	return derr.Kind
}

func TestSend_Validation(t *testing.T) {
	tests := []struct {
		name   string
		apiKey string
		number string
		text   string
		want   Kind
	}{
		{"missing api key", "", "5511999999999", "hi", KindConfig},
		{"empty number", "key", "", "hi", KindValidation},
		{"number with letters", "key", "55x119999", "hi", KindValidation},
		{"number too short", "key", "1234", "hi", KindValidation},
		{"empty text", "key", "5511999999999", "", KindValidation},
		{"whitespace text", "key", "5511999999999", "   \n", KindValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requests := 0
			srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				requests++
			}))
			defer srv.Close()

			c := NewClient(srv.URL, tt.apiKey, "main")
			err := c.Send(context.Background(), tt.number, tt.text)
			if got := deliveryKind(t, err); got != tt.want {
				t.Errorf("kind = %q, want %q", got, tt.want)
			}
			if requests != 0 {
				t.Error("validation failures must not reach the network")
			}
		})
	}
}

func TestSend_Success(t *testing.T) {
	var gotPath, gotKey, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("apikey")
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody = string(buf)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", "main")
	if err := c.Send(context.Background(), "5511999999999", "Registrado!"); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	if gotPath != "/message/sendText/main" {
		t.Errorf("path = %q", gotPath)
	}
	if gotKey != "secret" {
		t.Errorf("apikey header = %q", gotKey)
	}
	want := `{"number":"5511999999999","text":"Registrado!"}`
	if gotBody != want {
		t.Errorf("body = %q, want %q", gotBody, want)
	}
}

func TestSend_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid instance"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", "main")
	err := c.Send(context.Background(), "5511999999999", "hi")

	var derr *Error
	if !errors.As(err, &derr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if derr.Kind != KindUpstream {
		t.Errorf("kind = %q", derr.Kind)
	}
	if derr.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d", derr.StatusCode)
	}
	if derr.Body != `{"error":"invalid instance"}` {
		t.Errorf("body = %q", derr.Body)
	}
	if derr.Number != "5511999999999" {
		t.Errorf("number = %q", derr.Number)
	}
}

func TestSend_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", "main", WithTimeout(50*time.Millisecond))
	err := c.Send(context.Background(), "5511999999999", "hi")
	if got := deliveryKind(t, err); got != KindTimeout {
		t.Errorf("kind = %q, want %q", got, KindTimeout)
	}
}

func TestSend_Unreachable(t *testing.T) {
	// Port reserved then closed: connection refused.
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient(url, "key", "main")
	err := c.Send(context.Background(), "5511999999999", "hi")
	if got := deliveryKind(t, err); got != KindUnreachable {
		t.Errorf("kind = %q, want %q", got, KindUnreachable)
	}
}
