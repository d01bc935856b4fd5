package captcha

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func fakeSolver(t *testing.T, notReady int, answer string) *httptest.Server {
	t.Helper()
	polls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/in.php", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method", http.StatusMethodNotAllowed)
			return
		}
		if r.FormValue("method") != "base64" {
			fmt.Fprint(w, "ERROR_WRONG_METHOD")
			return
		}
		fmt.Fprint(w, "OK|42")
	})
	mux.HandleFunc("/res.php", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("id") != "42" {
			fmt.Fprint(w, "ERROR_WRONG_CAPTCHA_ID")
			return
		}
		polls++
		if polls <= notReady {
			fmt.Fprint(w, "CAPCHA_NOT_READY")
			return
		}
		fmt.Fprint(w, answer)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testClient(srv *httptest.Server) *Client {
	return New(Config{
		BaseURL:      srv.URL,
		Key:          "k",
		PollInterval: time.Millisecond,
		MaxPolls:     5,
	})
}

func TestSolve(t *testing.T) {
	// WHAT: submit + poll round trip, tolerating not-ready answers.
	srv := fakeSolver(t, 2, "OK|51234")
	c := testClient(srv)

	got, err := c.Solve(context.Background(), "aW1n")
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if got != "51234" {
		t.Errorf("answer = %q, want 51234", got)
	}
}

func TestSolveUnsolvable(t *testing.T) {
	srv := fakeSolver(t, 0, "ERROR_CAPTCHA_UNSOLVABLE")
	c := testClient(srv)

	_, err := c.Solve(context.Background(), "aW1n")
	if err != ErrUnsolvable {
		t.Fatalf("err = %v, want ErrUnsolvable", err)
	}
}

func TestAnswerExhaustsPolls(t *testing.T) {
	// WHY: a hung farm must not block a lookup forever.
	srv := fakeSolver(t, 100, "OK|never")
	c := testClient(srv)

	_, err := c.Answer(context.Background(), "42")
	if err == nil {
		t.Fatal("expected error after poll budget exhausted")
	}
}

func TestAnswerHonorsContext(t *testing.T) {
	srv := fakeSolver(t, 100, "OK|never")
	c := New(Config{BaseURL: srv.URL, Key: "k", PollInterval: time.Hour, MaxPolls: 5})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := c.Answer(ctx, "42")
	if err != context.DeadlineExceeded {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}
