package generation_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/bdobrica/butai/internal/butai/generation"
)

// scriptedCompleter returns replies in order, repeating the last one.
type scriptedCompleter struct {
	mu       sync.Mutex
	replies  []string
	errs     []error
	calls    int
	settings []generation.Settings
}

var _ generation.Completer = (*scriptedCompleter)(nil)

func (s *scriptedCompleter) Complete(_ context.Context, _ string, st generation.Settings) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	s.settings = append(s.settings, st)
	if i < len(s.errs) && s.errs[i] != nil {
		return "", s.errs[i]
	}
	if len(s.replies) == 0 {
		return "", nil
	}
	if i >= len(s.replies) {
		i = len(s.replies) - 1
	}
	return s.replies[i], nil
}

func TestGenerate_AlwaysEmptyIsRetriedSevenTimes(t *testing.T) {
	c := &scriptedCompleter{replies: []string{""}}
	client := generation.New(c, generation.Options{})

	reply, err := client.Generate(context.Background(), "prompt", "")
	if !errors.Is(err, generation.ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if reply != "" {
		t.Errorf("expected dropped reply, got %q", reply)
	}
	if c.calls != 7 || generation.MaxAttempts != 7 {
		t.Errorf("expected 7 calls, got %d", c.calls)
	}
}

func TestGenerate_RejectsShortEcho(t *testing.T) {
	history := "陌生人说：“你好”"
	c := &scriptedCompleter{replies: []string{"你好", "很高兴认识你，请坐"}}
	client := generation.New(c, generation.Options{})

	reply, err := client.Generate(context.Background(), "prompt", history)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "很高兴认识你，请坐" {
		t.Errorf("unexpected reply %q", reply)
	}
	if c.calls != 2 {
		t.Errorf("expected 2 calls, got %d", c.calls)
	}
}

func TestGenerate_LongEchoIsAccepted(t *testing.T) {
	history := "陌生人说：“今天的演出几点开始”"
	c := &scriptedCompleter{replies: []string{"今天的演出几点开始"}}
	reply, err := generation.New(c, generation.Options{}).Generate(context.Background(), "p", history)
	if err != nil || reply != "今天的演出几点开始" {
		t.Fatalf("got %q, %v", reply, err)
	}
}

func TestGenerate_SentinelStopsImmediately(t *testing.T) {
	c := &scriptedCompleter{replies: []string{"somethingwentwrongwithyuanservice"}}
	_, err := generation.New(c, generation.Options{}).Generate(context.Background(), "p", "")
	if !errors.Is(err, generation.ErrServiceFailure) {
		t.Fatalf("expected ErrServiceFailure, got %v", err)
	}
	if c.calls != 1 {
		t.Errorf("expected 1 call, got %d", c.calls)
	}
}

func TestGenerate_TransientErrorsAreRetried(t *testing.T) {
	c := &scriptedCompleter{
		errs:    []error{errors.New("connection reset"), nil},
		replies: []string{"", "好的，我们开始吧"},
	}
	reply, err := generation.New(c, generation.Options{}).Generate(context.Background(), "p", "")
	if err != nil || reply != "好的，我们开始吧" {
		t.Fatalf("got %q, %v", reply, err)
	}
}

func TestGenerate_TruncatesAtStopMarkerAndAppliesSettings(t *testing.T) {
	c := &scriptedCompleter{replies: []string{" 当然可以”陌生人说：“谢谢"}}
	client := generation.New(c, generation.Options{
		StopMarker: "”",
		Settings: func(context.Context) generation.Settings {
			return generation.Settings{Temperature: 0.8, MaxTokens: 64}
		},
	})
	reply, err := client.Generate(context.Background(), "p", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "当然可以" {
		t.Errorf("reply = %q", reply)
	}
	if got := c.settings[0]; got.Temperature != 0.8 || got.MaxTokens != 64 {
		t.Errorf("settings not passed through: %+v", got)
	}
}

func TestIsDegenerateEcho(t *testing.T) {
	tests := []struct {
		reply, history string
		want           bool
	}{
		{"你好", "陌生人说：“你好”", true},
		{"你好", "陌生人说：“早”", false},
		{"一二三四五", "一二三四五六", true},
		{"一二三四五六", "一二三四五六", false},
	}
	for _, tt := range tests {
		if got := generation.IsDegenerateEcho(tt.reply, tt.history); got != tt.want {
			t.Errorf("IsDegenerateEcho(%q, %q) = %v, want %v", tt.reply, tt.history, got, tt.want)
		}
	}
}

func TestOpenAICompleter(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"m",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"欢迎光临"}}]}`))
	}))
	defer srv.Close()

	c := generation.NewOpenAI(generation.OpenAIConfig{APIKey: "k", BaseURL: srv.URL, Model: "m"})
	reply, err := c.Complete(context.Background(), "你说：“", generation.Settings{Temperature: 0.9})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if reply != "欢迎光临" {
		t.Errorf("reply = %q", reply)
	}
	if gotPath != "/chat/completions" {
		t.Errorf("path = %q", gotPath)
	}
}

func TestOpenAICompleter_UnauthorizedIsServiceFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	c := generation.NewOpenAI(generation.OpenAIConfig{APIKey: "bad", BaseURL: srv.URL})
	_, err := c.Complete(context.Background(), "p", generation.Settings{})
	if !errors.Is(err, generation.ErrServiceFailure) {
		t.Fatalf("expected ErrServiceFailure, got %v", err)
	}
}
