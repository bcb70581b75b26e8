package generator

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docvault/docvault/internal/errors"
)

func TestOllamaPort_Generate_SendsModelPromptAndOptions(t *testing.T) {
	var received generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		_ = json.NewEncoder(w).Encode(generateResponse{Response: "a one-sentence summary.", Done: true})
	}))
	defer srv.Close()

	p := NewOllamaPort(srv.URL, time.Second)
	out, err := p.Generate(context.Background(), "qwen3:0.6b", "describe this", Options{
		Temperature: 0.1,
		TopP:        0.8,
		NumPredict:  42,
	})

	require.NoError(t, err)
	assert.Equal(t, "a one-sentence summary.", out)
	assert.Equal(t, "qwen3:0.6b", received.Model)
	assert.Equal(t, "describe this", received.Prompt)
	assert.False(t, received.Stream)
	assert.Equal(t, 0.1, received.Options.Temperature)
	assert.Equal(t, 0.8, received.Options.TopP)
	assert.Equal(t, 42, received.Options.NumPredict)
}

func TestOllamaPort_Generate_NonOKStatusIsGeneratorFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("model not loaded"))
	}))
	defer srv.Close()

	p := NewOllamaPort(srv.URL, time.Second)
	_, err := p.Generate(context.Background(), "m", "p", Options{})
	require.Error(t, err)
}

func TestOllamaPort_Generate_RetriesTransportFailureThenSucceeds(t *testing.T) {
	var calls int
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			panic("simulated connection drop")
		}
		_ = json.NewEncoder(w).Encode(generateResponse{Response: "ok", Done: true})
	}))
	srv.Config.ErrorLog = log.New(io.Discard, "", 0)
	srv.Start()
	defer srv.Close()

	p := NewOllamaPort(srv.URL, time.Second)
	out, err := p.Generate(context.Background(), "m", "p", Options{})

	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 2, calls)
}

func TestOllamaPort_Generate_TripsCircuitAfterRepeatedFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewOllamaPort(srv.URL, time.Second)
	for i := 0; i < 5; i++ {
		_, err := p.Generate(context.Background(), "m", "p", Options{})
		require.Error(t, err)
	}

	_, err := p.Generate(context.Background(), "m", "p", Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrCircuitOpen)
}

func TestOllamaPort_Available_ReflectsHostStatus(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer up.Close()

	p := NewOllamaPort(up.URL, time.Second)
	assert.True(t, p.Available(context.Background()))

	down := NewOllamaPort("http://127.0.0.1:1", time.Second)
	assert.False(t, down.Available(context.Background()))
}
