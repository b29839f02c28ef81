package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/umencoder/ume/api"
	"github.com/umencoder/ume/encoder"
	"github.com/umencoder/ume/metrics"
	"github.com/umencoder/ume/ml"
	"github.com/umencoder/ume/ml/backbone"
	"github.com/umencoder/ume/tokenizer"
)

func testHandler(t *testing.T) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)

	bb, err := backbone.New(ml.Config{
		HiddenSize:     8,
		VocabSize:      tokenizer.VocabSize,
		MaxLength:      32,
		Arch:           ml.ArchConfig{Device: ml.DeviceCPU, Padding: ml.PaddingUnpadded},
		MaskPercentage: 0.25,
		ClsTokenID:     tokenizer.ClsTokenID,
		PadTokenID:     tokenizer.PadTokenID,
		EosTokenID:     tokenizer.EosTokenID,
		MaskTokenID:    tokenizer.MaskTokenID,
	})
	if err != nil {
		t.Fatal(err)
	}

	enc, err := encoder.New(bb)
	if err != nil {
		t.Fatal(err)
	}
	enc.Freeze()

	return NewServer(enc, "ume-mini-base-12M").GenerateRoutes()
}

func postEmbed(t *testing.T, h http.Handler, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/embed", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(w, req)
	return w
}

func TestEmbedHandler(t *testing.T) {
	h := testHandler(t)

	w := postEmbed(t, h, api.EmbedRequest{Modality: "amino_acid", Input: "MKT"})
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body)
	}

	var resp api.EmbedResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Embeddings) != 1 || len(resp.Embeddings[0]) != 8 {
		t.Errorf("embeddings shape %v", resp.Shape)
	}
	if resp.Modality != "amino_acid" {
		t.Errorf("modality = %q", resp.Modality)
	}
}

func TestEmbedHandlerList(t *testing.T) {
	h := testHandler(t)

	w := postEmbed(t, h, api.EmbedRequest{Modality: "nucleotide", Input: []any{"ACGT", "TTTT"}})
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body)
	}

	var resp api.EmbedResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Embeddings) != 2 {
		t.Errorf("got %d embeddings, want 2", len(resp.Embeddings))
	}
}

func TestEmbedHandlerPerToken(t *testing.T) {
	h := testHandler(t)

	aggregate := false
	w := postEmbed(t, h, api.EmbedRequest{Modality: "SMILES", Input: "CCO", Aggregate: &aggregate})
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body)
	}

	var resp api.EmbedResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	// cls C C O eos
	if len(resp.Shape) != 3 || resp.Shape[1] != 5 {
		t.Errorf("shape = %v, want [1 5 8]", resp.Shape)
	}
}

func TestEmbedHandlerErrors(t *testing.T) {
	h := testHandler(t)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/embed", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty body: status %d", w.Code)
	}

	w = postEmbed(t, h, api.EmbedRequest{Modality: "genome", Input: "ACGT"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad modality: status %d", w.Code)
	}

	w = postEmbed(t, h, api.EmbedRequest{Modality: "amino_acid", Input: []any{"MKT", 7}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("mixed input: status %d", w.Code)
	}

	w = postEmbed(t, h, api.EmbedRequest{Model: "ume-large-base-740M", Modality: "amino_acid", Input: "MKT"})
	if w.Code != http.StatusNotFound {
		t.Errorf("wrong model: status %d", w.Code)
	}
}

func TestEmbedHandlerEmptyInput(t *testing.T) {
	h := testHandler(t)

	w := postEmbed(t, h, api.EmbedRequest{Modality: "amino_acid"})
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body)
	}

	var resp api.EmbedResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Embeddings) != 0 {
		t.Errorf("embeddings = %v, want empty", resp.Embeddings)
	}
}

func TestVocabHandler(t *testing.T) {
	h := testHandler(t)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/vocab", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}

	var resp api.VocabResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Tokens) == 0 {
		t.Fatal("empty vocab")
	}
	for i := 1; i < len(resp.Tokens); i++ {
		if resp.Tokens[i-1].ID >= resp.Tokens[i].ID {
			t.Fatalf("vocab not sorted at %d", i)
		}
	}
}

func TestModelsAndVersion(t *testing.T) {
	h := testHandler(t)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/models", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("models status %d", w.Code)
	}
	var models api.ModelsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &models); err != nil {
		t.Fatal(err)
	}
	if len(models.Models) != 4 {
		t.Errorf("models = %v", models.Models)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/version", nil))
	if w.Code != http.StatusOK {
		t.Errorf("version status %d", w.Code)
	}
}

func TestMetricsRecorderDisabled(t *testing.T) {
	t.Setenv("UME_METRICS_DB", "")

	rec, closer, err := metricsRecorder()
	if err != nil {
		t.Fatal(err)
	}
	defer closer()

	if _, ok := rec.(*metrics.SlogRecorder); !ok {
		t.Errorf("recorder = %T, want slog only", rec)
	}
}

func TestMetricsRecorderPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.db")
	t.Setenv("UME_METRICS_DB", path)

	rec, closer, err := metricsRecorder()
	if err != nil {
		t.Fatal(err)
	}

	multi, ok := rec.(metrics.Multi)
	if !ok || len(multi) != 2 {
		t.Fatalf("recorder = %T, want slog plus sqlite", rec)
	}

	rec.Record("train_loss", 1.25)
	if err := closer(); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Errorf("metrics database not created: %v", err)
	}
}
