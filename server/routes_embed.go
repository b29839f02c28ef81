package server

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/umencoder/ume/api"
	"github.com/umencoder/ume/checkpoint"
	"github.com/umencoder/ume/modality"
)

// EmbedHandler serves POST /api/embed.
func (s *Server) EmbedHandler(c *gin.Context) {
	start := time.Now()

	var req api.EmbedRequest
	err := c.ShouldBindJSON(&req)
	switch {
	case errors.Is(err, io.EOF):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing request body"})
		return
	case err != nil:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Model != "" && req.Model != s.model {
		c.JSON(http.StatusNotFound, gin.H{"error": "model '" + req.Model + "' not loaded"})
		return
	}

	var input []string
	switch i := req.Input.(type) {
	case string:
		if len(i) > 0 {
			input = append(input, i)
		}
	case []any:
		for _, v := range i {
			s, ok := v.(string)
			if !ok {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid input type"})
				return
			}
			input = append(input, s)
		}
	default:
		if req.Input != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid input type"})
			return
		}
	}

	m, err := modality.Parse(req.Modality)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if len(input) == 0 {
		c.JSON(http.StatusOK, api.EmbedResponse{Model: s.model, Modality: m.String(), Embeddings: [][]float32{}})
		return
	}

	aggregate := true
	if req.Aggregate != nil {
		aggregate = *req.Aggregate
	}

	emb, err := s.enc.EmbedSequences(input, m, aggregate)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	shape := []int(emb.Shape())
	data := emb.Data().([]float32)
	rowLen := len(data) / shape[0]
	rows := make([][]float32, shape[0])
	for i := range rows {
		rows[i] = data[i*rowLen : (i+1)*rowLen]
	}

	c.JSON(http.StatusOK, api.EmbedResponse{
		Model:      s.model,
		Modality:   m.String(),
		Embeddings: rows,
		Shape:      shape,
		Duration:   time.Since(start),
	})
}

// VocabHandler serves GET /api/vocab with the merged vocabulary.
func (s *Server) VocabHandler(c *gin.Context) {
	vocab := s.enc.GetVocab()
	resp := api.VocabResponse{Tokens: make([]api.VocabEntry, 0, vocab.Size())}
	vocab.Each(func(id int32, token string) {
		resp.Tokens = append(resp.Tokens, api.VocabEntry{ID: id, Token: token})
	})
	c.JSON(http.StatusOK, resp)
}

// ModelsHandler serves GET /api/models with the pretrained registry.
func (s *Server) ModelsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, api.ModelsResponse{Models: checkpoint.Names()})
}
