package documents

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestPDF(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 test"), 0644))
	return path
}

func serviceConfig(url string) ServiceParserConfig {
	return ServiceParserConfig{BaseURL: url, APIKey: "test-key", MaxRetries: 2}
}

func TestServiceParserParse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/parse", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		_, header, err := r.FormFile("file")
		require.NoError(t, err)
		assert.Equal(t, "AAPL_2022_10K.pdf", header.Filename)

		json.NewEncoder(w).Encode(parseResponse{Pages: []parsedPage{
			{Page: 1, Text: "plain one", MD: "# Page One"},
			{Page: 2, Text: "plain two", MD: ""},
		}})
	}))
	defer server.Close()

	p := NewServiceParser(serviceConfig(server.URL), nil)
	units, err := p.Parse(context.Background(), writeTestPDF(t, "AAPL_2022_10K.pdf"))
	require.NoError(t, err)
	require.Len(t, units, 2)

	// Markdown preferred, plain text as fallback.
	assert.Equal(t, "# Page One", units[0].Text)
	assert.Equal(t, "1", units[0].PageLabel)
	assert.Equal(t, "plain two", units[1].Text)
	assert.Equal(t, "AAPL_2022_10K.pdf", units[1].SourceFile)
}

func TestServiceParserRejectsNonPDF(t *testing.T) {
	p := NewServiceParser(serviceConfig("http://localhost:1"), nil)

	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("text"), 0644))

	_, err := p.Parse(context.Background(), path)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestServiceParserRetriesAndWrapsFailure(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	p := NewServiceParser(serviceConfig(server.URL), nil)
	_, err := p.Parse(context.Background(), writeTestPDF(t, "AAPL_2022_10K.pdf"))

	var parseErr *ParseServiceError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "AAPL_2022_10K.pdf", parseErr.File)
	assert.Equal(t, int32(2), calls.Load())
}

func TestServiceParserRecoversAfterTransientFailure(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "try again", http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(parseResponse{Pages: []parsedPage{{Page: 1, MD: "content"}}})
	}))
	defer server.Close()

	p := NewServiceParser(serviceConfig(server.URL), nil)
	units, err := p.Parse(context.Background(), writeTestPDF(t, "AAPL_2022_10K.pdf"))
	require.NoError(t, err)
	assert.Len(t, units, 1)
}

func TestServiceParserEmptyPages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(parseResponse{})
	}))
	defer server.Close()

	p := NewServiceParser(serviceConfig(server.URL), nil)
	_, err := p.Parse(context.Background(), writeTestPDF(t, "AAPL_2022_10K.pdf"))

	var parseErr *ParseServiceError
	assert.ErrorAs(t, err, &parseErr)
}
