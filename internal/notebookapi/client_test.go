package notebookapi

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/spn/v1/note/7":
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			fmt.Fprint(w, `{"code":200,"msg":"Success","data":{"id":7,"uuid":"n-7","title":"Gophers","content":"They burrow.","type":"remark","active":true}}`)
		case "/spn/v1/notesource/3":
			fmt.Fprint(w, `{"code":200,"msg":"Success","data":{"id":3,"title":"paper.pdf","content":"Abstract","type":"pdf"}}`)
		case "/spn/v1/note/8":
			fmt.Fprint(w, `{"code":401,"msg":"Token expired","data":null}`)
		case "/spn/v1/note/9":
			fmt.Fprint(w, `{"code":500,"msg":"db down","data":null}`)
		case "/spn/v1/note/10":
			w.WriteHeader(http.StatusUnauthorized)
		default:
			fmt.Fprint(w, `{"code":200,"msg":"Success","data":null}`)
		}
	}))
}

func TestClient_DecodesEnvelope(t *testing.T) {
	srv := newServer(t)
	defer srv.Close()
	c := NewClient(srv.URL+"/spn/", "tok", nil)

	note, err := c.GetNote(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "They burrow.", note.Content)
	assert.Equal(t, "n-7", note.UUID)

	src, err := c.GetNoteSource(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "pdf", src.Type)
}

func TestClient_ErrorCodes(t *testing.T) {
	srv := newServer(t)
	defer srv.Close()
	c := NewClient(srv.URL+"/spn", "tok", nil)

	_, err := c.GetNote(context.Background(), 8)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = c.GetNote(context.Background(), 10)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = c.GetNote(context.Background(), 9)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 500, apiErr.Code)

	_, err = c.GetNote(context.Background(), 99)
	assert.ErrorIs(t, err, ErrNotFound)
}
