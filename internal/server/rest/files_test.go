package rest

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dmitrijs2005/crmkeeper/internal/server/auth"
	"github.com/dmitrijs2005/crmkeeper/internal/server/models"
	"github.com/dmitrijs2005/crmkeeper/internal/server/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func multipartUpload(t *testing.T, path, token, filename, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = io.WriteString(fw, content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestPublicUploadAndList(t *testing.T) {
	e := newTestEnv(t)
	token := e.bearerFor(t, "u@example.com", auth.RoleUser)

	rr := e.do(multipartUpload(t, "/file/upload", "", "a.txt", "x"))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = e.do(multipartUpload(t, "/file/upload", token, "My Report.PDF", "%PDF"))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var up uploadResponse
	decodeJSON(t, rr.Body, &up)
	assert.Equal(t, "uploaded", up.Status)
	assert.Regexp(t, `^[0-9a-f]{8}_my_report\.pdf$`, up.Name)

	data, ok := e.objects.Data(storage.Public, up.Name)
	require.True(t, ok)
	assert.Equal(t, "%PDF", string(data))

	rr = e.do(httptest.NewRequest(http.MethodGet, "/file/list", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var objs []models.StoredObject
	decodeJSON(t, rr.Body, &objs)
	require.Len(t, objs, 1)
	assert.Equal(t, up.Name, objs[0].Name)
	assert.EqualValues(t, 4, objs[0].Size)
	assert.NotEmpty(t, objs[0].URL)
}

func TestUpload_MissingField(t *testing.T) {
	e := newTestEnv(t)
	token := e.bearerFor(t, "u@example.com", auth.RoleUser)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("other", "x"))
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/file/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	rr := e.do(req)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	req = httptest.NewRequest(http.MethodPost, "/file/upload", strings.NewReader("plain"))
	req.Header.Set("Authorization", "Bearer "+token)
	rr = e.do(req)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestPrivateUpload_RequiresManager(t *testing.T) {
	e := newTestEnv(t)
	user := e.bearerFor(t, "user@example.com", auth.RoleUser)
	manager := e.bearerFor(t, "manager@example.com", auth.RoleManager)
	admin := e.bearerFor(t, "admin@example.com", auth.RoleAdmin)

	rr := e.do(multipartUpload(t, "/private/upload", user, "a.txt", "a"))
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "insufficient permissions", messageOf(t, rr))

	rr = e.do(multipartUpload(t, "/private/upload", manager, "a.txt", "a"))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = e.do(multipartUpload(t, "/private/upload", admin, "b.txt", "b"))
	assert.Equal(t, http.StatusOK, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/private/list", nil)
	req.Header.Set("Authorization", "Bearer "+user)
	rr = e.do(req)
	require.Equal(t, http.StatusOK, rr.Code)
	var objs []models.StoredObject
	decodeJSON(t, rr.Body, &objs)
	assert.Len(t, objs, 2)
	for _, o := range objs {
		assert.Empty(t, o.URL)
	}

	rr = e.do(httptest.NewRequest(http.MethodGet, "/private/list", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestPrivateLinkAndDownload(t *testing.T) {
	e := newTestEnv(t)
	manager := e.bearerFor(t, "manager@example.com", auth.RoleManager)

	rr := e.do(multipartUpload(t, "/private/upload", manager, "notes.txt", "hello"))
	require.Equal(t, http.StatusOK, rr.Code)
	var up uploadResponse
	decodeJSON(t, rr.Body, &up)

	req := httptest.NewRequest(http.MethodGet, "/private/link/"+up.Name, nil)
	req.Header.Set("Authorization", "Bearer "+manager)
	rr = e.do(req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var link linkResponse
	decodeJSON(t, rr.Body, &link)
	require.True(t, strings.HasPrefix(link.Link, "/private/download/"))

	// No bearer: the link itself authorises the download.
	rr = e.do(httptest.NewRequest(http.MethodGet, link.Link, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "hello", rr.Body.String())
	assert.True(t, strings.HasPrefix(rr.Header().Get("Content-Type"), "text/plain"))
	assert.Equal(t, `inline; filename=`+up.Name, rr.Header().Get("Content-Disposition"))

	rr = e.do(httptest.NewRequest(http.MethodGet, "/private/download/bogus", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "link expired or invalid", messageOf(t, rr))

	req = httptest.NewRequest(http.MethodGet, "/private/link/missing.txt", nil)
	req.Header.Set("Authorization", "Bearer "+manager)
	rr = e.do(req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
