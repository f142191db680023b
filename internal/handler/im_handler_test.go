package handler

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utldo-dev/im-review-api/internal/dto"
	"github.com/utldo-dev/im-review-api/internal/middleware"
	"github.com/utldo-dev/im-review-api/internal/models"
	"github.com/utldo-dev/im-review-api/internal/service"
	appErrors "github.com/utldo-dev/im-review-api/pkg/errors"
)

type imServiceMock struct {
	createResp *models.InstructionalMaterial
	createErr  error
	uploadResp *dto.UploadIMResponse
	uploadErr  error
	evalResp   *models.InstructionalMaterial
	evalErr    error

	linkResp    *dto.DownloadLinkResponse
	linkErr     error
	fileContent string
	fileName    string
	fileErr     error

	createCalled bool
	uploadCalled bool
	evalCalled   bool
	lastUpload   service.DocumentUpload
	lastViewer   models.Viewer
}

func (m *imServiceMock) Create(ctx context.Context, req dto.CreateIMRequest, viewer models.Viewer) (*models.InstructionalMaterial, error) {
	m.createCalled = true
	m.lastViewer = viewer
	return m.createResp, m.createErr
}

func (m *imServiceMock) Get(ctx context.Context, id string, viewer models.Viewer) (*dto.IMResponse, error) {
	return &dto.IMResponse{}, nil
}

func (m *imServiceMock) List(ctx context.Context, filter models.IMFilter, viewer models.Viewer) ([]dto.IMListItem, error) {
	return nil, nil
}

func (m *imServiceMock) Upload(ctx context.Context, id string, upload service.DocumentUpload, viewer models.Viewer) (*dto.UploadIMResponse, error) {
	m.uploadCalled = true
	m.lastUpload = upload
	return m.uploadResp, m.uploadErr
}

func (m *imServiceMock) DownloadLink(ctx context.Context, id string, viewer models.Viewer) (*dto.DownloadLinkResponse, error) {
	return m.linkResp, m.linkErr
}

func (m *imServiceMock) OpenDocument(ctx context.Context, token string) (io.ReadCloser, string, error) {
	if m.fileErr != nil {
		return nil, "", m.fileErr
	}
	return io.NopCloser(strings.NewReader(m.fileContent)), m.fileName, nil
}

func (m *imServiceMock) Evaluate(ctx context.Context, id string, req dto.EvaluateIMRequest, viewer models.Viewer) (*models.InstructionalMaterial, error) {
	m.evalCalled = true
	return m.evalResp, m.evalErr
}

func (m *imServiceMock) Review(ctx context.Context, id string, req dto.ReviewIMRequest, viewer models.Viewer) (*models.InstructionalMaterial, error) {
	return m.evalResp, m.evalErr
}

func (m *imServiceMock) Certify(ctx context.Context, id string, viewer models.Viewer) (*dto.CertifyIMResponse, error) {
	return &dto.CertifyIMResponse{}, nil
}

func (m *imServiceMock) Delete(ctx context.Context, id string, viewer models.Viewer) error {
	return nil
}

func adminClaims() *models.JWTClaims {
	return &models.JWTClaims{
		UserID: "admin-1",
		Roles:  []models.UserRole{models.RoleUTLDOAdmin},
	}
}

func TestIMHandlerCreate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &imServiceMock{
		createResp: &models.InstructionalMaterial{ID: "im-1", Status: models.StatusAssignedToFaculty},
	}
	handler := NewIMHandler(mockSvc)

	body := `{"im_type":"UNIVERSITY","university_im_id":"base-1","author_ids":["fac-1"]}`
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/ims", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Set(middleware.ContextUserKey, adminClaims())

	handler.Create(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, mockSvc.createCalled)
	assert.Equal(t, "admin-1", mockSvc.lastViewer.UserID)
	assert.True(t, mockSvc.lastViewer.HasRole(models.RoleUTLDOAdmin))
}

func TestIMHandlerCreateInvalidBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &imServiceMock{}
	handler := NewIMHandler(mockSvc)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/ims", bytes.NewBufferString(`{"im_type":"BOGUS"}`))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Set(middleware.ContextUserKey, adminClaims())

	handler.Create(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, mockSvc.createCalled)
}

func TestIMHandlerCreateUnauthenticated(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewIMHandler(&imServiceMock{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/ims", bytes.NewBufferString(`{}`))
	c.Request = req

	handler.Create(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestIMHandlerUploadMultipart(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &imServiceMock{
		uploadResp: &dto.UploadIMResponse{
			IM: models.InstructionalMaterial{ID: "im-1", Status: models.StatusForPIMECEvaluation},
		},
	}
	handler := NewIMHandler(mockSvc)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "module.pdf")
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF-1.4 content"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/ims/im-1/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "im-1"}}
	c.Set(middleware.ContextUserKey, adminClaims())

	handler.Upload(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, mockSvc.uploadCalled)
	assert.Equal(t, "module.pdf", mockSvc.lastUpload.Filename)
	assert.Positive(t, mockSvc.lastUpload.Size)
}

func TestIMHandlerUploadMissingFile(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &imServiceMock{}
	handler := NewIMHandler(mockSvc)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/ims/im-1/upload", nil)
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "im-1"}}
	c.Set(middleware.ContextUserKey, adminClaims())

	handler.Upload(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, mockSvc.uploadCalled)
}

func TestIMHandlerEvaluateServiceError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &imServiceMock{
		evalErr: appErrors.ErrInvalidTransition,
	}
	handler := NewIMHandler(mockSvc)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/ims/im-1/evaluate", bytes.NewBufferString(`{"total_score":80}`))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "im-1"}}
	c.Set(middleware.ContextUserKey, adminClaims())

	handler.Evaluate(c)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.True(t, mockSvc.evalCalled)
}

func TestIMHandlerFileServesDocument(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &imServiceMock{
		fileContent: "%PDF-1.4 content",
		fileName:    "module.pdf",
	}
	handler := NewIMHandler(mockSvc)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/files/token-1", nil)
	c.Request = req
	c.Params = gin.Params{{Key: "token", Value: "token-1"}}

	handler.File(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "%PDF-1.4 content", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "module.pdf")
}

func TestIMHandlerFileRejectsBadToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &imServiceMock{
		fileErr: appErrors.ErrUnauthorized,
	}
	handler := NewIMHandler(mockSvc)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/files/bogus", nil)
	c.Request = req
	c.Params = gin.Params{{Key: "token", Value: "bogus"}}

	handler.File(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}
