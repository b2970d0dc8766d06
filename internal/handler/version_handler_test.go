package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/samlabs/depman/internal/models"
	apierrors "github.com/samlabs/depman/internal/pkg/errors"
	"github.com/samlabs/depman/internal/service"
)

func multipartUpload(t *testing.T, version, filename string, data []byte, notes string) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("version", version); err != nil {
		t.Fatal(err)
	}
	if notes != "" {
		if err := mw.WriteField("release_notes", notes); err != nil {
			t.Fatal(err)
		}
	}
	fw, err := mw.CreateFormFile("artifact", filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/versions", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestVersionHandler_Upload(t *testing.T) {
	t.Run("creates version from multipart form", func(t *testing.T) {
		var gotReq service.UploadVersionRequest
		h := NewVersionHandler(&mockVersionService{
			uploadFunc: func(ctx context.Context, req service.UploadVersionRequest) (*models.Version, error) {
				gotReq = req
				return &models.Version{
					Version:      req.Version,
					ArtifactPath: "1.2.3.tar.gz",
					ArtifactSize: int64(len(req.Data)),
					Checksum:     "abc",
					IsActive:     true,
				}, nil
			},
		})

		req := multipartUpload(t, "1.2.3", "release.tar.gz", []byte("tarball"), "first release")
		rec := httptest.NewRecorder()

		h.Upload(rec, req)

		if rec.Code != http.StatusCreated {
			t.Fatalf("Expected status 201, got %d: %s", rec.Code, rec.Body.String())
		}
		if gotReq.Version != "1.2.3" || gotReq.FileName != "release.tar.gz" {
			t.Errorf("Service received wrong request: %+v", gotReq)
		}
		if gotReq.ReleaseNotes == nil || *gotReq.ReleaseNotes != "first release" {
			t.Errorf("Release notes not forwarded: %v", gotReq.ReleaseNotes)
		}
		if string(gotReq.Data) != "tarball" {
			t.Errorf("Artifact bytes not forwarded: %q", gotReq.Data)
		}
	})

	t.Run("rejects invalid semver with validation error", func(t *testing.T) {
		h := NewVersionHandler(&mockVersionService{
			uploadFunc: func(ctx context.Context, req service.UploadVersionRequest) (*models.Version, error) {
				return nil, apierrors.NewValidationError("version", "invalid semver")
			},
		})

		req := multipartUpload(t, "1.2", "release.tar.gz", []byte("tarball"), "")
		rec := httptest.NewRecorder()

		h.Upload(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("Expected status 400, got %d", rec.Code)
		}
		var body struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		if body.Error.Code != "validation_error" {
			t.Errorf("Expected validation_error, got %s", body.Error.Code)
		}
	})

	t.Run("rejects duplicate version with conflict", func(t *testing.T) {
		h := NewVersionHandler(&mockVersionService{
			uploadFunc: func(ctx context.Context, req service.UploadVersionRequest) (*models.Version, error) {
				return nil, apierrors.NewConflictError("Version 1.2.3 already exists")
			},
		})

		req := multipartUpload(t, "1.2.3", "release.tar.gz", []byte("tarball"), "")
		rec := httptest.NewRecorder()

		h.Upload(rec, req)

		if rec.Code != http.StatusConflict {
			t.Fatalf("Expected status 409, got %d", rec.Code)
		}
	})

	t.Run("rejects missing artifact file", func(t *testing.T) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		if err := mw.WriteField("version", "1.2.3"); err != nil {
			t.Fatal(err)
		}
		if err := mw.Close(); err != nil {
			t.Fatal(err)
		}
		req := httptest.NewRequest(http.MethodPost, "/api/versions", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		rec := httptest.NewRecorder()

		h := NewVersionHandler(&mockVersionService{})
		h.Upload(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("Expected status 400, got %d", rec.Code)
		}
	})
}

func TestVersionHandler_List(t *testing.T) {
	t.Run("returns empty array when catalog is empty", func(t *testing.T) {
		h := NewVersionHandler(&mockVersionService{
			listFunc: func(ctx context.Context) ([]*models.Version, error) {
				return nil, nil
			},
		})

		req := httptest.NewRequest(http.MethodGet, "/api/versions", nil)
		rec := httptest.NewRecorder()

		h.List(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", rec.Code)
		}
		body, _ := io.ReadAll(rec.Body)
		if string(bytes.TrimSpace(body)) != "[]" {
			t.Errorf("Expected empty JSON array, got %s", body)
		}
	})
}
