package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/snaprolabs/snapro/internal/auth"
	"github.com/snaprolabs/snapro/internal/model"
	"github.com/snaprolabs/snapro/internal/releases"
	"github.com/snaprolabs/snapro/internal/store"
)

// ArtifactFetcher streams release artifacts. Satisfied by *releases.Storage.
type ArtifactFetcher interface {
	Fetch(ctx context.Context, key string) (io.ReadCloser, int64, error)
}

type DownloadHandler struct {
	releases *store.ReleaseStore
	licenses *store.LicenseStore
	storage  ArtifactFetcher
	logger   *slog.Logger
}

func NewDownloadHandler(rs *store.ReleaseStore, ls *store.LicenseStore, st ArtifactFetcher, logger *slog.Logger) *DownloadHandler {
	return &DownloadHandler{releases: rs, licenses: ls, storage: st, logger: logger}
}

// Latest returns the newest release for the requested platform.
func (h *DownloadHandler) Latest(w http.ResponseWriter, r *http.Request) {
	rel, err := h.releases.Latest(r.URL.Query().Get("platform"))
	if err != nil {
		h.logger.Error("latest release", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if rel == nil {
		writeError(w, http.StatusNotFound, "no releases available")
		return
	}
	writeJSON(w, http.StatusOK, rel)
}

// Download streams a release artifact after the license-tier gate. A user
// with no active license downloads at the FREE tier.
func (h *DownloadHandler) Download(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	releaseID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid release id")
		return
	}

	rel, err := h.releases.GetByID(releaseID)
	if err != nil {
		h.logger.Error("get release", "release_id", releaseID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if rel == nil {
		writeError(w, http.StatusNotFound, "release not found")
		return
	}

	tier := model.TierFree
	best, err := h.licenses.BestActiveForUser(userID, time.Now().UTC())
	if err != nil {
		h.logger.Error("best active license", "user_id", userID, "error", err)
	} else if best != nil {
		tier = best.Type
	}

	if tier.Rank() < rel.MinLicense.Rank() {
		writeJSON(w, http.StatusForbidden, map[string]any{
			"error":    "license tier insufficient",
			"required": rel.MinLicense,
			"current":  tier,
		})
		return
	}

	body, size, err := h.storage.Fetch(r.Context(), rel.S3Key)
	if err != nil {
		if errors.Is(err, releases.ErrStorageDisabled) {
			writeError(w, http.StatusServiceUnavailable, "downloads not configured")
			return
		}
		h.logger.Error("fetch artifact", "release_id", rel.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "artifact unavailable")
		return
	}
	defer body.Close()

	filename := artifactFilename(rel)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	if _, err := io.Copy(w, body); err != nil {
		h.logger.Warn("stream artifact", "release_id", rel.ID, "error", err)
		return
	}

	if err := h.releases.LogDownload(userID, rel.ID); err != nil {
		h.logger.Error("log download", "release_id", rel.ID, "error", err)
	}
}

func artifactFilename(rel *model.SoftwareRelease) string {
	if i := strings.LastIndexByte(rel.S3Key, '/'); i >= 0 && i < len(rel.S3Key)-1 {
		return rel.S3Key[i+1:]
	}
	return fmt.Sprintf("snappro-%s-%s", rel.Version, rel.Platform)
}
