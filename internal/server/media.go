package server

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/skypro1111/wavecore/internal/audio"
	"github.com/skypro1111/wavecore/internal/submit"
)

// uploadField is the multipart field carrying uploaded media
const uploadField = "audio"

// errNoUpload is returned when a request carries no media file
var errNoUpload = errors.New("no file in multipart field '" + uploadField + "'")

// readUploads parses the multipart body and returns every uploaded file
func (h *HTTPServer) readUploads(w http.ResponseWriter, r *http.Request) ([]audio.MediaBlob, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.config.HTTP.GetMaxUploadBytes())

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, err
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File[uploadField]
	if len(headers) == 0 {
		return nil, errNoUpload
	}

	blobs := make([]audio.MediaBlob, 0, len(headers))
	for _, fh := range headers {
		blob, err := readPart(fh)
		if err != nil {
			return nil, err
		}
		blobs = append(blobs, blob)
	}

	return blobs, nil
}

func readPart(fh *multipart.FileHeader) (audio.MediaBlob, error) {
	f, err := fh.Open()
	if err != nil {
		return audio.MediaBlob{}, fmt.Errorf("failed to open upload %s: %w", fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return audio.MediaBlob{}, fmt.Errorf("failed to read upload %s: %w", fh.Filename, err)
	}

	return audio.NewMediaBlob(fh.Filename, fh.Header.Get("Content-Type"), data), nil
}

// uploadError writes a client error for a malformed upload
func (h *HTTPServer) uploadError(w http.ResponseWriter, r *http.Request, err error) {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusBadRequest, map[string]interface{}{
		"error":  err.Error(),
		"status": http.StatusBadRequest,
	})
}

// writeWAV sends canonical audio as an attachment
func writeWAV(w http.ResponseWriter, wav audio.CanonicalAudio) {
	w.Header().Set("Content-Type", wav.ContentType())
	w.Header().Set("Content-Length", strconv.Itoa(wav.Len()))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", wav.Name()))
	w.WriteHeader(http.StatusOK)
	w.Write(wav.View())
}

// handleConvert implements the /convert endpoint
func (h *HTTPServer) handleConvert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	blobs, err := h.readUploads(w, r)
	if err != nil {
		h.uploadError(w, r, err)
		return
	}

	wav, err := h.deps.Converter.Convert(r.Context(), blobs[0])
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeWAV(w, wav)
}

// handleSave implements the /save endpoint
func (h *HTTPServer) handleSave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	blobs, err := h.readUploads(w, r)
	if err != nil {
		h.uploadError(w, r, err)
		return
	}

	ops := h.deps.Coordinator.SubmitForSave(r.Context(), blobs)

	infos := make([]submit.OperationInfo, 0, len(ops))
	failed := 0
	for _, op := range ops {
		info := op.Info()
		if info.Status == submit.StatusFailed {
			failed++
		}
		infos = append(infos, info)
	}

	// Per-file outcomes are in the body; 207 tells the caller to look
	status := http.StatusOK
	if failed > 0 {
		status = http.StatusMultiStatus
	}

	writeJSON(w, status, map[string]interface{}{
		"operations": infos,
		"saved":      len(ops) - failed,
		"failed":     failed,
	})
}

// handleSearch implements the /search endpoint
func (h *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	blobs, err := h.readUploads(w, r)
	if err != nil {
		h.uploadError(w, r, err)
		return
	}

	op, matches, err := h.deps.Coordinator.SubmitForSearch(r.Context(), blobs[0])
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"matches":   matches,
		"operation": op.Info(),
	})
}

// handleList implements the /list endpoint
func (h *HTTPServer) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	names, err := h.deps.Library.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"fileNames": names,
	})
}

// handleDownload implements the /download endpoint
func (h *HTTPServer) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	mediaURL := strings.TrimSpace(r.URL.Query().Get("url"))
	if mediaURL == "" {
		http.Error(w, "Missing url parameter", http.StatusBadRequest)
		return
	}

	_, wav, err := h.deps.Coordinator.Download(r.Context(), mediaURL)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeWAV(w, wav)
}

// handleOperations implements the /operations endpoint
func (h *HTTPServer) handleOperations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"operations": h.deps.Coordinator.Operations(),
		})
	case http.MethodDelete:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"pruned": h.deps.Coordinator.Prune(),
		})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleOperationReset implements the /operations/reset endpoint
func (h *HTTPServer) handleOperationReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	op, ok := h.deps.Coordinator.Operation(id)
	if !ok {
		http.Error(w, "Operation not found", http.StatusNotFound)
		return
	}

	if err := h.deps.Coordinator.Reset(id); err != nil {
		if errors.Is(err, submit.ErrInvalidTransition) {
			writeJSON(w, http.StatusConflict, map[string]interface{}{
				"error":  err.Error(),
				"status": http.StatusConflict,
			})
			return
		}
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, op.Info())
}
