package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"keyprobe/internal/core/extractor"
	"keyprobe/internal/exporter"
	"keyprobe/internal/keystore"
	"keyprobe/internal/shared/logger"
	"keyprobe/internal/shared/settings"
	"keyprobe/internal/shared/types"
)

const maxImportSize = 32 << 20

// Controller defines the interface that the web handler uses to interact with the AppServer.
// This decouples the web package from the app package.
type Controller interface {
	ImportSources(sources []extractor.Source) (*types.ImportResult, error)
	Records() []keystore.Record
	StartQuery(skipSucceeded bool) (*types.BatchInfo, error)
	StopQuery() bool
	QueryStatus() *types.QueryStatus
}

type Handler struct {
	settingsManager *settings.SettingsManager
	controller      Controller
}

func NewHandler(settingsManager *settings.SettingsManager, controller Controller) *Handler {
	return &Handler{
		settingsManager: settingsManager,
		controller:      controller,
	}
}

// HandleImport 处理 POST /api/keys/import 请求。
// 请求体可以是纯文本，也可以是 multipart 上传的多个文件。
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxImportSize)

	var sources []extractor.Source
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		var err error
		sources, err = readMultipart(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	} else {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Failed to read request body", http.StatusBadRequest)
			return
		}
		if len(body) > 0 {
			sources = append(sources, extractor.Source{Name: "request body", Data: body})
		}
	}

	result, err := h.controller.ImportSources(sources)
	if err != nil {
		if errors.Is(err, extractor.ErrNoSources) {
			http.Error(w, err.Error(), http.StatusBadRequest)
		} else {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func readMultipart(r *http.Request) ([]extractor.Source, error) {
	if err := r.ParseMultipartForm(maxImportSize); err != nil {
		return nil, fmt.Errorf("failed to parse multipart form: %w", err)
	}
	var sources []extractor.Source
	for _, headers := range r.MultipartForm.File {
		for _, fh := range headers {
			f, err := fh.Open()
			if err != nil {
				return nil, fmt.Errorf("failed to open %s: %w", fh.Filename, err)
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", fh.Filename, err)
			}
			sources = append(sources, extractor.Source{Name: fh.Filename, Data: data})
		}
	}
	return sources, nil
}

// HandleKeys 处理 GET /api/keys 请求
func (h *Handler) HandleKeys(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.controller.Records())
}

type startQueryRequest struct {
	SkipSucceeded bool `json:"skip_succeeded"`
}

// HandleQueryStart 处理 POST /api/query/start 请求
func (h *Handler) HandleQueryStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req startQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	info, err := h.controller.StartQuery(req.SkipSucceeded)
	switch {
	case errors.Is(err, types.ErrBatchRunning):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, types.ErrNoKeys):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case err != nil:
		logger.Error().Err(err).Msg("Failed to start query batch")
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusAccepted, info)
	}
}

// HandleQueryStop 处理 POST /api/query/stop 请求
func (h *Handler) HandleQueryStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": h.controller.StopQuery()})
}

// HandleStatus 处理 GET /api/status 请求
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.controller.QueryStatus())
}

// HandleGetSettings 处理 GET /api/settings 请求
func (h *Handler) HandleGetSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.settingsManager.Get())
}

// HandleUpdateSettings 处理 POST /api/settings/{module} 请求
func (h *Handler) HandleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// 从 URL 路径中提取模块名
	moduleKey := strings.TrimPrefix(r.URL.Path, "/api/settings/")
	if moduleKey == "" {
		http.Error(w, "Module key is missing in URL path", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusInternalServerError)
		return
	}

	// 将更新请求委托给 SettingsManager
	if err := h.settingsManager.Update(moduleKey, body); err != nil {
		// 根据错误类型返回不同的状态码
		if strings.Contains(err.Error(), "unknown settings module") {
			http.Error(w, err.Error(), http.StatusNotFound)
		} else if strings.Contains(err.Error(), "failed to parse JSON") {
			http.Error(w, err.Error(), http.StatusBadRequest)
		} else {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"message": "Settings updated successfully"}`))
}

// HandleExport 处理 GET /api/export?format=csv|json|yaml 请求
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := r.URL.Query().Get("format")
	if name == "" {
		name = string(exporter.FormatCSV)
	}
	format, err := exporter.ParseFormat(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="keys.%s"`, format))
	if err := exporter.Write(w, format, h.controller.Records()); err != nil {
		logger.Error().Err(err).Str("format", string(format)).Msg("Export failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn().Err(err).Msg("Failed to write JSON response")
	}
}
