package runtime

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/loqalabs/loqa-vitals/internal/config"
	"github.com/loqalabs/loqa-vitals/internal/health"
	"github.com/loqalabs/loqa-vitals/internal/pipeline"
	"github.com/loqalabs/loqa-vitals/internal/store"
	"github.com/loqalabs/loqa-vitals/internal/stt"
)

// maxUploadBytes caps a recording upload. Sixty seconds of 16 kHz mono PCM
// is under 2 MB.
const maxUploadBytes = 8 << 20

type api struct {
	pipeline *pipeline.Pipeline
	records  *store.Store
	gateway  *stt.Gateway
	ready    func() bool
	log      *slog.Logger
}

func newRouter(a *api) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(a.log))

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/readyz", a.handleReady)

	v1 := r.Group("/v1")
	v1.POST("/recognize", a.handleRecognize)
	v1.POST("/extract", a.handleExtract)

	records := v1.Group("/records")
	records.POST("", a.handleConfirm)
	records.GET("", a.handleList)
	records.GET("/today", a.handleToday)
	records.GET("/latest", a.handleLatest)
	records.GET("/:id", a.handleGet)
	records.PUT("/:id", a.handleUpdate)
	records.DELETE("/:id", a.handleDelete)

	v1.GET("/stt/config", a.handleSTTStatus)
	v1.PUT("/stt/config", a.handleSTTConfigure)
	return r
}

// requestLogger writes one structured line per request and tags it with a
// request ID.
func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqID := uuid.NewString()
		c.Set("request_id", reqID)
		c.Writer.Header().Set("X-Request-ID", reqID)

		c.Next()

		log.Info("http request",
			slog.String("request_id", reqID),
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Int64("latency_ms", time.Since(start).Milliseconds()))
	}
}

func (a *api) handleReady(c *gin.Context) {
	if a.ready == nil || a.ready() {
		c.String(http.StatusOK, "ready")
		return
	}
	c.String(http.StatusServiceUnavailable, "not ready")
}

func (a *api) handleRecognize(c *gin.Context) {
	data, err := readRecording(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": err.Error()})
		return
	}
	res, err := a.pipeline.Recognize(c.Request.Context(), data)
	a.respondResult(c, res, err)
}

// readRecording accepts a multipart "audio" field or a raw audio body.
func readRecording(c *gin.Context) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile("audio")
		if err != nil {
			return nil, err
		}
		f, err := fh.Open()
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return io.ReadAll(f)
	}
	return io.ReadAll(c.Request.Body)
}

type extractRequest struct {
	Text string `json:"text"`
}

func (a *api) handleExtract(c *gin.Context) {
	var req extractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": err.Error()})
		return
	}
	res, err := a.pipeline.Extract(c.Request.Context(), req.Text)
	a.respondResult(c, res, err)
}

func (a *api) respondResult(c *gin.Context, res pipeline.Result, err error) {
	if err == nil {
		c.JSON(http.StatusOK, res)
		return
	}
	reason, message := pipeline.Describe(err)
	if errors.Is(err, pipeline.ErrInsufficientInput) || errors.Is(err, pipeline.ErrNothingRecognized) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":      reason,
			"message":    message,
			"transcript": res.Transcript,
		})
		return
	}
	a.log.Error("recognition failed", slog.String("error", err.Error()))
	c.JSON(http.StatusInternalServerError, gin.H{"error": reason, "message": message})
}

func (a *api) handleConfirm(c *gin.Context) {
	var result health.ExtractionResult
	if err := c.ShouldBindJSON(&result); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": err.Error()})
		return
	}
	records, err := a.pipeline.Confirm(c.Request.Context(), result)
	if err != nil {
		if errors.Is(err, pipeline.ErrNothingRecognized) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "nothing_recognized", "message": "没有可保存的健康数据"})
			return
		}
		a.internalError(c, err)
		return
	}
	c.JSON(http.StatusCreated, records)
}

func (a *api) handleList(c *gin.Context) {
	var (
		records []health.Record
		err     error
	)
	if raw := c.Query("type"); raw != "" {
		t, perr := health.ParseType(raw)
		if perr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": perr.Error()})
			return
		}
		records, err = a.records.ListByType(c.Request.Context(), t)
	} else {
		records, err = a.records.ListAll(c.Request.Context())
	}
	if err != nil {
		a.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(records))
}

func (a *api) handleToday(c *gin.Context) {
	records, err := a.records.ListToday(c.Request.Context())
	if err != nil {
		a.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(records))
}

func (a *api) handleLatest(c *gin.Context) {
	latest, err := a.records.Latest(c.Request.Context())
	if err != nil {
		a.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, latest)
}

func (a *api) handleGet(c *gin.Context) {
	rec, err := a.records.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (a *api) handleUpdate(c *gin.Context) {
	var rec health.Record
	if err := c.ShouldBindJSON(&rec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": err.Error()})
		return
	}
	if _, err := health.ParseType(string(rec.Type)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": err.Error()})
		return
	}
	id := c.Param("id")
	if err := a.records.Update(c.Request.Context(), id, rec); err != nil {
		a.storeError(c, err)
		return
	}
	updated, err := a.records.Get(c.Request.Context(), id)
	if err != nil {
		a.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (a *api) handleDelete(c *gin.Context) {
	if err := a.records.Delete(c.Request.Context(), c.Param("id")); err != nil {
		a.storeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *api) handleSTTStatus(c *gin.Context) {
	c.JSON(http.StatusOK, a.gateway.Status())
}

// sttUpdate is a partial transcription config; absent fields keep their
// current value.
type sttUpdate struct {
	Enabled   *bool   `json:"enabled"`
	Mode      *string `json:"mode"`
	URI       *string `json:"uri"`
	AppID     *string `json:"app_id"`
	Token     *string `json:"token"`
	Cluster   *string `json:"cluster"`
	TimeoutMS *int    `json:"timeout_ms"`
}

func (u sttUpdate) apply(cfg *config.STTConfig) {
	if u.Enabled != nil {
		cfg.Enabled = *u.Enabled
	}
	setString(&cfg.Mode, u.Mode)
	setString(&cfg.URI, u.URI)
	setString(&cfg.AppID, u.AppID)
	setString(&cfg.Token, u.Token)
	setString(&cfg.Cluster, u.Cluster)
	if u.TimeoutMS != nil {
		cfg.TimeoutMS = *u.TimeoutMS
	}
}

func (a *api) handleSTTConfigure(c *gin.Context) {
	var upd sttUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": err.Error()})
		return
	}
	if err := a.gateway.Update(upd.apply); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_config", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, a.gateway.Status())
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

func (a *api) storeError(c *gin.Context, err error) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
		return
	}
	a.internalError(c, err)
}

func (a *api) internalError(c *gin.Context, err error) {
	a.log.Error("request failed", slog.String("path", c.FullPath()), slog.String("error", err.Error()))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": err.Error()})
}

func nonNil(records []health.Record) []health.Record {
	if records == nil {
		return []health.Record{}
	}
	return records
}
