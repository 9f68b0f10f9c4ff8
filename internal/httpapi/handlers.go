package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sigic/georef/internal/georeference"
)

// datasetID accepts both 12 and "12", the way form-encoded clients send it.
type datasetID int64

func (d *datasetID) UnmarshalJSON(b []byte) error {
	v, err := strconv.ParseInt(strings.Trim(string(b), `"`), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid dataset id %s", b)
	}
	*d = datasetID(v)
	return nil
}

type joinRequest struct {
	Layer      datasetID `json:"layer" form:"layer"`
	GeoLayer   datasetID `json:"geo_layer" form:"geo_layer"`
	LayerPivot string    `json:"layer_pivot" form:"layer_pivot"`
	GeoPivot   string    `json:"geo_pivot" form:"geo_pivot"`
	Columns    []string  `json:"columns" form:"columns"`
}

type resetRequest struct {
	Layer datasetID `json:"layer" form:"layer"`
}

func success(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (s *Server) fail(c *gin.Context, err error) {
	kind := georeference.KindOf(err)
	msg := err.Error()
	if kind == georeference.KindInternal {
		s.logger.Error("Unexpected error", zap.String("path", c.FullPath()), zap.Error(err))
		msg = "internal error"
	}
	c.JSON(kind.HTTPStatus(), gin.H{"status": "failed", "msg": msg})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"status": "failed", "msg": msg})
}

func (s *Server) join(c *gin.Context) {
	var req joinRequest
	if err := c.ShouldBind(&req); err != nil {
		badRequest(c, "invalid join request: "+err.Error())
		return
	}

	result, err := s.service.Join(c.Request.Context(), georeference.JoinRequest{
		TargetID:    int64(req.Layer),
		SourceID:    int64(req.GeoLayer),
		TargetPivot: req.LayerPivot,
		SourcePivot: req.GeoPivot,
		Columns:     req.Columns,
	})
	if err != nil {
		s.fail(c, err)
		return
	}

	s.logger.Info("Join accepted",
		zap.Int64("dataset_id", result.DatasetID),
		zap.String("task_id", result.TaskID))
	success(c)
}

func (s *Server) status(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("layer"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid dataset id "+c.Param("layer"))
		return
	}

	state, err := s.service.Status(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(state)})
}

func (s *Server) reset(c *gin.Context) {
	var req resetRequest
	if err := c.ShouldBind(&req); err != nil {
		badRequest(c, "invalid reset request: "+err.Error())
		return
	}
	if req.Layer <= 0 {
		badRequest(c, "layer is required")
		return
	}

	if _, err := s.service.Reset(c.Request.Context(), int64(req.Layer)); err != nil {
		s.fail(c, err)
		return
	}
	success(c)
}

func (s *Server) ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) info(c *gin.Context) {
	c.JSON(http.StatusOK, s.service.Info(c.Request.Context()))
}
