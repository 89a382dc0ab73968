package statusapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/gwac/camannex/controller"
)

type healthResponse struct {
	Status          string `json:"status"`
	Engines         int    `json:"engines"`
	ServerConnected bool   `json:"server_connected"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// DirectiveRequest queues one function call. At most one of Int and Float
// may be set; neither means no payload.
type DirectiveRequest struct {
	DeviceID *int     `json:"device_id" binding:"required"`
	FuncID   *int     `json:"func_id" binding:"required"`
	Int      *int     `json:"int,omitempty"`
	Float    *float64 `json:"float,omitempty"`
}

type directiveResponse struct {
	EngineID    string `json:"engine_id"`
	QueueLength int    `json:"queue_length"`
}

func abort(c *gin.Context, code int, msg string, err error) {
	resp := errorResponse{Error: msg}
	if err != nil {
		resp.Details = err.Error()
	}
	c.AbortWithStatusJSON(code, resp)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{
		Status:          "ok",
		Engines:         len(s.provider.Engines()),
		ServerConnected: s.provider.ServerConnected(),
	})
}

func (s *Server) listEngines(c *gin.Context) {
	engines := s.provider.Engines()
	list := make([]controller.Status, 0, len(engines))
	for _, e := range engines {
		list = append(list, e.Status())
	}

	c.JSON(http.StatusOK, list)
}

func (s *Server) getEngine(c *gin.Context) {
	e, ok := s.lookup(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, e.Status())
}

func (s *Server) postDirective(c *gin.Context) {
	e, ok := s.lookup(c)
	if !ok {
		return
	}

	var req DirectiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid directive", err)
		return
	}
	if !isByte(*req.DeviceID) || !isByte(*req.FuncID) {
		abort(c, http.StatusBadRequest, "device_id and func_id must be within 0..255", nil)
		return
	}
	if req.Int != nil && req.Float != nil {
		abort(c, http.StatusBadRequest, "int and float are exclusive", nil)
		return
	}

	id, fn := byte(*req.DeviceID), byte(*req.FuncID)
	switch {
	case req.Int != nil:
		e.WriteInt(id, fn, *req.Int)
	case req.Float != nil:
		e.WriteFloat(id, fn, *req.Float)
	default:
		e.Write(id, fn)
	}
	s.logger.Info("directive injected", "engine_id", e.ID(), "device", id, "func", fn)

	c.JSON(http.StatusAccepted, directiveResponse{
		EngineID:    e.ID().String(),
		QueueLength: e.QueueLength(),
	})
}

func (s *Server) lookup(c *gin.Context) (*controller.Engine, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		abort(c, http.StatusBadRequest, "invalid engine id", err)
		return nil, false
	}

	e, ok := s.provider.Engine(id)
	if !ok {
		abort(c, http.StatusNotFound, "engine not found", nil)
		return nil, false
	}

	return e, true
}

func isByte(v int) bool {
	return v >= 0 && v <= 255
}
