package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/gotrs-io/gotrs-intake/internal/channel"
	"github.com/gotrs-io/gotrs-intake/internal/email/inbound/connector"
	"github.com/gotrs-io/gotrs-intake/internal/email/inbound/postmaster"
	"github.com/gotrs-io/gotrs-intake/internal/intake"
	"github.com/gotrs-io/gotrs-intake/internal/middleware"
	"github.com/gotrs-io/gotrs-intake/internal/models"
)

const channelAPI = "api"

// splitCall splits "tickets.json" into its object and format.
func splitCall(call string) (string, string) {
	i := strings.LastIndex(call, ".")
	if i < 0 {
		return call, ""
	}
	return call[:i], strings.ToLower(call[i+1:])
}

func (s *Server) handleCreate(c *gin.Context) {
	object, format := splitCall(c.Param("call"))
	if object != "tickets" {
		c.JSON(http.StatusNotFound, channel.ErrorBody{Error: "Unknown API call"})
		return
	}
	start := time.Now()
	ctx, cancel := s.requestContext(c)
	defer cancel()

	var (
		ticket *models.Ticket
		err    error
	)
	switch format {
	case intake.FormatJSON:
		ticket, err = s.createFromJSON(ctx, c)
	case intake.FormatEmail:
		var res postmaster.Result
		res, err = s.createFromEmail(ctx, c)
		if err == nil && res.Action == postmaster.ActionIgnored {
			s.metrics.ObserveRequest(channelAPI, res.Action, time.Since(start))
			c.Status(http.StatusAccepted)
			return
		}
		ticket = ticketOf(res)
	case "xml":
		err = intake.Unsupported(http.StatusNotImplemented, "XML extension not supported")
	default:
		err = intake.Unsupported(http.StatusUnsupportedMediaType, "Unsupported data format")
	}

	reply := channel.API{}.Translate(ticket, err)
	s.metrics.ObserveRequest(channelAPI, reply.Outcome, time.Since(start))
	if reply.Error != nil {
		log := s.logger.Info
		if reply.Temporary {
			log = s.logger.Error
		}
		log("api request failed",
			zap.String("format", format),
			zap.Int("status", reply.Code),
			zap.Error(err))
		c.JSON(reply.Code, reply.Error)
		return
	}
	c.String(reply.Code, reply.Ticket)
}

func (s *Server) createFromJSON(ctx context.Context, c *gin.Context) (*models.Ticket, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, readError(err)
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil || payload == nil {
		if err == nil {
			err = errors.New("payload is not an object")
		}
		return nil, &intake.Error{Kind: intake.KindStructural, Code: http.StatusBadRequest, Msg: intake.MsgInvalidData, Cause: err}
	}
	if _, ok := payload["ip"]; !ok {
		payload["ip"] = c.ClientIP()
	}
	return s.tickets.CreateFromAPI(ctx, payload)
}

func (s *Server) createFromEmail(ctx context.Context, c *gin.Context) (postmaster.Result, error) {
	if s.email == nil {
		return postmaster.Result{}, intake.Unsupported(http.StatusUnsupportedMediaType, "Email intake is not enabled")
	}
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return postmaster.Result{}, readError(err)
	}
	msg := &connector.FetchedMessage{
		Connector:  channelAPI,
		RemoteID:   c.GetString(middleware.RequestIDKey),
		ReceivedAt: time.Now().UTC(),
		SizeBytes:  int64(len(raw)),
		Raw:        raw,
	}
	return s.email.Deliver(ctx, msg)
}

func (s *Server) handleList(c *gin.Context) {
	object, format := splitCall(c.Param("call"))
	if object != "tickets" || format != intake.FormatJSON {
		c.JSON(http.StatusNotFound, channel.ErrorBody{Error: "Unknown API call"})
		return
	}
	ctx, cancel := s.requestContext(c)
	defer cancel()

	list, err := s.tickets.ListOpenTickets(ctx)
	if err != nil {
		reply := channel.API{}.Translate(nil, err)
		s.logger.Error("list open tickets failed", zap.Error(err))
		c.JSON(reply.Code, reply.Error)
		return
	}
	if list == nil {
		list = []*models.OpenTicket{}
	}
	c.JSON(http.StatusOK, list)
}

// ticketOf returns the ticket an email landed on.
func ticketOf(res postmaster.Result) *models.Ticket {
	if res.Ticket != nil {
		return res.Ticket
	}
	if res.Object.Type == models.ObjectTicket && res.Object.ID != 0 {
		return &models.Ticket{ID: res.Object.ID, Number: res.Object.Number}
	}
	return nil
}

func readError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return intake.Unsupported(http.StatusUnsupportedMediaType, "Request body too large")
	}
	return &intake.Error{Kind: intake.KindStructural, Code: http.StatusBadRequest, Msg: intake.MsgInvalidData, Cause: err}
}
