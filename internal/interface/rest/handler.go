package rest

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/totegamma/attendance-tracker"
	"github.com/totegamma/attendance-tracker/internal/domain"
	"github.com/totegamma/attendance-tracker/internal/interface/rest/middleware"
	"github.com/totegamma/attendance-tracker/internal/interface/rest/presenter"
	"github.com/totegamma/attendance-tracker/internal/notify"
	"github.com/totegamma/attendance-tracker/internal/usecase"
)

var logger = log.New("socket")

// AccountSelector switches the wallet's active account.
type AccountSelector interface {
	Select(addr common.Address) error
	Disconnect()
	Accounts() []common.Address
}

type Handler struct {
	session  *usecase.SessionManager
	actions  *usecase.ActionOrchestrator
	events   *usecase.EventUsecase
	notices  *notify.Queue
	selector AccountSelector
	operator *middleware.OperatorToken
}

// NewHandler builds the REST surface. events and selector may be nil.
func NewHandler(
	session *usecase.SessionManager,
	actions *usecase.ActionOrchestrator,
	events *usecase.EventUsecase,
	notices *notify.Queue,
	selector AccountSelector,
	operator *middleware.OperatorToken,
) *Handler {
	if operator == nil {
		operator = middleware.NewOperatorToken("")
	}
	return &Handler{
		session:  session,
		actions:  actions,
		events:   events,
		notices:  notices,
		selector: selector,
		operator: operator,
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/session", h.handleSession)
	e.GET("/ws", h.handleRealtime)
	e.GET("/attendance", h.handleCheckAttendance)
	e.GET("/events", h.handleEvents)
	e.DELETE("/notification", h.handleDismiss)

	g := e.Group("", h.operator.Require)
	g.POST("/connect", h.handleConnect)
	g.POST("/refresh", h.handleRefresh)
	g.POST("/signin", h.handleSignIn)
	g.POST("/signout", h.handleSignOut)
	g.POST("/register", h.handleRegister)
	g.POST("/attendance", h.handleMarkAttendance)
	g.PUT("/admin/attendance", h.handleModifyAttendance)
	g.DELETE("/admin/users/:address", h.handleEvictUser)
	g.GET("/wallet/accounts", h.handleAccounts)
	g.POST("/wallet/select", h.handleSelectAccount)
	g.POST("/wallet/disconnect", h.handleDisconnectAccount)
}

type scheduleView struct {
	StartDate   string   `json:"startDate"`
	TotalWeeks  int      `json:"totalWeeks"`
	DaysPerWeek int      `json:"daysPerWeek"`
	ValidDays   []string `json:"validDays"`
}

type sessionView struct {
	usecase.Session
	Pending      *usecase.PendingOperation `json:"pending,omitempty"`
	Notification *tracker.Notification     `json:"notification,omitempty"`
	Schedule     scheduleView              `json:"schedule"`
}

func (h *Handler) view() sessionView {
	s := h.actions.Schedule()
	v := sessionView{
		Session: h.session.Snapshot(),
		Pending: h.actions.Pending(),
		Schedule: scheduleView{
			StartDate:   s.StartDate.Format(domain.DateLayout),
			TotalWeeks:  s.TotalWeeks,
			DaysPerWeek: s.DaysPerWeek,
			ValidDays:   s.DayNames(),
		},
	}
	if n, ok := h.notices.Current(); ok {
		v.Notification = &n
	}
	return v
}

func (h *Handler) handleSession(c echo.Context) error {
	return presenter.OK(c, h.view())
}

func (h *Handler) handleConnect(c echo.Context) error {
	if err := h.session.Connect(c.Request().Context()); err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, h.view())
}

func (h *Handler) handleRefresh(c echo.Context) error {
	if err := h.session.Refresh(c.Request().Context()); err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, h.view())
}

func (h *Handler) handleSignIn(c echo.Context) error {
	if err := h.session.SignIn(); err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, h.view())
}

func (h *Handler) handleSignOut(c echo.Context) error {
	h.session.SignOut()
	return presenter.OK(c, h.view())
}

type registerRequest struct {
	Profile string `json:"profile"`
	Name    string `json:"name"`
	Contact string `json:"contact"`
}

func (h *Handler) handleRegister(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, err)
	}

	profile := req.Profile
	if profile == "" && strings.TrimSpace(req.Name) != "" {
		profile = string(tracker.FormatProfile(req.Name, req.Contact))
	}

	err := h.actions.Register(c.Request().Context(), usecase.RegisterInput{Profile: profile})
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, h.view())
}

func (h *Handler) handleMarkAttendance(c echo.Context) error {
	var req usecase.MarkInput
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, err)
	}
	if err := h.actions.MarkAttendance(c.Request().Context(), req); err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, h.view())
}

func (h *Handler) handleCheckAttendance(c echo.Context) error {
	req := usecase.CheckInput{
		Subject: c.QueryParam("subject"),
		Date:    c.QueryParam("date"),
	}
	result, err := h.actions.CheckAttendance(c.Request().Context(), req)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, result)
}

func (h *Handler) handleModifyAttendance(c echo.Context) error {
	var req usecase.ModifyInput
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, err)
	}
	if err := h.actions.ModifyAttendance(c.Request().Context(), req); err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, h.view())
}

func (h *Handler) handleEvictUser(c echo.Context) error {
	req := usecase.EvictInput{Subject: c.Param("address")}
	if err := h.actions.EvictUser(c.Request().Context(), req); err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, h.view())
}

func (h *Handler) handleDismiss(c echo.Context) error {
	h.notices.Dismiss()
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) handleAccounts(c echo.Context) error {
	if h.selector == nil {
		return presenter.Unavailable(c, "no wallet configured")
	}
	return presenter.OK(c, h.selector.Accounts())
}

type selectRequest struct {
	Address string `json:"address"`
}

// handleSelectAccount switches the wallet's account. The session follows
// asynchronously, so the answer is 202 with the snapshot at that moment.
func (h *Handler) handleSelectAccount(c echo.Context) error {
	if h.selector == nil {
		return presenter.Unavailable(c, "no wallet configured")
	}
	var req selectRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, err)
	}
	addr, err := tracker.ParseAddress(req.Address)
	if err != nil {
		return presenter.BadRequestMessage(c, "Please enter a valid Ethereum address")
	}
	if err := h.selector.Select(addr); err != nil {
		return presenter.BadRequest(c, err)
	}
	return presenter.Accepted(c, h.view())
}

// handleDisconnectAccount drops the active account. Like a switch, the
// session follows asynchronously.
func (h *Handler) handleDisconnectAccount(c echo.Context) error {
	if h.selector == nil {
		return presenter.Unavailable(c, "no wallet configured")
	}
	h.selector.Disconnect()
	return presenter.Accepted(c, h.view())
}

func (h *Handler) handleEvents(c echo.Context) error {
	if h.events == nil {
		return presenter.Unavailable(c, "event journal disabled")
	}

	var subject *common.Address
	if s := c.QueryParam("subject"); s != "" {
		addr, err := tracker.ParseAddress(s)
		if err != nil {
			return presenter.BadRequestMessage(c, "invalid subject")
		}
		subject = &addr
	}

	limit := 50
	if s := c.QueryParam("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return presenter.BadRequestMessage(c, "invalid limit parameter")
		}
		limit = n
	}

	events, err := h.events.List(c.Request().Context(), subject, limit)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, events)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleRealtime pushes a fresh snapshot whenever the session or the
// notification slot changes. Bursts are coalesced into one snapshot.
func (h *Handler) handleRealtime(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Errorf("failed to upgrade websocket: %v", err)
		return err
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	sessionCh := make(chan usecase.SessionEvent, 16)
	sessionSub := h.session.Subscribe(sessionCh)
	defer sessionSub.Unsubscribe()

	noticeCh := make(chan tracker.Notification, 16)
	noticeSub := h.notices.Subscribe(noticeCh)
	defer noticeSub.Unsubscribe()

	dirty := make(chan struct{}, 1)
	mark := func() {
		select {
		case dirty <- struct{}{}:
		default:
		}
	}

	go func() {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Debugf("websocket closed: %v", err)
				}
				return
			}
		}
	}()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-sessionCh:
				mark()
			case <-noticeCh:
				mark()
			}
		}
	}()

	mark()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-sessionSub.Err():
			return err
		case <-dirty:
			ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := ws.WriteJSON(h.view()); err != nil {
				logger.Debugf("websocket write: %v", err)
				return nil
			}
		}
	}
}
