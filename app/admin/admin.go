// Package admin is the back office of the demo application: plain chi
// routes under /admin, guarded by a shared token.
package admin

import (
	"net/http"
	"strconv"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/km-arc/go-dsi/app/users"
	gohttp "github.com/km-arc/go-dsi/framework/http"
	"github.com/km-arc/go-dsi/framework/routing"
	"github.com/km-arc/go-dsi/framework/scan"
	"github.com/km-arc/go-dsi/framework/websocket"
)

// TokenHeader carries the admin token.
const TokenHeader = "X-Admin-Token"

func init() {
	scan.Component[Console]("admin-console")
}

// Console serves
//
//	GET  /admin/ping
//	POST /admin/announce          → broadcast to the chat room
//	     /admin/users[/{id}]      → user resource
type Console struct {
	Token      string             `config:"${demo.admin.token}"`
	Users      *users.Service     `inject:""`
	Websockets *websocket.Manager `inject:",optional"`
	Logger     *zap.Logger        `inject:",optional"`
}

func (c *Console) Routes(r *routing.Router) {
	r.Prefix("/admin", func(r *routing.Router) {
		r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
			gohttp.NewResponse(w).Success("pong")
		})
		r.Group(func(r *routing.Router) {
			r.Middleware(c.guard)
			r.Post("/announce", c.announce)
			r.Resource("/users", &userResource{users: c.Users})
		})
	})
}

func (c *Console) guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := gohttp.NewResponse(w)
		if c.Token == "" {
			res.ServerError("admin token not configured")
			return
		}
		if gohttp.NewRequest(r).Header(TokenHeader) != c.Token {
			res.Forbidden()
			return
		}
		next.ServeHTTP(w, r)
	})
}

type announcement struct {
	Text string `json:"text" validate:"required"`
}

func (c *Console) announce(w http.ResponseWriter, r *http.Request) {
	res := gohttp.NewResponse(w)
	var a announcement
	if err := gohttp.NewRequest(r).Bind(&a); err != nil {
		res.Error(http.StatusBadRequest, err.Error())
		return
	}
	if bag := gohttp.Validate(&a); bag != nil {
		res.ValidationError(bag)
		return
	}
	if c.Websockets == nil {
		res.Error(http.StatusServiceUnavailable, "websockets are disabled")
		return
	}
	msg := map[string]string{"action": "announce", "text": a.Text}
	if err := c.Websockets.Broadcast("/ws/chat", msg); err != nil {
		if c.Logger != nil {
			c.Logger.Warn("announcement not sent", zap.Error(err))
		}
		res.Error(http.StatusServiceUnavailable, err.Error())
		return
	}
	res.NoContent()
}

type userResource struct {
	users *users.Service
}

func (u *userResource) Index(w http.ResponseWriter, r *http.Request) {
	req := gohttp.NewRequest(r)
	page, _ := strconv.Atoi(req.Query("page", "1"))
	size, _ := strconv.Atoi(req.Query("size", "20"))
	gohttp.NewResponse(w).Success(u.users.List(page, size))
}

func (u *userResource) Store(w http.ResponseWriter, r *http.Request) {
	res := gohttp.NewResponse(w)
	user, ok := decode(res, r)
	if !ok {
		return
	}
	res.Created(u.users.Add(user))
}

func (u *userResource) Show(w http.ResponseWriter, r *http.Request) {
	res := gohttp.NewResponse(w)
	id, ok := userID(res, r)
	if !ok {
		return
	}
	user, found := u.users.Find(id)
	if !found {
		res.NotFound("user not found")
		return
	}
	res.Success(user)
}

func (u *userResource) Update(w http.ResponseWriter, r *http.Request) {
	res := gohttp.NewResponse(w)
	id, ok := userID(res, r)
	if !ok {
		return
	}
	user, ok := decode(res, r)
	if !ok {
		return
	}
	updated, found := u.users.Update(id, user)
	if !found {
		res.NotFound("user not found")
		return
	}
	res.Success(updated)
}

func (u *userResource) Destroy(w http.ResponseWriter, r *http.Request) {
	res := gohttp.NewResponse(w)
	id, ok := userID(res, r)
	if !ok {
		return
	}
	switch err := u.users.Remove(id); {
	case errors.Is(err, users.ErrNotFound):
		res.NotFound("user not found")
	case errors.Is(err, users.ErrProtected):
		res.Forbidden(err.Error())
	case err != nil:
		res.ServerError()
	default:
		res.NoContent()
	}
}

func userID(res *gohttp.Response, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(routing.Param(r, "id"), 10, 64)
	if err != nil {
		res.NotFound("user not found")
		return 0, false
	}
	return id, true
}

func decode(res *gohttp.Response, r *http.Request) (*users.User, bool) {
	var user users.User
	if err := gohttp.NewRequest(r).Bind(&user); err != nil {
		res.Error(http.StatusBadRequest, err.Error())
		return nil, false
	}
	if bag := gohttp.Validate(&user); bag != nil {
		res.ValidationError(bag)
		return nil, false
	}
	return &user, true
}
