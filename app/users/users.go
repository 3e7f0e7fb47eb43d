// Package users is the user directory of the demo application.
package users

import (
	"net/http"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/km-arc/go-dsi/framework/scan"
	"github.com/km-arc/go-dsi/framework/session"
	"github.com/km-arc/go-dsi/framework/web"
)

func init() {
	scan.Component[Service]()
	scan.Component[Controller]("users")
}

var (
	ErrNotFound  = errors.New("users: not found")
	ErrProtected = errors.New("users: the administrator cannot be removed")
)

type User struct {
	ID    int64  `json:"id"`
	Name  string `json:"name" validate:"required,min=2,max=100"`
	Email string `json:"email" validate:"required,email"`
	Age   int    `json:"age" validate:"gte=18"`
}

// Service keeps users in memory.
type Service struct {
	Admin  string      `config:"${demo.admin.email}"`
	Logger *zap.Logger `inject:",optional"`

	mu    sync.RWMutex
	next  int64
	users map[int64]*User
}

// PostConstruct seeds the administrator.
func (s *Service) PostConstruct() error {
	s.users = make(map[int64]*User)
	if s.Admin == "" {
		s.Admin = "admin@example.com"
	}
	s.Add(&User{Name: "admin", Email: s.Admin, Age: 42})
	if s.Logger != nil {
		s.Logger.Info("user directory ready", zap.String("admin", s.Admin))
	}
	return nil
}

func (s *Service) Add(u *User) *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	u.ID = s.next
	s.users[u.ID] = u
	return u
}

// Update replaces the fields of user id, keeping its id.
func (s *Service) Update(id int64, u *User) (*User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return nil, false
	}
	u.ID = id
	s.users[id] = u
	return u, true
}

// Remove deletes user id. The administrator cannot be removed.
func (s *Service) Remove(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	if u.Email == s.Admin {
		return ErrProtected
	}
	delete(s.users, id)
	return nil
}

func (s *Service) Find(id int64) (*User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	return u, ok
}

func (s *Service) FindByEmail(email string) (*User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == email {
			return u, true
		}
	}
	return nil, false
}

// List returns a page of users ordered by id.
func (s *Service) List(page, size int) []*User {
	s.mu.RLock()
	out := make([]*User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	from := (page - 1) * size
	if page < 1 || from >= len(out) {
		return []*User{}
	}
	return out[from:min(from+size, len(out))]
}

// Controller serves /apis/users.
type Controller struct {
	Users *Service `inject:""`
}

func (c *Controller) WebMapping() web.Mapping {
	return web.Mapping{
		Patterns: []string{"users"},
		Methods: []web.Method{
			{Name: "List", Patterns: []string{""}, Params: []web.Param{
				web.Query("page").As(web.Integer).Default("1"),
				web.Query("size").As(web.Integer).Default("20"),
			}},
			{Name: "Get", Patterns: []string{"${id}"}, Params: []web.Param{web.PathVar("id")}},
			{Name: "Create", Verb: "post", Patterns: []string{""}, Wrapped: true, Params: []web.Param{
				web.Body(), web.RequestAttr("token").Nullable(),
			}},
			{Name: "Login", Verb: "post", Patterns: []string{"login"}, Params: []web.Param{
				web.Query("email"), web.Inject(),
			}},
			{Name: "Me", Patterns: []string{"me"}, Params: []web.Param{web.ManagedSessionAttr("user").Nullable()}},
		},
	}
}

func (c *Controller) List(page, size int) []*User {
	return c.Users.List(page, size)
}

func (c *Controller) Get(id int64) (*User, error) {
	u, ok := c.Users.Find(id)
	if !ok {
		return nil, web.Errorf(http.StatusNotFound, "user %d not found", id)
	}
	return u, nil
}

// Create needs the bearer token the auth filter stored.
func (c *Controller) Create(u *User, token any) (*User, error) {
	if token == nil {
		return nil, web.Errorf(http.StatusUnauthorized, "a bearer token is required")
	}
	if u == nil {
		return nil, web.Errorf(http.StatusBadRequest, "a user is required")
	}
	return c.Users.Add(u), nil
}

// Login keeps the user in a managed session; the client gets its id in
// the X-Managed-Session header.
func (c *Controller) Login(email string, s *session.Session) (map[string]any, error) {
	if s == nil {
		return nil, web.Errorf(http.StatusServiceUnavailable, "managed sessions are disabled")
	}
	u, ok := c.Users.FindByEmail(email)
	if !ok {
		return nil, web.Errorf(http.StatusUnauthorized, "unknown user %s", email)
	}
	s.Set("user", u)
	return map[string]any{"session": s.ID, "user": u}, nil
}

func (c *Controller) Me(u *User) (*User, error) {
	if u == nil {
		return nil, web.Errorf(http.StatusUnauthorized, "not logged in")
	}
	return u, nil
}
