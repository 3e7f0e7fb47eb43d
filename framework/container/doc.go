// Package container provides the bean context: a registry of named, typed
// objects wired together through struct tags.
//
// # Overview
//
// Beans are registered by name (derived from the type when omitted) and
// indexed by their dynamic type. Interface lookups match every bean that
// implements the interface. Fields tagged `inject` receive other beans and
// fields tagged `config` receive configuration values.
//
// # Context Lifecycle
//
//  1. Create: ctx := container.New(container.WithProperties(cfg))
//  2. Register beans (directly or through scanners)
//  3. Resolve: ctx.Resolve()   wires every bean, then runs resolved processors
//  4. Serve
//  5. Close: ctx.Close()       destroys beans in reverse initialization order
//
// Beans registered after Resolve are wired on registration.
//
// # Registration
//
//	ctx.Register(&UserService{})                  // "userService"
//	ctx.RegisterNamed("primaryDB", db)
//	ctx.Alias("primaryDB", "db")
//
// # Injection
//
//	type UserService struct {
//	    Repo    UserRepository     `inject:""`
//	    Cache   Cache              `inject:"redisCache,optional"`
//	    Clock   func() Clock       `inject:""`
//	    Timeout time.Duration      `config:"${users.timeout}"`
//	    DSN     string             `config:"${db.dsn},required"`
//	}
//
//	func (s *UserService) PostConstruct() error { return s.Repo.Ping() }
//	func (s *UserService) Destroy() error       { return s.Repo.Close() }
//
// # Resolving
//
//	svc, err := container.Resolve[*UserService](ctx)
//	repo, err := container.ResolveNamed[UserRepository](ctx, "userRepository")
//	all := container.BeansOf[Job](ctx)      // map[string]Job
package container
