package container_test

import (
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/km-arc/go-dsi/framework/container"
)

// ── stub beans ────────────────────────────────────────────────────────────────

type Greeter interface {
	Greet() string
}

type englishGreeter struct{ calls int }

func (g *englishGreeter) Greet() string { return "hello" }

type frenchGreeter struct{}

func (g *frenchGreeter) Greet() string { return "bonjour" }

type namedThing struct{}

func (n *namedThing) BeanName() string { return "custom" }

type lifecycle struct {
	log       *[]string
	name      string
	initErr   error
	destroyed int
}

func (l *lifecycle) PostConstruct() error {
	*l.log = append(*l.log, "init:"+l.name)
	return l.initErr
}

func (l *lifecycle) Destroy() error {
	l.destroyed++
	*l.log = append(*l.log, "destroy:"+l.name)
	return nil
}

type baseRepo struct{ table string }

func (r *baseRepo) Table() string { return r.table }

type userRepo struct {
	baseRepo
	cached bool
}

type cachedRepo struct {
	*userRepo
}

type repoUser struct {
	Base  *baseRepo   `inject:""`
	Users userRepo    `inject:""`
	All   []*baseRepo `inject:""`
}

type closer struct{ closed *int }

func (c *closer) Destroy() error {
	*c.closed++
	return nil
}

type orderedProcessor struct {
	order int
	log   *[]string
	name  string
}

func (p *orderedProcessor) BeanOrder() int { return p.order }

func (p *orderedProcessor) Perform(*container.Context) error {
	*p.log = append(*p.log, p.name)
	return nil
}

// ── Registration ──────────────────────────────────────────────────────────────

func TestContext_RegisterDerivesName(t *testing.T) {
	c := container.New()
	require.NoError(t, c.Register(&englishGreeter{}))
	require.NoError(t, c.Register(&namedThing{}))

	_, ok := c.GetBean("englishGreeter")
	require.True(t, ok)
	_, ok = c.GetBean("custom")
	require.True(t, ok)
}

func TestContext_RegisterSelf(t *testing.T) {
	c := container.New()
	self, ok := c.GetBean("context")
	require.True(t, ok)
	require.Same(t, c, self)
}

func TestContext_RegisterDuplicateName(t *testing.T) {
	c := container.New()
	require.NoError(t, c.RegisterNamed("g", &englishGreeter{}))
	err := c.RegisterNamed("g", &frenchGreeter{})
	require.ErrorIs(t, err, container.ErrNameExists)
}

func TestContext_RegisterNil(t *testing.T) {
	c := container.New()
	require.ErrorIs(t, c.Register(nil), container.ErrNilBean)
	var g *englishGreeter
	require.ErrorIs(t, c.Register(g), container.ErrNilBean)
}

func TestContext_Alias(t *testing.T) {
	c := container.New()
	g := &englishGreeter{}
	require.NoError(t, c.RegisterNamed("greeter", g))
	require.NoError(t, c.Alias("greeter", "hello"))

	bean, ok := c.GetBean("hello")
	require.True(t, ok)
	require.Same(t, g, bean)
	require.Error(t, c.Alias("x", "x"))
}

// ── Lookup ────────────────────────────────────────────────────────────────────

func TestContext_GetBeanByType(t *testing.T) {
	c := container.New()
	g := &englishGreeter{}
	require.NoError(t, c.Register(g))

	bean, err := c.GetBeanByType(reflect.TypeOf(g))
	require.NoError(t, err)
	require.Same(t, g, bean)

	bean, err = c.GetBeanByType(container.TypeOf[Greeter]())
	require.NoError(t, err)
	require.Same(t, g, bean)
}

func TestContext_GetBeanByType_NoneReturnsNil(t *testing.T) {
	c := container.New()
	bean, err := c.GetBeanByType(reflect.TypeOf(&frenchGreeter{}))
	require.NoError(t, err)
	require.Nil(t, bean)
}

func TestContext_GetBeanByType_NotUnique(t *testing.T) {
	c := container.New()
	require.NoError(t, c.Register(&englishGreeter{}))
	require.NoError(t, c.Register(&frenchGreeter{}))

	_, err := c.GetBeanByType(container.TypeOf[Greeter]())
	require.ErrorIs(t, err, container.ErrNotUnique)

	_, err = container.Resolve[Greeter](c)
	require.ErrorIs(t, err, container.ErrNotUnique)
}

func TestContext_GetBeanMap(t *testing.T) {
	c := container.New()
	require.Empty(t, c.GetBeanMap(container.TypeOf[Greeter]()))

	require.NoError(t, c.RegisterNamed("en", &englishGreeter{}))
	require.NoError(t, c.RegisterNamed("en2", &englishGreeter{}))
	require.NoError(t, c.RegisterNamed("fr", &frenchGreeter{}))

	m := container.BeansOf[Greeter](c)
	require.Len(t, m, 3)
	require.Equal(t, "bonjour", m["fr"].Greet())

	concrete := c.GetBeanMap(reflect.TypeOf(&englishGreeter{}))
	require.Len(t, concrete, 2)
	require.Contains(t, concrete, "en2")
}

func TestContext_ResolveGenerics(t *testing.T) {
	c := container.New()
	g := &englishGreeter{}
	require.NoError(t, c.Register(g))

	got, err := container.Resolve[*englishGreeter](c)
	require.NoError(t, err)
	require.Same(t, g, got)

	_, err = container.Resolve[*frenchGreeter](c)
	require.ErrorIs(t, err, container.ErrNotFound)

	named, err := container.ResolveNamed[Greeter](c, "englishGreeter")
	require.NoError(t, err)
	require.Equal(t, "hello", named.Greet())

	_, err = container.ResolveNamed[*frenchGreeter](c, "englishGreeter")
	require.Error(t, err)

	require.Panics(t, func() { container.MustResolve[*frenchGreeter](c) })
}

func TestContext_Create(t *testing.T) {
	c := container.New()
	err := c.Create(func() (any, error) { return &frenchGreeter{}, nil }, container.TypeOf[Greeter]())
	require.NoError(t, err)

	bean, err := c.GetBeanByType(container.TypeOf[Greeter]())
	require.NoError(t, err)
	require.Equal(t, "bonjour", bean.(Greeter).Greet())

	// created beans are not indexed under their concrete type
	bean, err = c.GetBeanByType(reflect.TypeOf(&frenchGreeter{}))
	require.NoError(t, err)
	require.Nil(t, bean)

	err = c.Create(func() (any, error) { return nil, errors.New("boom") })
	require.Error(t, err)
}

func TestContext_CreatedBeansAreDestroyed(t *testing.T) {
	closed := 0
	c := container.New()
	require.NoError(t, c.Create(func() (any, error) { return &closer{closed: &closed}, nil }))
	require.NoError(t, c.Resolve())
	require.NoError(t, c.Close())
	require.Equal(t, 1, closed)

	// removal after resolve destroys too
	c = container.New()
	require.NoError(t, c.Resolve())
	require.NoError(t, c.Create(func() (any, error) { return &closer{closed: &closed}, nil },
		container.TypeOf[container.DisposableBean]()))
	bean, err := c.GetBeanByType(container.TypeOf[container.DisposableBean]())
	require.NoError(t, err)
	require.NoError(t, c.Remove(bean))
	require.Equal(t, 2, closed)
	require.NoError(t, c.Close())
	require.Equal(t, 2, closed)
}

// ── Type tree ─────────────────────────────────────────────────────────────────

func TestContext_TypeTreeLookups(t *testing.T) {
	c := container.New()
	repo := &userRepo{baseRepo: baseRepo{table: "users"}}
	require.NoError(t, c.RegisterNamed("users", repo))

	for _, typ := range []reflect.Type{
		container.TypeOf[*userRepo](),
		container.TypeOf[userRepo](),
		container.TypeOf[*baseRepo](),
		container.TypeOf[baseRepo](),
	} {
		bean, err := c.GetBeanByType(typ)
		require.NoError(t, err, typ.String())
		require.Same(t, repo, bean, typ.String())
		require.Len(t, c.GetBeanMap(typ), 1, typ.String())
	}

	base, err := container.Resolve[*baseRepo](c)
	require.NoError(t, err)
	require.Same(t, &repo.baseRepo, base)
	require.Equal(t, "users", base.Table())

	copied, err := container.Resolve[userRepo](c)
	require.NoError(t, err)
	require.Equal(t, "users", copied.table)

	require.Len(t, container.BeansOf[*baseRepo](c), 1)
}

func TestContext_TypeTreeEmbeddedPointer(t *testing.T) {
	c := container.New()
	inner := &userRepo{baseRepo: baseRepo{table: "cached"}}
	require.NoError(t, c.Register(&cachedRepo{userRepo: inner}))

	got, err := container.Resolve[*userRepo](c)
	require.NoError(t, err)
	require.Same(t, inner, got)

	base, err := container.Resolve[*baseRepo](c)
	require.NoError(t, err)
	require.Same(t, &inner.baseRepo, base)
}

func TestContext_InjectByEmbeddedType(t *testing.T) {
	c := container.New()
	repo := &userRepo{baseRepo: baseRepo{table: "users"}, cached: true}
	consumer := &repoUser{}
	require.NoError(t, c.Register(repo))
	require.NoError(t, c.Register(consumer))
	require.NoError(t, c.Resolve())

	require.Same(t, &repo.baseRepo, consumer.Base)
	require.True(t, consumer.Users.cached)
	require.Len(t, consumer.All, 1)
	require.Same(t, &repo.baseRepo, consumer.All[0])
}

func TestContext_RemoveDropsTypeTree(t *testing.T) {
	c := container.New()
	repo := &userRepo{}
	require.NoError(t, c.Register(repo))
	require.NoError(t, c.Remove(repo))

	require.Empty(t, c.GetBeanMap(container.TypeOf[baseRepo]()))
	require.Empty(t, c.GetBeanMap(container.TypeOf[*baseRepo]()))
	bean, err := c.GetBeanByType(container.TypeOf[userRepo]())
	require.NoError(t, err)
	require.Nil(t, bean)
}

func TestContext_InterfaceLookupFollowsRegistrations(t *testing.T) {
	c := container.New()
	en := &englishGreeter{}
	require.NoError(t, c.Register(en))
	require.Len(t, container.ListOf[Greeter](c), 1)

	// the cached result is refreshed by later registrations and removals
	require.NoError(t, c.Register(&frenchGreeter{}))
	require.Len(t, container.ListOf[Greeter](c), 2)
	require.NoError(t, c.Remove(en))
	greeters := container.ListOf[Greeter](c)
	require.Len(t, greeters, 1)
	require.Equal(t, "bonjour", greeters[0].Greet())
}

// ── Removal ───────────────────────────────────────────────────────────────────

func TestContext_RemoveBeforeResolveDoesNotDestroy(t *testing.T) {
	var log []string
	c := container.New()
	l := &lifecycle{log: &log, name: "a"}
	require.NoError(t, c.Register(l))
	require.NoError(t, c.Remove(l))

	_, ok := c.GetBean("lifecycle")
	require.False(t, ok)
	require.Zero(t, l.destroyed)
}

func TestContext_RemoveAfterResolveDestroys(t *testing.T) {
	var log []string
	c := container.New()
	l := &lifecycle{log: &log, name: "a"}
	require.NoError(t, c.RegisterNamed("a", l))
	require.NoError(t, c.Alias("a", "alias"))
	require.NoError(t, c.Resolve())

	require.NoError(t, c.RemoveNamed("alias"))
	require.Equal(t, 1, l.destroyed)
	require.Empty(t, c.GetBeanMap(reflect.TypeOf(l)))
	_, ok := c.GetBean("alias")
	require.False(t, ok)

	// second removal is a no-op
	require.NoError(t, c.RemoveNamed("a"))
	require.Equal(t, 1, l.destroyed)
}

func TestContext_RemoveShrinksTypeList(t *testing.T) {
	c := container.New()
	a, b := &englishGreeter{}, &englishGreeter{}
	require.NoError(t, c.RegisterNamed("a", a))
	require.NoError(t, c.RegisterNamed("b", b))
	require.NoError(t, c.Remove(a))

	bean, err := c.GetBeanByType(reflect.TypeOf(a))
	require.NoError(t, err)
	require.Same(t, b, bean)
}

// ── Resolve ───────────────────────────────────────────────────────────────────

func TestContext_ResolveOnlyOnce(t *testing.T) {
	c := container.New()
	require.NoError(t, c.Resolve())
	require.True(t, c.Resolved())
	require.ErrorIs(t, c.Resolve(), container.ErrAlreadyResolved)
}

func TestContext_ResolveRunsProcessorsInOrder(t *testing.T) {
	var log []string
	c := container.New()
	require.NoError(t, c.RegisterNamed("late", &orderedProcessor{order: 10, log: &log, name: "late"}))
	require.NoError(t, c.RegisterNamed("early", &orderedProcessor{order: -1, log: &log, name: "early"}))
	require.NoError(t, c.RegisterNamed("mid", &orderedProcessor{order: 0, log: &log, name: "mid"}))
	require.NoError(t, c.Resolve())

	require.Equal(t, []string{"early", "mid", "late"}, log)
}

func TestContext_PostConstructError(t *testing.T) {
	var log []string
	c := container.New()
	require.NoError(t, c.Register(&lifecycle{log: &log, name: "a", initErr: errors.New("no")}))
	require.Error(t, c.Resolve())
}

func TestContext_RegisterAfterResolveWiresImmediately(t *testing.T) {
	var log []string
	c := container.New()
	require.NoError(t, c.Resolve())

	require.NoError(t, c.RegisterNamed("late", &lifecycle{log: &log, name: "late"}))
	require.Equal(t, []string{"init:late"}, log)
}

func TestContext_AfterRegisterCallback(t *testing.T) {
	c := container.New()
	var seen []string
	c.AfterRegister(func(name string, _ any) { seen = append(seen, name) })
	require.NoError(t, c.Register(&englishGreeter{}))
	require.Equal(t, []string{"englishGreeter"}, seen)
}

// ── Close ─────────────────────────────────────────────────────────────────────

func TestContext_CloseReverseOrder(t *testing.T) {
	var log []string
	c := container.New()
	a := &lifecycle{log: &log, name: "a"}
	b := &lifecycle{log: &log, name: "b"}
	require.NoError(t, c.RegisterNamed("a", a))
	require.NoError(t, c.RegisterNamed("b", b))
	require.NoError(t, c.Resolve())
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	require.Equal(t, []string{"init:a", "init:b", "destroy:b", "destroy:a"}, log)
	require.Equal(t, 1, a.destroyed)
	require.Empty(t, c.Names())
	require.ErrorIs(t, c.Register(&englishGreeter{}), container.ErrClosed)
}

func TestNameOf(t *testing.T) {
	require.Equal(t, "englishGreeter", container.NameOf(&englishGreeter{}))
	require.Equal(t, "custom", container.NameOf(&namedThing{}))
	require.Equal(t, "hTTPServer", container.LowerCamel("HTTPServer"))
}
