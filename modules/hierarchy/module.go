package hierarchy

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/iota-hierarchy/modules/hierarchy/infrastructure/cache"
	"github.com/iota-uz/iota-hierarchy/modules/hierarchy/infrastructure/persistence"
	"github.com/iota-uz/iota-hierarchy/modules/hierarchy/presentation/controllers"
	"github.com/iota-uz/iota-hierarchy/modules/hierarchy/services"
	"github.com/iota-uz/iota-hierarchy/pkg/eventbus"
	"github.com/iota-uz/iota-hierarchy/pkg/server"
)

type Options struct {
	Logger *logrus.Logger
	// Bus receives audit events; nil disables auditing.
	Bus             eventbus.EventBus
	Cache           services.PermissionCache
	DefaultMaxDepth int
	TenantHeader    string
}

// Module holds the Postgres-backed hierarchy services.
type Module struct {
	Tree          *services.TreeService
	Relationships *services.RelationshipService
	Roles         *services.RoleService
	Resolver      *services.PermissionResolver

	tenantHeader string
}

func NewModule(opts Options) *Module {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	svcOpts := []services.Option{
		services.WithLogger(logrus.NewEntry(logger)),
		services.WithDefaultMaxDepth(opts.DefaultMaxDepth),
	}
	if opts.Bus != nil {
		svcOpts = append(svcOpts, services.WithAuditor(services.NewAuditor(opts.Bus)))
	}
	if opts.Cache != nil {
		svcOpts = append(svcOpts, services.WithPermissionCache(opts.Cache))
	}

	hierarchyRepo := persistence.NewHierarchyRepository()
	accessRepo := persistence.NewAccessRepository()
	tx := services.NewPgTransactor()
	return &Module{
		Tree:          services.NewTreeService(hierarchyRepo, tx, svcOpts...),
		Relationships: services.NewRelationshipService(hierarchyRepo, tx, svcOpts...),
		Roles:         services.NewRoleService(accessRepo, hierarchyRepo, tx, svcOpts...),
		Resolver:      services.NewPermissionResolver(accessRepo, tx, svcOpts...),
		tenantHeader:  opts.TenantHeader,
	}
}

func (m *Module) Controllers() []server.Controller {
	return []server.Controller{
		controllers.NewHierarchyAPIController(m.Tree, m.Relationships, m.Roles, m.Resolver, m.tenantHeader),
	}
}

func (m *Module) Name() string {
	return "hierarchy"
}

// NewPermissionCache builds the effective-permission cache for mode
// (memory, redis or disabled). The returned close func is never nil.
func NewPermissionCache(mode string, ttl time.Duration, redisAddr string, logger *logrus.Logger) (services.PermissionCache, func() error, error) {
	noop := func() error { return nil }
	switch mode {
	case "", "memory":
		return services.NewMemoryPermissionCache(ttl), noop, nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: redisAddr})
		return cache.NewRedisPermissionCache(client, ttl, logger), client.Close, nil
	case "disabled":
		return nil, noop, nil
	}
	return nil, noop, fmt.Errorf("unknown permission cache mode %q", mode)
}
