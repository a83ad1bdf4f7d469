package offsync

import "fmt"

// EntityRoutes holds the replay endpoints for one entity type.
type EntityRoutes struct {
	CreatePath string
	UpdatePath func(id string) string
	DeletePath func(id string) string
}

// Routes maps entity types to their replay endpoints. The table is resolved
// once at startup and injected into the transport, so adding an entity type
// is a configuration change rather than a dispatch-switch change.
type Routes map[EntityType]EntityRoutes

// DefaultRoutes builds the standard REST layout:
// POST /api/{entityType}s, PUT /api/{entityType}s/{id},
// DELETE /api/{entityType}s/{id}.
func DefaultRoutes() Routes {
	routes := make(Routes, len(EntityTypes()))
	for _, entity := range EntityTypes() {
		base := fmt.Sprintf("/api/%ss", entity)
		routes[entity] = EntityRoutes{
			CreatePath: base,
			UpdatePath: func(id string) string { return base + "/" + id },
			DeletePath: func(id string) string { return base + "/" + id },
		}
	}
	return routes
}

// For looks up the routes for an entity type.
func (r Routes) For(entity EntityType) (EntityRoutes, bool) {
	er, ok := r[entity]
	return er, ok
}
