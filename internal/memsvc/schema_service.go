package memsvc

import "memory-mesh/internal/schema"

// SchemaAwareService wraps Service for nodes that also carry a predicate
// schema store (every store-capable node, per spec §4.10), overriding
// get_schema/update_schema so they read and mutate the real store instead
// of Service's always-erroring stub.
type SchemaAwareService struct {
	*Service
	schemaStore *schema.Store
}

// NewSchemaAware builds a SchemaAwareService over an existing Service.
func NewSchemaAware(svc *Service, schemaStore *schema.Store) *SchemaAwareService {
	return &SchemaAwareService{Service: svc, schemaStore: schemaStore}
}

func (s *SchemaAwareService) GetSchema() (map[string]any, error) {
	return s.schemaStore.ToWire(), nil
}

func (s *SchemaAwareService) UpdateSchema(changes map[string]any, source string) (map[string]any, error) {
	updated, err := s.schemaStore.Update(changes, source)
	if err != nil {
		return nil, err
	}
	_ = updated
	return s.schemaStore.ToWire(), nil
}
