package pricing

import "strings"

// Kind distinguishes what a line item refers to.
type Kind string

const (
	KindProduct Kind = "product"
	KindService Kind = "service"
)

// Reference points at exactly one priced entity. The zero value references nothing.
type Reference struct {
	kind Kind
	id   string
}

// ProductRef references a product by id.
func ProductRef(id string) (Reference, error) {
	return newRef(KindProduct, id)
}

// ServiceRef references a service by id.
func ServiceRef(id string) (Reference, error) {
	return newRef(KindService, id)
}

// NewReference builds a Reference from optional product and service ids.
// Exactly one of them must be provided.
func NewReference(productID, serviceID *string) (Reference, error) {
	hasProduct := productID != nil && strings.TrimSpace(*productID) != ""
	hasService := serviceID != nil && strings.TrimSpace(*serviceID) != ""
	switch {
	case hasProduct && hasService:
		return Reference{}, invalid("line item cannot reference both a product and a service")
	case hasProduct:
		return ProductRef(*productID)
	case hasService:
		return ServiceRef(*serviceID)
	default:
		return Reference{}, invalid("line item must reference a product or a service")
	}
}

func newRef(kind Kind, id string) (Reference, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Reference{}, invalid("%s id is required", kind)
	}
	return Reference{kind: kind, id: id}, nil
}

func (r Reference) Kind() Kind   { return r.kind }
func (r Reference) ID() string   { return r.id }
func (r Reference) IsZero() bool { return r.id == "" }

// ProductID returns the product id or nil when r references a service.
func (r Reference) ProductID() *string {
	if r.kind != KindProduct || r.id == "" {
		return nil
	}
	id := r.id
	return &id
}

// ServiceID returns the service id or nil when r references a product.
func (r Reference) ServiceID() *string {
	if r.kind != KindService || r.id == "" {
		return nil
	}
	id := r.id
	return &id
}

func (r Reference) String() string {
	if r.IsZero() {
		return "none"
	}
	return string(r.kind) + ":" + r.id
}
