package shared

// Marketplace admin permissions, namespaced as resource:action.
const (
	PermProductsView   = "products:view"
	PermProductsEdit   = "products:edit"
	PermProductsDelete = "products:delete"

	PermVendorsView    = "vendors:view"
	PermVendorsEdit    = "vendors:edit"
	PermVendorsApprove = "vendors:approve"

	PermCartsView  = "carts:view"
	PermCartsPurge = "carts:purge"

	PermDeliveryCompaniesView = "delivery_companies:view"
	PermDeliveryCompaniesEdit = "delivery_companies:edit"

	PermPaymentsView   = "payments:view"
	PermPaymentsRefund = "payments:refund"

	PermRolesView = "roles:view"
	PermRolesEdit = "roles:edit"

	PermPermissionsView   = "permissions:view"
	PermPermissionsReseed = "permissions:reseed"
)

// CatalogScope describes one permission key for seeding and listings.
type CatalogScope struct {
	Name        string
	Description string
}

// CatalogScopes lists every permission the admin panel checks.
func CatalogScopes() []CatalogScope {
	return []CatalogScope{
		{PermProductsView, "View the product catalog"},
		{PermProductsEdit, "Create and edit products"},
		{PermProductsDelete, "Delete products"},
		{PermVendorsView, "View vendors"},
		{PermVendorsEdit, "Edit vendor profiles"},
		{PermVendorsApprove, "Approve vendor applications"},
		{PermCartsView, "Inspect customer carts"},
		{PermCartsPurge, "Purge abandoned carts"},
		{PermDeliveryCompaniesView, "View delivery companies"},
		{PermDeliveryCompaniesEdit, "Edit delivery companies"},
		{PermPaymentsView, "View payments"},
		{PermPaymentsRefund, "Refund payments"},
		{PermRolesView, "View roles and assignments"},
		{PermRolesEdit, "Edit roles and assignments"},
		{PermPermissionsView, "View the permission catalog"},
		{PermPermissionsReseed, "Reseed the permission catalog"},
	}
}

// CatalogNames returns the permission keys of CatalogScopes.
func CatalogNames() []string {
	scopes := CatalogScopes()
	names := make([]string, 0, len(scopes))
	for _, s := range scopes {
		names = append(names, s.Name)
	}
	return names
}
