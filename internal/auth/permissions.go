package auth

const (
	ActionManage = "manage"
	ActionCreate = "create"
	ActionRead   = "read"
	ActionUpdate = "update"
	ActionDelete = "delete"
	ActionAccess = "access"
	ActionView   = "view"

	ResourceUsers = "users"
	ResourceRoles = "roles"
	ResourceTasks = "tasks"
)

// Default role names.
const (
	RoleEmployee = "employee"
	RoleHR       = "hr"
	RoleManager  = "manager"
	RoleUser     = "user"
	RoleCustomer = "customer"
)

var crudResources = []string{
	"users", "roles", "attendance", "customers", "hr",
	"generator_management", "site_management", "inventory", "tasks", "alerts",
}

// BuiltinPermissions is the default permission catalog. Each CRUD resource gets a
// "<resource>:manage" bundle plus one code per verb.
var BuiltinPermissions = buildCatalog()

func buildCatalog() []Permission {
	perms := []Permission{
		{Code: "dashboard:read", Name: "Read Dashboard", Resource: "dashboard", Actions: []string{ActionRead}},
	}
	for _, res := range crudResources {
		perms = append(perms, Permission{
			Code:        res + ":" + ActionManage,
			Name:        "Manage " + res,
			Resource:    res,
			Actions:     []string{ActionManage, ActionCreate, ActionRead, ActionUpdate, ActionDelete},
			Description: "Full CRUD for " + res,
		})
		for _, verb := range []string{ActionCreate, ActionRead, ActionUpdate, ActionDelete} {
			perms = append(perms, Permission{
				Code:     res + ":" + verb,
				Name:     verb + " " + res,
				Resource: res,
				Actions:  []string{verb},
			})
		}
	}
	perms = append(perms,
		Permission{Code: "tasks:access", Name: "Access Tasks", Resource: "tasks", Actions: []string{ActionAccess}},
		Permission{Code: "support:access", Name: "Support Tickets", Resource: "support", Actions: []string{ActionAccess}},
		Permission{Code: "invoices:access", Name: "Invoices", Resource: "invoices", Actions: []string{ActionAccess}},
		Permission{Code: "global_reports:view", Name: "View Global Reports", Resource: "reports", Actions: []string{ActionView}},
		Permission{Code: "admin:manage", Name: "Manage Admin Settings", Resource: "admin", Actions: []string{ActionManage}},
	)
	return perms
}

// BuiltinRole describes a default role and its permission codes.
type BuiltinRole struct {
	Name        string
	Description string
	Permissions []string
}

// BuiltinRoles are seeded at bootstrap in this order.
var BuiltinRoles = []BuiltinRole{
	{
		Name:        RoleAdmin,
		Description: "System administrator with full access to all features",
		Permissions: []string{
			"dashboard:read", "generator_management:manage", "site_management:manage", "alerts:read",
			"customers:manage", "users:manage", "roles:create", "roles:read", "roles:update", "roles:delete",
			"inventory:manage", "admin:manage", "hr:manage", "tasks:manage", "attendance:manage", "attendance:read",
		},
	},
	{
		Name:        RoleEmployee,
		Description: "Staff member",
		Permissions: []string{"dashboard:read", "attendance:read", "attendance:create", "tasks:read", "tasks:create"},
	},
	{
		Name:        RoleHR,
		Description: "Human resources",
		Permissions: []string{
			"dashboard:read", "users:create", "users:read", "users:update", "users:delete",
			"roles:create", "roles:read", "roles:update", "roles:delete",
			"hr:manage", "hr:create", "hr:read", "hr:update", "hr:delete", "tasks:access",
		},
	},
	{
		Name:        RoleManager,
		Description: "Line manager",
		Permissions: []string{"dashboard:read", "users:read", "tasks:manage", "attendance:read", "hr:read"},
	},
	{
		Name:        RoleUser,
		Description: "Basic user with limited access",
		Permissions: []string{
			"dashboard:read", "attendance:read", "attendance:create", "attendance:update",
			"tasks:manage", "tasks:read", "tasks:create", "tasks:update", "tasks:delete",
		},
	},
	{
		Name:        RoleCustomer,
		Description: "Customer portal account",
		Permissions: []string{"dashboard:read", "support:access"},
	},
}
