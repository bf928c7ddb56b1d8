package rbac

// RolePermissions is the default policy.
var RolePermissions = Policy{
	"student": {
		"exam:view",
		"attempt:start",
		"attempt:answer",
		"attempt:submit",
		"attempt:view-own",
		"semester:view-own",
	},
	"lecturer": {
		"exam:create",
		"exam:view",
		"exam:flags",
		"attempt:view-all",
		"semester:view-all",
	},
	"admin": {
		"*", // everything
	},
}
