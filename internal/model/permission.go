package model

// Permission represents a string code for a specific system action.
type Permission string

const (
	// PermissionTestsRead allows viewing tests and their attempt results.
	PermissionTestsRead Permission = "tests:read"

	// PermissionTestsMonitor allows watching the live monitor of a test.
	PermissionTestsMonitor Permission = "tests:monitor"

	// PermissionTestsPublish allows publishing tests and rebuilding their cache.
	PermissionTestsPublish Permission = "tests:publish"

	// PermissionAttemptsRead allows reviewing submitted attempts.
	PermissionAttemptsRead Permission = "attempts:read"

	// PermissionSessionsManage allows issuing and resetting student sessions.
	PermissionSessionsManage Permission = "sessions:manage"
)

// AllPermissions is a slice of all available permissions.
var AllPermissions = []Permission{
	PermissionTestsRead,
	PermissionTestsMonitor,
	PermissionTestsPublish,
	PermissionAttemptsRead,
	PermissionSessionsManage,
}
