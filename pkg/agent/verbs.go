package agent

// Verb is one member of the closed command surface the agent accepts.
type Verb string

const (
	VerbSiteCreate  Verb = "site:create"
	VerbSiteDelete  Verb = "site:delete"
	VerbSiteEnable  Verb = "site:enable"
	VerbSiteDisable Verb = "site:disable"
	VerbSiteList    Verb = "site:list"
	VerbSiteInfo    Verb = "site:info"

	VerbSSLIssue  Verb = "ssl:issue"
	VerbSSLRenew  Verb = "ssl:renew"
	VerbSSLStatus Verb = "ssl:status"

	VerbBackupCreate  Verb = "backup:create"
	VerbBackupList    Verb = "backup:list"
	VerbBackupRestore Verb = "backup:restore"

	VerbDatabaseExport   Verb = "database:export"
	VerbDatabaseOptimize Verb = "database:optimize"

	VerbMonitorHealth    Verb = "monitor:health"
	VerbMonitorStats     Verb = "monitor:stats"
	VerbMonitorDashboard Verb = "monitor:dashboard"

	VerbCacheClear    Verb = "cache:clear"
	VerbSecurityAudit Verb = "security:audit"

	VerbVersion Verb = "--version"
)

var allVerbs = []Verb{
	VerbSiteCreate, VerbSiteDelete, VerbSiteEnable, VerbSiteDisable,
	VerbSiteList, VerbSiteInfo,
	VerbSSLIssue, VerbSSLRenew, VerbSSLStatus,
	VerbBackupCreate, VerbBackupList, VerbBackupRestore,
	VerbDatabaseExport, VerbDatabaseOptimize,
	VerbMonitorHealth, VerbMonitorStats, VerbMonitorDashboard,
	VerbCacheClear, VerbSecurityAudit,
	VerbVersion,
}

// ParseVerb maps a raw argument onto the verb set.
func ParseVerb(s string) (Verb, bool) {
	for _, v := range allVerbs {
		if string(v) == s {
			return v, true
		}
	}
	return "", false
}
