package store

// Table names.
const (
	TableProfiles       = "profiles"
	TableProjects       = "projects"
	TableOffers         = "offers"
	TableChats          = "chats"
	TableReports        = "reports"
	TableSettings       = "settings"
	TableSecurityEvents = "security_events"
)
