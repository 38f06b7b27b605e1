package messaging

import "strings"

// Subjects follow the pattern {domain}.{category}.{qualifier}.
const (
	// SubjectVersionPrefix carries item change events: version.<itemType>.<action>.
	SubjectVersionPrefix = "version"

	// Log categories: log.<category>.<service>.
	SubjectLogAudit   = "log.audit"
	SubjectLogMonitor = "log.monitor"
	SubjectLogError   = "log.error"

	// SubjectLogDLQ parks log events that could not be stored: log.dlq.<reason>.
	SubjectLogDLQ = "log.dlq"

	// SubjectRPCUsersLookup resolves user ids to user records.
	SubjectRPCUsersLookup = "rpc.users.lookup"
)

// Durable consumer names.
const (
	ConsumerVersionWriter = "version-writer"
	ConsumerLogWriter     = "log-writer"
	ConsumerUsersLookup   = "users-lookup"
)

// VersionSubject returns the subject for a change of itemType, e.g. version.ticket.updated.
func VersionSubject(itemType, action string) string {
	return SubjectVersionPrefix + "." + token(itemType) + "." + token(action)
}

// LogSubject returns the subject for a log category published by service, e.g. log.audit.versioning.
// The "info" entry type travels on the monitor category.
func LogSubject(entryType, service string) string {
	switch entryType {
	case "audit":
		return SubjectLogAudit + "." + token(service)
	case "error":
		return SubjectLogError + "." + token(service)
	default:
		return SubjectLogMonitor + "." + token(service)
	}
}

// LogDLQSubject returns the dead-letter subject for reason.
func LogDLQSubject(reason string) string {
	return SubjectLogDLQ + "." + token(reason)
}

// token makes s safe to use as a single subject token.
func token(s string) string {
	if s == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n':
			return '_'
		}
		return r
	}, s)
}

// SubjectMatches reports whether subject matches pattern, where "*" matches exactly one
// token and a trailing ">" matches one or more tokens.
func SubjectMatches(pattern, subject string) bool {
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")
	for i, p := range pt {
		if p == ">" {
			return i == len(pt)-1 && len(st) > i
		}
		if i >= len(st) {
			return false
		}
		if p != "*" && p != st[i] {
			return false
		}
	}
	return len(pt) == len(st)
}

// MatchesAny reports whether subject matches at least one of patterns.
func MatchesAny(patterns []string, subject string) bool {
	for _, p := range patterns {
		if SubjectMatches(p, subject) {
			return true
		}
	}
	return false
}
