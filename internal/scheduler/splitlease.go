package scheduler

import "strings"

// splitLeaseMember разбирает "org|job" обратно на составляющие.
// job_id — UUID и '|' не содержит, поэтому режем по первому разделителю.
func splitLeaseMember(member string) (orgID, jobID string, ok bool) {
	return strings.Cut(member, "|")
}
