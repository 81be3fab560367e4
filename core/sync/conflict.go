// Package sync holds the optimistic-concurrency rules shared by the letter
// editor in the browser and the server's update path.
package sync

// CheckConflict compares the ETag a draft was based on with the letter's
// current ETag. Returns true if they differ.
func CheckConflict(baseEtag, currentEtag string) bool {
	return baseEtag != currentEtag
}

// IfMatch reports whether an update carrying the If-Match value ifMatch may
// be applied to a letter whose ETag is current. An empty If-Match is an
// unconditional write.
func IfMatch(ifMatch, current string) bool {
	if ifMatch == "" || ifMatch == "*" {
		return true
	}
	return !CheckConflict(ifMatch, current)
}
