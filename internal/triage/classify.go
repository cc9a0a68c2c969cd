package triage

// classifyFinding maps a terminal finding status to the blocker it
// contributes (if any) and whether it counts as a "stored, confirmed"
// positive (spec §4.2 "Status classification" / §3 Per-candidate summary
// mapping).
func classifyFinding(status FindingStatus) (blocker string, warning string, confirmsPositive bool) {
	switch status {
	case StatusRARStored, StatusSevenZipStored, StatusSegmentOK:
		return "", "", true
	case StatusRARCompressed, StatusRAREncrypted, StatusRARSolid,
		StatusRAR5Unsupported, StatusSevenZipUnsupported:
		return string(status), "", false
	case StatusStatMissing, StatusBodyMissing, StatusSegmentMissing:
		return BlockerMissingArticles, "", false
	default:
		return "", string(status), false
	}
}
